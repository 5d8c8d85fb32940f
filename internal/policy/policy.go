// Package policy loads policy documents and resolves the effective policy
// for a repository descriptor.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"laneguard/internal/domain"
)

// Selector applies named blocks when all match attributes equal the repo
// descriptor's. A key missing from the descriptor means no match.
type Selector struct {
	Match map[string]string `yaml:"match" json:"match"`
	Apply []string          `yaml:"apply" json:"apply"`
}

// Document is a named policy document: selectors, named blocks and optional
// per-repo overrides.
type Document struct {
	Selectors []Selector                `yaml:"selectors" json:"selectors"`
	Named     map[string]map[string]any `yaml:"named" json:"named"`
	Repos     map[string]map[string]any `yaml:"repos,omitempty" json:"repos,omitempty"`
}

// Load reads policies.yml from the policy root.
func Load(policyRoot string) (*Document, error) {
	path := filepath.Join(policyRoot, "policies.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("policy document %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a policy document.
func FromYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid policy yaml: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks every selector references a defined named block.
func (d *Document) Validate() error {
	for i, sel := range d.Selectors {
		if len(sel.Match) == 0 {
			return fmt.Errorf("selectors[%d].match is required", i)
		}
		if len(sel.Apply) == 0 {
			return fmt.Errorf("selectors[%d].apply is required", i)
		}
		for _, name := range sel.Apply {
			if _, ok := d.Named[name]; !ok {
				return fmt.Errorf("selectors[%d] applies unknown block %q", i, name)
			}
		}
	}
	return nil
}

// Resolve merges every matching selector's named blocks in selector order,
// then the repo's own override last. The override wins over everything: the
// ordering lets broad policy apply uniformly while allowing narrow,
// auditable per-repo exceptions.
func (d *Document) Resolve(repo domain.RepoDescriptor) (Effective, []string) {
	merged := map[string]any{}
	var applied []string
	for _, sel := range d.Selectors {
		if !matches(sel.Match, repo) {
			continue
		}
		for _, name := range sel.Apply {
			deepMerge(merged, d.Named[name])
			applied = append(applied, name)
		}
	}
	if repoID, ok := repo["repo_id"]; ok {
		if override, ok := d.Repos[repoID]; ok {
			deepMerge(merged, override)
			applied = append(applied, "repo:"+repoID)
		}
	}
	return Effective(merged), applied
}

func matches(match map[string]string, repo domain.RepoDescriptor) bool {
	for k, want := range match {
		got, ok := repo[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// deepMerge merges src into dst: object keys merge recursively, arrays are
// replaced wholesale, scalars replace.
func deepMerge(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := toStringMap(sv); ok {
			if dm, ok := toStringMap(dst[k]); ok {
				merged := map[string]any{}
				deepMerge(merged, dm)
				deepMerge(merged, sm)
				dst[k] = merged
				continue
			}
			copied := map[string]any{}
			deepMerge(copied, sm)
			dst[k] = copied
			continue
		}
		dst[k] = sv
	}
}

// toStringMap normalizes YAML/JSON decoded maps to map[string]any.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
