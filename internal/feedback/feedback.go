// Package feedback emits change events to the knowledge feedback sink and
// merge-event records for downstream consumers. Both logs are append-only.
package feedback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"laneguard/internal/config"
	"laneguard/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Sink appends events under the work root and fans them out to configured
// HTTP webhooks. Webhook delivery is best-effort; the local append is the
// contract.
type Sink struct {
	Root     string
	Webhooks []config.WebhookConfig
	Client   *http.Client
	Logger   *log.Logger
	Now      func() time.Time
}

func (s Sink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sink) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s Sink) feedbackPath() string {
	return filepath.Join(s.Root, "feedback-events.jsonl")
}

func (s Sink) mergeEventsPath() string {
	return filepath.Join(s.Root, "merge-events.jsonl")
}

// EmitFeedback appends a knowledge feedback event and fans it out.
func (s Sink) EmitFeedback(ev domain.FeedbackEvent) error {
	if ev.Timestamp == "" {
		ev.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if err := appendLine(s.feedbackPath(), ev); err != nil {
		return err
	}
	s.dispatch("feedback."+ev.Type, ev)
	return nil
}

// EmitMerge appends a merge-event record and fans it out.
func (s Sink) EmitMerge(ev domain.MergeEvent) error {
	if ev.MergedAt == "" {
		ev.MergedAt = s.now().UTC().Format(time.RFC3339)
	}
	if err := appendLine(s.mergeEventsPath(), ev); err != nil {
		return err
	}
	s.dispatch("merge", ev)
	return nil
}

// FeedbackEvents returns all emitted feedback events, oldest first.
func (s Sink) FeedbackEvents() ([]domain.FeedbackEvent, error) {
	return readAll[domain.FeedbackEvent](s.feedbackPath())
}

// MergeEvents returns all emitted merge events, oldest first.
func (s Sink) MergeEvents() ([]domain.MergeEvent, error) {
	return readAll[domain.MergeEvent](s.mergeEventsPath())
}

func (s Sink) dispatch(eventType string, payload any) {
	if len(s.Webhooks) == 0 {
		return
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	body, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		return
	}
	for _, wh := range s.Webhooks {
		if !wants(wh.Events, eventType) {
			continue
		}
		resp, err := client.Post(wh.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			s.logger().Printf("webhook %s: %v", wh.URL, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.logger().Printf("webhook %s: status %d", wh.URL, resp.StatusCode)
		}
	}
}

func wants(filter []string, eventType string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == eventType {
			return true
		}
	}
	return false
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}
