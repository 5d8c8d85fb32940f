package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"laneguard/internal/bundle"
	"laneguard/internal/config"
	"laneguard/internal/domain"
	"laneguard/internal/engine"
	"laneguard/internal/gate"
	"laneguard/internal/index"
	"laneguard/internal/policy"
	"laneguard/internal/server"
	"laneguard/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lg",
	Short: "Laneguard CLI",
	Long: `Laneguard governs code-change work items from intake to merge.
Every artifact is a JSON file under the work root; every decision is pinned
to a content hash and recorded in an append-only ledger. Two gates stand
between a bundle and the default branch: apply approval before a PR is
opened, merge approval after CI is green.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LANEGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding laneguard.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(bundleCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(ciCmd())
	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(waiverCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Engine.WorkRoot)
	if err != nil {
		return err
	}
	policies, err := loadPolicies(cfg.Engine.PolicyRoot)
	if err != nil {
		return err
	}
	e := engine.New(st, policies, cfg)
	return fn(ctx, e)
}

// loadPolicies tolerates an absent policy document; everything then runs
// with defaults.
func loadPolicies(policyRoot string) (*policy.Document, error) {
	doc, err := policy.Load(policyRoot)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return &policy.Document{}, nil
		}
		return nil, err
	}
	return doc, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default laneguard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func workCmd() *cobra.Command {
	work := &cobra.Command{Use: "work", Short: "Manage work items"}
	work.AddCommand(workIntakeCmd())
	work.AddCommand(workListCmd())
	work.AddCommand(workShowCmd())
	work.AddCommand(workHistoryCmd())
	work.AddCommand(workEscalateCmd())
	return work
}

func workIntakeCmd() *cobra.Command {
	var opts engine.IntakeOptions
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				item, err := e.Intake(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "explicit work id (derived when empty)")
	cmd.Flags().StringVar(&opts.RawIntakeID, "raw-intake-id", "", "source intake identifier")
	cmd.Flags().StringVar(&opts.Title, "title", "", "work item title")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "work kind (feature, bugfix, chore)")
	cmd.Flags().StringVar(&opts.TeamID, "team", "", "owning team")
	cmd.Flags().StringSliceVar(&opts.RepoScopes, "repo-scope", nil, "candidate repo scope (repeatable)")
	cmd.Flags().StringVar(&opts.TargetBranch, "branch", "", "target branch")
	cmd.Flags().StringSliceVar(&opts.DependsOn, "depends-on", nil, "work ids this item depends on")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workListCmd() *cobra.Command {
	var stage, team string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			ix, err := index.Open(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			defer ix.Close()
			st, err := store.New(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			if _, err := ix.Rebuild(st); err != nil {
				return err
			}
			rows, err := ix.List(index.ListOptions{Stage: stage, TeamID: team, Limit: limit})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Work ID", "Stage", "Risk", "Blocking", "PR", "Updated"})
			for _, r := range rows {
				pr := ""
				if r.PRNumber > 0 {
					pr = fmt.Sprintf("#%d", r.PRNumber)
				}
				tw.AppendRow(table.Row{r.WorkID, r.Stage, r.HighestRisk, r.BlockingReason, pr, r.UpdatedAt})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	cmd.Flags().StringVar(&team, "team", "", "filter by team")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func workShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <work-id>",
		Short: "Show a work item's meta and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meta, err := e.Store.GetMeta(args[0])
				if err != nil {
					return err
				}
				st, err := e.Store.GetStatus(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"meta": meta, "status": st})
			})
		},
	}
}

func workHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <work-id>",
		Short: "Stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				hist, err := e.Store.GetStatusHistory(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(hist)
			})
		},
	}
}

func workEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <work-id>",
		Short: "Escalate to a human",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Escalate(ctx, args[0], actorID(), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func routeCmd() *cobra.Command {
	route := &cobra.Command{Use: "route", Short: "Routing decisions"}

	var routing domain.Routing
	set := &cobra.Command{
		Use:   "set <work-id>",
		Short: "Record the routing decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Route(ctx, args[0], routing, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	set.Flags().StringSliceVar(&routing.SelectedRepos, "repo", nil, "selected repo (repeatable)")
	set.Flags().StringSliceVar(&routing.SelectedTeams, "team", nil, "selected team (repeatable)")
	set.Flags().StringVar(&routing.TargetBranch, "branch", "main", "target branch")
	set.Flags().Float64Var(&routing.RoutingConfidence, "confidence", 1.0, "routing confidence in [0,1]")
	set.Flags().BoolVar(&routing.NeedsConfirmation, "needs-confirmation", false, "force human confirmation")
	_ = set.MarkFlagRequired("repo")
	route.AddCommand(set)

	route.AddCommand(&cobra.Command{
		Use:   "confirm <work-id>",
		Short: "Confirm a blocked routing decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.ConfirmRouting(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	})
	return route
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Patch plans"}
	plan.AddCommand(&cobra.Command{
		Use:   "mark <work-id>",
		Short: "Verify per-repo plans and mark the item patch-planned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.MarkPatchPlanned(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	})
	return plan
}

func bundleCmd() *cobra.Command {
	bnd := &cobra.Command{Use: "bundle", Short: "Content-addressed bundles"}

	bnd.AddCommand(&cobra.Command{
		Use:   "build <work-id>",
		Short: "Assemble and pin the bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.BuildBundle(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})

	bnd.AddCommand(&cobra.Command{
		Use:   "show <work-id>",
		Short: "Show the current bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Store.GetBundle(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})

	bnd.AddCommand(&cobra.Command{
		Use:   "verify <work-id>",
		Short: "Re-hash every pinned input against the bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Store.GetBundle(args[0])
				if err != nil {
					return err
				}
				builder := bundle.Builder{Store: e.Store, Policies: e.Policies, Now: e.Now}
				if issues := builder.Verify(b); len(issues) > 0 {
					return &gate.ValidationError{Issues: issues}
				}
				fmt.Println("bundle verified:", b.BundleHash)
				return nil
			})
		},
	})
	return bnd
}

func approvalCmd() *cobra.Command {
	appr := &cobra.Command{Use: "approval", Short: "Gate approvals"}
	appr.AddCommand(applyApprovalCmd())
	appr.AddCommand(mergeApprovalCmd())
	return appr
}

func applyApprovalCmd() *cobra.Command {
	apply := &cobra.Command{Use: "apply", Short: "Pre-apply gate"}

	apply.AddCommand(&cobra.Command{
		Use:   "request <work-id>",
		Short: "Run the pre-apply gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RequestApplyApproval(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	apply.AddCommand(decideCmd("approve", "Approve the pending apply approval", true, func(ctx context.Context, e engine.Engine, id string, ok bool) (any, error) {
		return e.DecideApplyApproval(ctx, id, ok, actorID())
	}))
	apply.AddCommand(decideCmd("reject", "Reject the pending apply approval", false, func(ctx context.Context, e engine.Engine, id string, ok bool) (any, error) {
		return e.DecideApplyApproval(ctx, id, ok, actorID())
	}))
	return apply
}

func mergeApprovalCmd() *cobra.Command {
	merge := &cobra.Command{Use: "merge", Short: "Pre-merge gate"}

	merge.AddCommand(&cobra.Command{
		Use:   "request <work-id>",
		Short: "Run the pre-merge gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RequestMergeApproval(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	merge.AddCommand(decideCmd("approve", "Approve the pending merge approval", true, func(ctx context.Context, e engine.Engine, id string, ok bool) (any, error) {
		return e.DecideMergeApproval(ctx, id, ok, actorID())
	}))
	merge.AddCommand(decideCmd("reject", "Reject the pending merge approval", false, func(ctx context.Context, e engine.Engine, id string, ok bool) (any, error) {
		return e.DecideMergeApproval(ctx, id, ok, actorID())
	}))
	return merge
}

func decideCmd(use, short string, approve bool, fn func(context.Context, engine.Engine, string, bool) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <work-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := fn(ctx, e, args[0], approve)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <work-id>",
		Short: "Open the PR for an approved bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Apply(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func ciCmd() *cobra.Command {
	ci := &cobra.Command{Use: "ci", Short: "CI polling"}

	ci.AddCommand(&cobra.Command{
		Use:   "poll <work-id>",
		Short: "Fetch CI status and advance the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.PollCI(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	})

	ci.AddCommand(&cobra.Command{
		Use:   "show <work-id>",
		Short: "Last recorded CI snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.Store.GetCIStatus(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	})
	return ci
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <work-id>",
		Short: "Record the externally executed merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Merge(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func decisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decisions",
		Short: "Items blocked on a human decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.DecisionsQueue(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Work ID", "Stage", "Blocking", "Risk", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.WorkID, d.Stage, d.BlockingReason, d.HighestRisk, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func waiverCmd() *cobra.Command {
	waiver := &cobra.Command{Use: "waiver", Short: "QA waiver decisions"}

	waiver.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List waiver decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ds, err := e.Ledger.WaiverDecisions()
				if err != nil {
					return err
				}
				return printJSONOrTable(ds)
			})
		},
	})

	ratify := func(use, short string, ok bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <decision-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					d, err := e.RatifyWaiver(ctx, args[0], actorID(), ok)
					if err != nil {
						return err
					}
					return printJSONOrTable(d)
				})
			},
		}
	}
	waiver.AddCommand(ratify("ratify", "Ratify a pending waiver", true))
	waiver.AddCommand(ratify("reject", "Reject a pending waiver", false))
	return waiver
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit ledger"}
	var n int
	tail := &cobra.Command{
		Use:   "tail <work-id>",
		Short: "Tail a work item's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Ledger.Tail(args[0], n)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	lg.AddCommand(tail)
	return lg
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Policy resolution"}
	var repoID, teamID, kind string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Dry-run policy resolution for a repo descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				repo := domain.RepoDescriptor{"repo_id": repoID}
				if teamID != "" {
					repo["team_id"] = teamID
				}
				if kind != "" {
					repo["kind"] = kind
				}
				eff, applied := e.Policies.Resolve(repo)
				return printJSONOrTable(map[string]any{
					"applied":   applied,
					"effective": map[string]any(eff),
				})
			})
		},
	}
	resolve.Flags().StringVar(&repoID, "repo-id", "", "repo id")
	resolve.Flags().StringVar(&teamID, "team-id", "", "team id")
	resolve.Flags().StringVar(&kind, "kind", "", "work kind")
	_ = resolve.MarkFlagRequired("repo-id")
	pol.AddCommand(resolve)
	return pol
}

func indexCmd() *cobra.Command {
	ix := &cobra.Command{Use: "index", Short: "Derived listing index"}
	ix.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the SQLite index from the work root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			idx, err := index.Open(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			defer idx.Close()
			st, err := store.New(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			n, err := idx.Rebuild(st)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d work items into %s\n", n, index.Path(cfg.Engine.WorkRoot))
			return nil
		},
	})
	return ix
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			st, err := store.New(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			policies, err := loadPolicies(cfg.Engine.PolicyRoot)
			if err != nil {
				return err
			}
			e := engine.New(st, policies, cfg)
			ix, err := index.Open(cfg.Engine.WorkRoot)
			if err != nil {
				return err
			}
			defer ix.Close()
			if _, err := ix.Rebuild(st); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("LANEGUARD_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("LANEGUARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Index: ix, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Laneguard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}
