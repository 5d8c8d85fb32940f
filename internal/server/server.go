// Package server exposes the pipeline over HTTP. Handlers are thin: they
// authenticate, call the engine and translate engine errors into the API
// error envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"laneguard/internal/domain"
	"laneguard/internal/engine"
	"laneguard/internal/gate"
	"laneguard/internal/index"
	"laneguard/internal/schema"
	"laneguard/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Index    *index.Index
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_approval"`
	Message string         `json:"message" example:"approval pinned to a superseded bundle"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Laneguard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Laneguard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWork(group, cfg.Engine, cfg.Index)
	registerRouting(group, cfg.Engine)
	registerBundle(group, cfg.Engine)
	registerApplyApproval(group, cfg.Engine)
	registerCI(group, cfg.Engine)
	registerMergeApproval(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerPolicy(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine and gate failures onto the taxonomy codes the
// envelope carries.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *gate.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, schema.CodeInvalidFormat, err.Error(), map[string]any{"issues": ve.Issues})
	}
	var ce *gate.CoverageError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "qa_obligations_missing", err.Error(), map[string]any{"missing": ce.Missing})
	}
	var iss *schema.Issues
	if errors.As(err, &iss) {
		return newAPIError(http.StatusUnprocessableEntity, iss.Code, err.Error(), map[string]any{"path": iss.Path, "problems": iss.Problems})
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrLocked):
		return newAPIError(http.StatusConflict, "locked", err.Error(), nil)
	case errors.Is(err, gate.ErrStaleApproval):
		return newAPIError(http.StatusConflict, schema.CodeStaleApproval, err.Error(), nil)
	case errors.Is(err, gate.ErrPrecondition):
		return newAPIError(http.StatusConflict, schema.CodePreconditionFailure, err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "cannot") && strings.Contains(lowered, "stage"):
		return newAPIError(http.StatusConflict, schema.CodePreconditionFailure, msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Laneguard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type workPath struct {
	WorkID string `path:"work_id"`
}

func registerWork(api huma.API, e engine.Engine, ix *index.Index) {
	huma.Register(api, huma.Operation{
		OperationID:   "intake-work",
		Method:        http.MethodPost,
		Path:          "/work",
		Summary:       "Create a work item",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID           string   `json:"id,omitempty"`
			RawIntakeID  string   `json:"raw_intake_id,omitempty"`
			Title        string   `json:"title" minLength:"1"`
			Kind         string   `json:"kind,omitempty"`
			TeamID       string   `json:"team_id,omitempty"`
			RepoScopes   []string `json:"repo_scopes,omitempty"`
			TargetBranch string   `json:"target_branch,omitempty"`
			DependsOn    []string `json:"depends_on,omitempty"`
		}
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.Intake(ctx, engine.IntakeOptions{
			ID:           input.Body.ID,
			RawIntakeID:  input.Body.RawIntakeID,
			Title:        input.Body.Title,
			Kind:         input.Body.Kind,
			TeamID:       input.Body.TeamID,
			RepoScopes:   input.Body.RepoScopes,
			TargetBranch: input.Body.TargetBranch,
			DependsOn:    input.Body.DependsOn,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work",
		Method:      http.MethodGet,
		Path:        "/work",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Stage  string `query:"stage"`
		TeamID string `query:"team_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []index.Row `json:"body"`
	}, error) {
		var rows []index.Row
		if ix != nil {
			var err error
			rows, err = ix.List(index.ListOptions{Stage: input.Stage, TeamID: input.TeamID, Limit: input.Limit})
			if err != nil {
				return nil, handleError(err)
			}
		} else {
			ids, err := e.Store.ListWorkItems()
			if err != nil {
				return nil, handleError(err)
			}
			for _, id := range ids {
				st, err := e.Store.GetStatus(id)
				if err != nil {
					continue
				}
				if input.Stage != "" && st.Stage != input.Stage {
					continue
				}
				rows = append(rows, index.Row{
					WorkID:         st.WorkID,
					Stage:          st.Stage,
					BlockingReason: st.BlockingReason,
					HighestRisk:    st.HighestRisk,
					BundleHash:     st.BundleHash,
					PRNumber:       st.PRNumber,
					UpdatedAt:      st.UpdatedAt,
				})
			}
		}
		return &struct {
			Body []index.Row `json:"body"`
		}{Body: rows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}",
		Summary:     "Get a work item",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body struct {
			Meta   domain.WorkItem       `json:"meta"`
			Status domain.StatusSnapshot `json:"status"`
		} `json:"body"`
	}, error) {
		meta, err := e.Store.GetMeta(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.Store.GetStatus(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Meta   domain.WorkItem       `json:"meta"`
				Status domain.StatusSnapshot `json:"status"`
			} `json:"body"`
		}{}
		out.Body.Meta = meta
		out.Body.Status = st
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-history",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}/history",
		Summary:     "Stage history of a work item",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body []domain.StatusSnapshot `json:"body"`
	}, error) {
		hist, err := e.Store.GetStatusHistory(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusSnapshot `json:"body"`
		}{Body: hist}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/escalate",
		Summary:     "Escalate a work item to a human",
	}, func(ctx context.Context, input *struct {
		workPath
		Body struct {
			Reason string `json:"reason" minLength:"1"`
		}
	}) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Escalate(ctx, input.WorkID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-patch-planned",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/plan",
		Summary:     "Verify per-repo plans and mark the item patch-planned",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.MarkPatchPlanned(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "merge-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/merge",
		Summary:     "Record the externally executed merge",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Merge(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})
}

func registerRouting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "route-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/routing",
		Summary:     "Record the routing decision",
	}, func(ctx context.Context, input *struct {
		workPath
		Body domain.Routing
	}) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Route(ctx, input.WorkID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-routing",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/routing/confirm",
		Summary:     "Confirm a blocked routing decision",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.ConfirmRouting(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})
}

func registerBundle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "build-bundle",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/bundle",
		Summary:     "Assemble the content-addressed bundle",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.Bundle `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.BuildBundle(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bundle `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bundle",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}/bundle",
		Summary:     "Get the current bundle",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.Bundle `json:"body"`
	}, error) {
		b, err := e.Store.GetBundle(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bundle `json:"body"`
		}{Body: b}, nil
	})
}

type decisionBody struct {
	Body struct {
		Approve bool `json:"approve"`
	}
}

func registerApplyApproval(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "request-apply-approval",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/approvals/apply",
		Summary:     "Run the pre-apply gate",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.ApplyApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RequestApplyApproval(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApplyApproval `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-apply-approval",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/approvals/apply/decision",
		Summary:     "Decide a pending apply approval",
	}, func(ctx context.Context, input *struct {
		workPath
		decisionBody
	}) (*struct {
		Body domain.ApplyApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.DecideApplyApproval(ctx, input.WorkID, input.Body.Approve, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApplyApproval `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/apply",
		Summary:     "Open the PR for an approved bundle",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Apply(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})
}

func registerCI(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "poll-ci",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/ci/poll",
		Summary:     "Fetch CI status and advance the item",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.StatusSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.PollCI(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatusSnapshot `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ci",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}/ci",
		Summary:     "Last recorded CI snapshot",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.CIStatus `json:"body"`
	}, error) {
		ci, err := e.Store.GetCIStatus(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CIStatus `json:"body"`
		}{Body: ci}, nil
	})
}

func registerMergeApproval(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "request-merge-approval",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/approvals/merge",
		Summary:     "Run the pre-merge gate",
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.MergeApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RequestMergeApproval(ctx, input.WorkID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MergeApproval `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-merge-approval",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/approvals/merge/decision",
		Summary:     "Decide a pending merge approval",
	}, func(ctx context.Context, input *struct {
		workPath
		decisionBody
	}) (*struct {
		Body domain.MergeApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.DecideMergeApproval(ctx, input.WorkID, input.Body.Approve, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MergeApproval `json:"body"`
		}{Body: a}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decisions-queue",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "Items blocked on a human decision",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.DecisionItem `json:"body"`
	}, error) {
		items, err := e.DecisionsQueue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.DecisionItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-waiver-decisions",
		Method:      http.MethodGet,
		Path:        "/waivers",
		Summary:     "QA waiver decisions awaiting ratification",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WaiverDecision `json:"body"`
	}, error) {
		ds, err := e.Ledger.WaiverDecisions()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WaiverDecision `json:"body"`
		}{Body: ds}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ratify-waiver",
		Method:      http.MethodPost,
		Path:        "/waivers/{decision_id}/decision",
		Summary:     "Ratify or reject a QA waiver",
	}, func(ctx context.Context, input *struct {
		DecisionID string `path:"decision_id"`
		Body       struct {
			Ratify bool `json:"ratify"`
		}
	}) (*struct {
		Body domain.WaiverDecision `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RatifyWaiver(ctx, input.DecisionID, actorID, input.Body.Ratify)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WaiverDecision `json:"body"`
		}{Body: d}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ledger-tail",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}/ledger",
		Summary:     "Tail of the work item's audit ledger",
	}, func(ctx context.Context, input *struct {
		workPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.LedgerEntry `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		entries, err := e.Ledger.Tail(input.WorkID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LedgerEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerPolicy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-policy",
		Method:      http.MethodGet,
		Path:        "/policy/resolve",
		Summary:     "Dry-run policy resolution for a repo descriptor",
	}, func(ctx context.Context, input *struct {
		RepoID string `query:"repo_id" required:"true"`
		TeamID string `query:"team_id"`
		Kind   string `query:"kind"`
	}) (*struct {
		Body struct {
			Applied   []string       `json:"applied"`
			Effective map[string]any `json:"effective"`
		} `json:"body"`
	}, error) {
		repo := domain.RepoDescriptor{"repo_id": input.RepoID}
		if input.TeamID != "" {
			repo["team_id"] = input.TeamID
		}
		if input.Kind != "" {
			repo["kind"] = input.Kind
		}
		eff, applied := e.Policies.Resolve(repo)
		out := &struct {
			Body struct {
				Applied   []string       `json:"applied"`
				Effective map[string]any `json:"effective"`
			} `json:"body"`
		}{}
		out.Body.Applied = applied
		out.Body.Effective = map[string]any(eff)
		return out, nil
	})
}
