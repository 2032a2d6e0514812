// Package server exposes the workflow over HTTP. Handlers authenticate the
// caller, build an actor request envelope, and invoke the owning actor
// through the host; all domain decisions happen inside the actors.
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
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cseflow/internal/actor"
	"cseflow/internal/app"
	"cseflow/internal/domain"
	"cseflow/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid status transition draft -> approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the cseflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	hcfg := huma.DefaultConfig("CSE Flow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerForms(group, cfg.App)
	registerReviews(group, cfg.App)
	registerIndex(group, cfg.App)
	registerAuthority(group, cfg.App)
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

// handleError maps the domain error taxonomy to HTTP by exact kind;
// anything unmatched collapses to a detail-free 500.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	var nfe *workflow.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ae *workflow.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var te *workflow.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadRequest, "invalid_transition", err.Error(), map[string]any{
			"from": te.From,
			"to":   te.To,
		})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// tenantGate rejects cross-client access for every role except the
// authority reviewer.
func tenantGate(u domain.User, clientID string) huma.StatusError {
	if u.ClientID != clientID && u.Role != domain.RoleAuthorityReviewer {
		return newAPIError(http.StatusForbidden, "forbidden", "form belongs to another client", nil)
	}
	return nil
}

func invokeForm(ctx context.Context, a *app.App, clientID, method, p string, body any, user domain.User) (*domain.Form, huma.StatusError) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, handleError(err)
		}
		raw = data
	}
	res, err := a.InvokeForm(ctx, clientID, actor.Request{
		Method: method,
		Path:   p,
		Body:   raw,
		User:   user,
	})
	if err != nil {
		return nil, handleError(err)
	}
	f, ok := res.(*domain.Form)
	if !ok {
		return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	return f, nil
}

// getOrInitForm mirrors the boundary contract: creators get a lazily
// initialized form, reviewers see not-found until one exists.
func getOrInitForm(ctx context.Context, a *app.App, clientID string, user domain.User) (*domain.Form, huma.StatusError) {
	if user.Role == domain.RoleCreator {
		return invokeForm(ctx, a, clientID, "POST", "/initialize", nil, user)
	}
	return invokeForm(ctx, a, clientID, "GET", "/form", nil, user)
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

func registerForms(api huma.API, a *app.App) {
	type clientPath struct {
		ClientID string `path:"client_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-form",
		Method:      http.MethodGet,
		Path:        "/forms/{client_id}",
		Summary:     "Get form",
		Description: "Returns the client's form, creating a draft on first access by its creator.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*formOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := tenantGate(user, input.ClientID); err != nil {
			return nil, err
		}
		f, err := getOrInitForm(ctx, a, input.ClientID, user)
		if err != nil {
			return nil, err
		}
		return &formOutput{Body: *f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-step",
		Method:      http.MethodPost,
		Path:        "/forms/{client_id}/steps/{step_id}",
		Summary:     "Update step",
		Description: "Merges data into the step payload subject to the role and status gates.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		StepID   string `path:"step_id"`
		Body     UpdateStepRequest
	}) (*formOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := tenantGate(user, input.ClientID); err != nil {
			return nil, err
		}
		f, err := invokeForm(ctx, a, input.ClientID, "POST", "/steps/"+input.StepID, input.Body, user)
		if err != nil {
			return nil, err
		}
		return &formOutput{Body: *f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-comment",
		Method:      http.MethodPost,
		Path:        "/forms/{client_id}/steps/{step_id}/comments",
		Summary:     "Add step comment",
		DefaultStatus: http.StatusCreated,
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		StepID   string `path:"step_id"`
		Body     CommentRequest
	}) (*formOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := tenantGate(user, input.ClientID); err != nil {
			return nil, err
		}
		f, err := invokeForm(ctx, a, input.ClientID, "POST", "/steps/"+input.StepID+"/comments", input.Body, user)
		if err != nil {
			return nil, err
		}
		return &formOutput{Body: *f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-form",
		Method:      http.MethodPost,
		Path:        "/forms/{client_id}/submit",
		Summary:     "Submit for internal review",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *clientPath) (*formOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := tenantGate(user, input.ClientID); err != nil {
			return nil, err
		}
		f, err := invokeForm(ctx, a, input.ClientID, "POST", "/submit", nil, user)
		if err != nil {
			return nil, err
		}
		return &formOutput{Body: *f}, nil
	})
}

func registerReviews(api huma.API, a *app.App) {
	type clientPath struct {
		ClientID string `path:"client_id"`
	}

	transition := func(opID, route, actorPath, summary string) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        route,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *clientPath) (*formOutput, error) {
			user, authErr := requireUser(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := tenantGate(user, input.ClientID); err != nil {
				return nil, err
			}
			f, err := invokeForm(ctx, a, input.ClientID, "POST", actorPath, nil, user)
			if err != nil {
				return nil, err
			}
			return &formOutput{Body: *f}, nil
		})
	}
	transition("internal-approve", "/forms/{client_id}/internal-review/approve", "/internal-review/approve", "Pass internal review")
	transition("authority-approve", "/forms/{client_id}/authority-review/approve", "/authority-review/approve", "Approve form")

	corrections := func(opID, route, actorPath, summary string) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        route,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ClientID string `path:"client_id"`
			Body     RequestCorrectionsRequest
		}) (*formOutput, error) {
			user, authErr := requireUser(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := tenantGate(user, input.ClientID); err != nil {
				return nil, err
			}
			f, err := invokeForm(ctx, a, input.ClientID, "POST", actorPath, input.Body, user)
			if err != nil {
				return nil, err
			}
			return &formOutput{Body: *f}, nil
		})
	}
	corrections("internal-request-corrections", "/forms/{client_id}/internal-review/request-corrections",
		"/internal-review/request-corrections", "Request corrections (internal)")
	corrections("authority-request-corrections", "/forms/{client_id}/authority-review/request-corrections",
		"/authority-review/request-corrections", "Request corrections (authority)")
}

func registerIndex(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "forms-by-status",
		Method:      http.MethodGet,
		Path:        "/index/forms-by-status",
		Summary:     "List forms by status",
		Description: "Queries the eventually-consistent index. Entries may lag the authoritative form.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" required:"true"`
	}) (*indexListOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := listByStatus(ctx, a, domain.FormStatus(input.Status), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &indexListOutput{Body: entries}, nil
	})
}

// listByStatus queries the index and trims the result to the caller's
// tenant unless the caller is the authority reviewer.
func listByStatus(ctx context.Context, a *app.App, status domain.FormStatus, user domain.User) ([]domain.IndexEntry, error) {
	res, err := a.InvokeIndex(ctx, actor.Request{
		Method: "GET",
		Path:   "/index/forms-by-status",
		Params: actor.Params{"status": string(status)},
		User:   user,
	})
	if err != nil {
		return nil, err
	}
	entries, ok := res.([]domain.IndexEntry)
	if !ok {
		return nil, fmt.Errorf("unexpected index response %T", res)
	}
	if user.Role == domain.RoleAuthorityReviewer {
		return entries, nil
	}
	visible := []domain.IndexEntry{}
	for _, e := range entries {
		if e.ClientID == user.ClientID {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

func registerAuthority(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "authority-pending-reviews",
		Method:      http.MethodGet,
		Path:        "/authority/pending-reviews",
		Summary:     "List forms awaiting authority review",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*indexListOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if user.Role != domain.RoleAuthorityReviewer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "authority reviewer role required", nil)
		}
		entries, err := listByStatus(ctx, a, domain.StatusPendingAuthorityReview, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &indexListOutput{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "authority-get-form",
		Method:      http.MethodGet,
		Path:        "/authority/forms/{client_id}",
		Summary:     "Read any client's form",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*formOutput, error) {
		user, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if user.Role != domain.RoleAuthorityReviewer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "authority reviewer role required", nil)
		}
		f, err := invokeForm(ctx, a, input.ClientID, "GET", "/form", nil, user)
		if err != nil {
			return nil, err
		}
		return &formOutput{Body: *f}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
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
    <title>CSE Flow API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
