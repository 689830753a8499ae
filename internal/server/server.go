// Package server exposes the transit engine over HTTP. Authorization
// gate predicates are re-evaluated by the engine inside each write
// transaction; the permissions endpoint exists for advisory UI gating
// only.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/DevanaGroup/titanium/internal/engine"
	"github.com/DevanaGroup/titanium/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"step was resolved by another user"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Titanium transit API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Titanium Transit API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerTransit(group, cfg.Engine)
	registerCredentials(group, cfg.Engine)
	registerCollaborators(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)

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
	case http.StatusConflict:
		return "conflict"
	case http.StatusPreconditionFailed:
		return "precondition_failed"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	default:
		return "internal_error"
	}
}

// handleError maps the engine taxonomy onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidCredential):
		return newAPIError(http.StatusForbidden, "invalid_credential", err.Error(), nil)
	case errors.Is(err, engine.ErrNoCredential):
		return newAPIError(http.StatusPreconditionFailed, "no_credential", err.Error(), nil)
	case errors.Is(err, engine.ErrWeakPassphrase):
		return newAPIError(http.StatusBadRequest, "weak_passphrase", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidRecipient):
		return newAPIError(http.StatusBadRequest, "invalid_recipient", err.Error(), nil)
	case errors.Is(err, engine.ErrEmptyReason):
		return newAPIError(http.StatusBadRequest, "empty_reason", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "already_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrNoAssignee):
		return newAPIError(http.StatusUnprocessableEntity, "no_assignee", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		t, err := e.CreateTask(ctx, session, engine.TaskCreateOptions{
			ID:          strOrEmpty(input.Body.ID),
			Title:       input.Body.Title,
			Description: strOrEmpty(input.Body.Description),
			AssigneeUID: strOrEmpty(input.Body.AssigneeUID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/assignee",
		Summary:     "Assign task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		t, err := e.AssignTask(ctx, session, input.TaskID, input.Body.AssigneeUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})
}

func registerTransit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "initialize-process",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/process",
		Summary:       "Initialize transit process",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		p, err := e.InitializeProcess(ctx, session, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/process",
		Summary:     "Get transit ledger",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		// Lazy initialization on first read of an assigned task.
		p, err := e.EnsureProcess(ctx, session, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-metrics",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/process/metrics",
		Summary:     "Transit timing metrics",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body MetricsResponse `json:"body"`
	}, error) {
		m, err := e.Metrics(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MetricsResponse `json:"body"`
		}{Body: MetricsResponse{Metrics: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-permissions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/process/permissions",
		Summary:     "Transit permissions for the caller",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body PermissionsResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		perms, err := e.ProcessPermissions(ctx, session, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermissionsResponse `json:"body"`
		}{Body: PermissionsResponse{Permissions: perms}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forward-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/process/forward",
		Summary:     "Forward task to a new holder",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   ForwardRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		files, err := decodeUploads(input.Body.Attachments)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		p, err := e.Forward(ctx, session, engine.ForwardOptions{
			TaskID:      input.TaskID,
			ToUserID:    input.Body.ToUserID,
			ToUserName:  strOrEmpty(input.Body.ToUserName),
			ToUserEmail: strOrEmpty(input.Body.ToUserEmail),
			Notes:       strOrEmpty(input.Body.Notes),
			RichNotes:   strOrEmpty(input.Body.RichNotes),
			Files:       files,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/process/sign",
		Summary:     "Accept a forwarded task with a signature",
		Errors:      []int{http.StatusForbidden, http.StatusPreconditionFailed, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   SignRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		files, err := decodeUploads(input.Body.Attachments)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		p, err := e.Sign(ctx, session, engine.SignOptions{
			TaskID:     input.TaskID,
			Passphrase: input.Body.Passphrase,
			Notes:      strOrEmpty(input.Body.Notes),
			RichNotes:  strOrEmpty(input.Body.RichNotes),
			Files:      files,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/process/reject",
		Summary:     "Reject a forwarded task with justification",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   RejectRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		files, err := decodeUploads(input.Body.Attachments)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		p, err := e.Reject(ctx, session, engine.RejectOptions{
			TaskID:     input.TaskID,
			Reason:     input.Body.Reason,
			RichReason: strOrEmpty(input.Body.RichReason),
			Files:      files,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})
}

func registerCredentials(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "register-credential",
		Method:      http.MethodPut,
		Path:        "/credentials",
		Summary:     "Register signature passphrase",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RegisterCredentialRequest `json:"body"`
	}) (*struct {
		Body CredentialStatusResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		if err := e.RegisterCredential(ctx, session, input.Body.Passphrase); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CredentialStatusResponse `json:"body"`
		}{Body: CredentialStatusResponse{Registered: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "credential-status",
		Method:      http.MethodGet,
		Path:        "/credentials",
		Summary:     "Signature passphrase status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CredentialStatusResponse `json:"body"`
	}, error) {
		session, serr := sessionFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		has, err := e.HasCredential(ctx, session.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CredentialStatusResponse `json:"body"`
		}{Body: CredentialStatusResponse{Registered: has}}, nil
	})
}

func registerCollaborators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-collaborators",
		Method:      http.MethodGet,
		Path:        "/collaborators",
		Summary:     "List collaborators",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CollaboratorListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCollaborators(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaboratorListResponse `json:"body"`
		}{Body: CollaboratorListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-collaborator",
		Method:      http.MethodPut,
		Path:        "/collaborators/{uid}",
		Summary:     "Create or update collaborator",
	}, func(ctx context.Context, input *struct {
		UID  string                    `path:"uid"`
		Body UpsertCollaboratorRequest `json:"body"`
	}) (*struct {
		Body CollaboratorResponse `json:"body"`
	}, error) {
		if _, serr := sessionFromContext(ctx); serr != nil {
			return nil, serr
		}
		if strings.TrimSpace(input.Body.FirstName) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "first_name is required", nil)
		}
		c := collaboratorFromRequest(input.UID, input.Body)
		if err := e.Repo.UpsertCollaborator(ctx, c); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetCollaborator(ctx, input.UID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollaboratorResponse `json:"body"`
		}{Body: CollaboratorResponse{Collaborator: stored}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit trail tail",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body AuditEventListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAuditEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditEventListResponse `json:"body"`
		}{Body: AuditEventListResponse{Items: items}}, nil
	})
}

// registerDevAuth issues short-lived JWTs for local development.
func registerDevAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev-login",
		Summary:     "Issue a development token for a collaborator",
	}, func(ctx context.Context, input *struct {
		Body struct {
			UID string `json:"uid"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Token string `json:"token"`
		} `json:"body"`
	}, error) {
		if strings.TrimSpace(auth.JWTSecret) == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		c, err := e.Repo.GetCollaborator(ctx, input.Body.UID)
		if err != nil {
			return nil, handleError(err)
		}
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   c.UID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
			},
			Name:           c.FullName(),
			Email:          c.Email,
			HierarchyLevel: c.HierarchyLevel,
		})
		signed, err := token.SignedString([]byte(auth.JWTSecret))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Token string `json:"token"`
			} `json:"body"`
		}{}
		out.Body.Token = signed
		return out, nil
	})
}
