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

	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/rewards"
	"tweetproof/internal/spool"
)

// Config for the operator API handler.
type Config struct {
	Spool    spool.Spool
	Ledger   rewards.Ledger
	Metrics  *metrics.Metrics
	Logger   logging.Logger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"spool record not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the spool over the operator API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Spool == nil {
		return nil, errors.New("server: spool is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	cfg.Logger = logging.OrDiscard(cfg.Logger)
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
	hcfg := huma.DefaultConfig("Tweet Proof Operator API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", cfg.Metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerSpool(group, cfg)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, spool.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, rewards.ErrAlreadyDrained) {
		return newAPIError(http.StatusConflict, "already_drained", err.Error(), nil)
	}
	if errors.Is(err, rewards.ErrReplayInProgress) {
		return newAPIError(http.StatusConflict, "replay_in_progress", err.Error(), nil)
	}
	var de *rewards.DeliveryError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadGateway, "replay_failed", err.Error(), map[string]any{"spool_id": de.SpoolID})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

// registerOpenAPI renders the document once, after every operation is
// registered, and serves the same bytes to every request.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	applyAuthSecurity(oas, basePath)
	doc, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("server: render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	return nil
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Tweet Proof Operator API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`, docURL)
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

type spoolPath struct {
	ID string `path:"id" doc:"Spool record id"`
}

func registerSpool(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-spool",
		Method:      http.MethodGet,
		Path:        "/spool",
		Summary:     "List spooled reward payloads",
		Tags:        []string{"Spool"},
	}, func(ctx context.Context, input *struct {
		IncludeDrained bool `query:"include_drained" doc:"Also list delivered records (sqlite backend only)"`
	}) (*SpoolListOutput, error) {
		recs, err := cfg.Spool.List(ctx, spool.ListOptions{IncludeDrained: input.IncludeDrained})
		if err != nil {
			return nil, handleError(err)
		}
		pending := 0
		for _, r := range recs {
			if r.DrainedAt == nil {
				pending++
			}
		}
		cfg.Metrics.SetPending(pending)
		return &SpoolListOutput{Body: SpoolListResponse{Records: toSummaries(recs), Pending: pending}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-spool-record",
		Method:      http.MethodGet,
		Path:        "/spool/{id}",
		Summary:     "Show one spooled reward payload",
		Tags:        []string{"Spool"},
	}, func(ctx context.Context, input *spoolPath) (*SpoolRecordOutput, error) {
		rec, err := cfg.Spool.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := SpoolRecordResponse{SpoolRecord: rec}
		if h, ok := cfg.Spool.(historian); ok {
			history, err := h.History(ctx, rec.ID)
			if err != nil {
				return nil, handleError(err)
			}
			out.History = history
		}
		return &SpoolRecordOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replay-spool-record",
		Method:      http.MethodPost,
		Path:        "/spool/{id}/replay",
		Summary:     "Re-send a spooled payload to the rewards ledger",
		Description: "Sends the stored bytes once. The record is drained on success and kept on failure.",
		Tags:        []string{"Spool"},
	}, func(ctx context.Context, input *spoolPath) (*ReplayOutput, error) {
		log := cfg.Logger.WithField("spool_id", input.ID)
		rec, err := rewards.Replay(ctx, cfg.Ledger, cfg.Spool, input.ID)
		var de *rewards.DeliveryError
		switch {
		case err == nil:
			cfg.Metrics.ObserveReplay(true)
			log.WithField("file_id", rec.FileID).Info("spooled reward replayed")
		case errors.As(err, &de):
			cfg.Metrics.ObserveReplay(false)
			log.WithError(err).Warn("spooled reward replay failed")
		}
		if err != nil {
			return nil, handleError(err)
		}
		refreshPending(ctx, cfg.Spool, cfg.Metrics, cfg.Logger)
		return &ReplayOutput{Body: ReplayResponse{Status: "drained", Record: toSummary(rec)}}, nil
	})
}
