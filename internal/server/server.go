package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"overwatch/internal/audit"
	"overwatch/internal/domain"
	"overwatch/internal/repo"
	"overwatch/internal/score"
)

// Config for the read-only status API handler.
type Config struct {
	Watchdog string
	Repo     repo.Repo
	Ledger   *audit.Ledger
	Scorer   score.Scorer
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal", err.Error(), nil)
}

// New returns the HTTP handler for the operator status API. All state it
// serves comes from the ledger and the record store; nothing here mutates.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Overwatch Status API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg)
	registerAudit(group, cfg)
	registerScore(group, cfg)
	registerChecksums(group, cfg)

	return router, nil
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness probe",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type statusOutput struct {
	Body struct {
		Watchdog string                  `json:"watchdog"`
		Run      domain.RunSummary       `json:"run"`
		Outcomes []domain.MissionOutcome `json:"outcomes,omitempty"`
	}
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Latest run summary and outcomes",
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		run, err := cfg.Repo.LatestRun(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		outcomes, err := cfg.Repo.ListOutcomes(ctx, run.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &statusOutput{}
		out.Body.Watchdog = cfg.Watchdog
		out.Body.Run = run
		out.Body.Outcomes = outcomes
		return out, nil
	})
}

type auditInput struct {
	N int `query:"n" default:"50" minimum:"1" maximum:"1000"`
}

type auditOutput struct {
	Body struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
}

func registerAudit(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Tail of the audit ledger",
	}, func(ctx context.Context, in *auditInput) (*auditOutput, error) {
		entries, err := cfg.Ledger.Tail(in.N)
		if err != nil {
			return nil, handleError(err)
		}
		out := &auditOutput{}
		out.Body.Entries = entries
		return out, nil
	})
}

type scoreInput struct {
	Window int `query:"window" default:"200" minimum:"1" maximum:"5000"`
}

type scoreOutput struct {
	Body domain.ScoreRecord
}

func registerScore(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-score",
		Method:      http.MethodGet,
		Path:        "/score",
		Summary:     "Quality score derived from the recent ledger window",
	}, func(ctx context.Context, in *scoreInput) (*scoreOutput, error) {
		entries, err := cfg.Ledger.Tail(in.Window)
		if err != nil {
			return nil, handleError(err)
		}
		// read-only surface: the scorer here carries no halter
		rec, err := cfg.Scorer.FromLedger(ctx, entries)
		if err != nil {
			return nil, handleError(err)
		}
		return &scoreOutput{Body: rec}, nil
	})
}

type checksumsOutput struct {
	Body struct {
		Records []domain.ChecksumRecord `json:"records"`
	}
}

func registerChecksums(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-checksums",
		Method:      http.MethodGet,
		Path:        "/checksums",
		Summary:     "Stored checksum records per data subject",
	}, func(ctx context.Context, _ *struct{}) (*checksumsOutput, error) {
		records, err := cfg.Repo.ListChecksums(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &checksumsOutput{}
		out.Body.Records = records
		return out, nil
	})
}
