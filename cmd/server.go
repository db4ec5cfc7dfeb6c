package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/engine"
	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/provider"
	"github.com/promptforge-ai/demon-engine/internal/router"
	"github.com/promptforge-ai/demon-engine/internal/webhook"
)

const maxRequestBody = 1 << 20 // 1 MiB

// envelope is the wire shape for every response. CreditsUsed is set only
// on billable operations.
type envelope struct {
	Status      string `json:"status"`
	Data        any    `json:"data,omitempty"`
	CreditsUsed *int64 `json:"credits_used,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Message     string `json:"message,omitempty"`
}

type balancePayload struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
	Plan    string `json:"plan"`
}

type historyPayload struct {
	UserID       string                    `json:"user_id"`
	Transactions []model.LedgerTransaction `json:"transactions"`
}

type healthPayload struct {
	Status    string            `json:"status"`
	Providers []provider.Health `json:"providers"`
	Requests  int64             `json:"requests_total"`
}

// billingTier is one purchasable credit pack shown to clients.
type billingTier struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Credits      int64  `json:"credits"`
	PriceUSCents int64  `json:"price_usd_cents"`
}

var billingTiers = []billingTier{
	{ID: "starter", Name: "Starter", Credits: 100, PriceUSCents: 500},
	{ID: "builder", Name: "Builder", Credits: 500, PriceUSCents: 2000},
	{ID: "studio", Name: "Studio", Credits: 2500, PriceUSCents: 7500},
}

// buildRouter wires the HTTP surface. Split out from serve so handler
// tests can run against an httptest server.
func buildRouter(env *appEnv, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-User-ID", "X-User-Plan"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(env))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/demon/v2/upgrade", handleUpgrade(env))
		r.Get("/credits/balance", handleBalance(env))
		r.Get("/credits/usage/history", handleHistory(env))
		r.Get("/billing/tiers", handleTiers)
		r.Post("/payments/webhooks/{provider}", handleWebhook(env))
		r.Get("/providers", handleProviders(env))
		r.Get("/pipelines", handlePipelines(env))
		r.Get("/metrics", handleMetrics(env))
	})
	return r
}

func handleHealth(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := env.metrics.Collect()
		providers := env.registry.Snapshot()
		status := "ok"
		if len(providers) > 0 {
			healthy := 0
			for _, p := range providers {
				if p.Healthy {
					healthy++
				}
			}
			if healthy == 0 {
				status = "degraded"
			}
		}
		writeOK(w, healthPayload{
			Status:    status,
			Providers: providers,
			Requests:  snap.RequestsTotal,
		})
	}
}

func handleProviders(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]any{"providers": env.registry.Snapshot()})
	}
}

func handlePipelines(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipelines := env.router.Pipelines()
		type pipelineInfo struct {
			model.PipelineDefinition
			Disabled bool `json:"disabled,omitempty"`
		}
		infos := make([]pipelineInfo, 0, len(pipelines))
		for _, p := range pipelines {
			infos = append(infos, pipelineInfo{PipelineDefinition: p, Disabled: env.router.Disabled(p.ID)})
		}
		writeOK(w, map[string]any{"pipelines": infos})
	}
}

func handleMetrics(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, env.metrics.Collect())
	}
}

func handleUpgrade(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, plan, ok := identity(w, r)
		if !ok {
			return
		}
		if !env.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		var req model.ExecuteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		req.UserID = userID
		req.Plan = plan

		result, err := env.engine.Execute(r.Context(), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		credits := result.CreditsUsed
		writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: result, CreditsUsed: &credits})
	}
}

func handleBalance(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, plan, ok := identity(w, r)
		if !ok {
			return
		}
		account, err := env.ledger.EnsureAccount(r.Context(), userID, plan)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeOK(w, balancePayload{
			UserID:  account.UserID,
			Balance: account.Balance,
			Plan:    string(account.Plan),
		})
	}
}

func handleHistory(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, ok := identity(w, r)
		if !ok {
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				writeError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500")
				return
			}
			limit = n
		}
		transactions, err := env.ledger.History(r.Context(), userID, limit)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeOK(w, historyPayload{UserID: userID, Transactions: transactions})
	}
}

func handleTiers(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"tiers": billingTiers})
}

func handleWebhook(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := chi.URLParam(r, "provider")
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}
		result, err := env.webhooks.HandleEvent(r.Context(), providerName, payload)
		if err != nil {
			if errors.Is(err, webhook.ErrIgnoredEvent) {
				// Acknowledge so the payment provider stops redelivering.
				writeOK(w, map[string]string{"event": "ignored"})
				return
			}
			writeEngineError(w, err)
			return
		}
		writeOK(w, result)
	}
}

// identity resolves the caller from gateway-injected headers. The upstream
// API gateway terminates auth, so a missing user header is a client error
// here rather than a 401.
func identity(w http.ResponseWriter, r *http.Request) (string, model.Plan, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-User-ID header")
		return "", "", false
	}
	plan := model.PlanFree
	if r.Header.Get("X-User-Plan") == string(model.PlanPro) {
		plan = model.PlanPro
	}
	return userID, plan, true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeEngineError maps domain sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "insufficient credits")
	case errors.Is(err, router.ErrProRequired):
		writeError(w, http.StatusForbidden, "pro_required", "pipeline requires a pro plan")
	case errors.Is(err, router.ErrKillSwitch):
		writeError(w, http.StatusServiceUnavailable, "pipeline_disabled", "pipeline is temporarily disabled")
	case errors.Is(err, router.ErrPipelineNotFound), errors.Is(err, router.ErrNoPipelineMatch):
		writeError(w, http.StatusNotFound, "no_pipeline", "no pipeline matches the request")
	case errors.Is(err, engine.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "empty_text", "text must not be empty")
	case errors.Is(err, webhook.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed_event", "malformed webhook event")
	case errors.Is(err, webhook.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown payment provider")
	case errors.Is(err, provider.ErrProvidersExhausted), errors.Is(err, provider.ErrAllProvidersUnhealthy), errors.Is(err, provider.ErrNoProvider):
		writeError(w, http.StatusBadGateway, "providers_unavailable", "all model providers failed")
	case errors.Is(err, ledger.ErrConcurrentConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent account update, retry")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, envelope{Status: "error", ErrorKind: kind, Message: msg})
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// shutdownDeadline converts the configured timeout, defaulting to 15s.
func shutdownDeadline(secs int) time.Duration {
	if secs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(secs) * time.Second
}
