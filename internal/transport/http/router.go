// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/ingest"
	"github.com/Fan4Metal/emby-webhooks-app/internal/metrics"
	"github.com/Fan4Metal/emby-webhooks-app/internal/transport/middleware"
	"github.com/Fan4Metal/emby-webhooks-app/web"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultMaxBodyBytes caps a webhook body when Deps.MaxBodyBytes is unset.
	DefaultMaxBodyBytes int64 = 1 << 20

	// webhookDataField holds the JSON document in form encoded deliveries.
	webhookDataField = "data"

	readyTimeout = 2 * time.Second
)

type webhookResponse struct {
	Status  string `json:"status"`
	Deduped bool   `json:"deduped"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type recentEntry struct {
	Message     string `json:"message"`
	Kind        string `json:"kind"`
	DisplayTime string `json:"display_time"`
}

type dashboardView struct {
	Entries      []domain.LogEntry
	RequireToken bool
	Limit        int
}

// RateLimit enables the per-client webhook limiter when Requests > 0.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

type Deps struct {
	Ingester     Ingester
	ActivityLog  ActivityLog
	Health       HealthChecker
	Logger       *slog.Logger
	AdminToken   string
	MaxBodyBytes int64
	RateLimit    RateLimit
	Version      string
	Commit       string
	BuildDate    string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	tmpl, err := web.Templates()
	if err != nil {
		logger.Error("parse dashboard templates failed", "error", err)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := deps.Health.Check(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- INGESTION ----------------

	r.Group(func(hook chi.Router) {
		if deps.RateLimit.Requests > 0 && deps.RateLimit.Window > 0 {
			hook.Use(middleware.RateLimitByIP(deps.RateLimit.Requests, deps.RateLimit.Window, logger))
		}

		hook.Post("/emby/webhook", func(w http.ResponseWriter, r *http.Request) {
			body, err := readWebhookBody(w, r, maxBody)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					logger.Warn("webhook body too large", "limit", tooLarge.Limit)
					writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Status: "error", Error: "payload too large"})
					return
				}
				body = nil
			}

			raw, err := ingest.DecodePayloadBytes(body)
			if err != nil {
				reqID, _ := requestIDFromContext(r.Context())
				metrics.IncMalformedPayload()
				logger.Warn("malformed webhook payload",
					"request_id", reqID,
					"content_type", r.Header.Get("Content-Type"),
					"error", err,
				)
				raw = map[string]any{}
			}

			res, err := deps.Ingester.Ingest(r.Context(), raw)
			if err != nil {
				writeStorageError(w, err)
				return
			}

			writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Deduped: res.Deduped()})
		})
	})

	// ---------------- QUERY ----------------

	r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		entries, err := deps.ActivityLog.ListRecent(r.Context(), limit)
		if err != nil {
			logger.Error("list recent failed", "error", err)
			writeStorageError(w, err)
			return
		}

		resp := make([]recentEntry, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, recentEntry{
				Message:     e.Message,
				Kind:        string(e.Kind),
				DisplayTime: e.DisplayTime,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		states, err := deps.ActivityLog.Sessions(r.Context())
		if err != nil {
			logger.Error("list sessions failed", "error", err)
			writeStorageError(w, err)
			return
		}
		if states == nil {
			states = []domain.SessionState{}
		}
		writeJSON(w, http.StatusOK, states)
	})

	// ---------------- MAINTENANCE ----------------

	r.Group(func(admin chi.Router) {
		if strings.TrimSpace(deps.AdminToken) != "" {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
		}

		admin.Post("/clear", func(w http.ResponseWriter, r *http.Request) {
			if _, err := deps.ActivityLog.Clear(r.Context()); err != nil {
				logger.Error("clear activity log failed", "error", err)
				writeStorageError(w, err)
				return
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
		})
	})

	// ---------------- DASHBOARD ----------------

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if tmpl == nil {
			http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
			return
		}

		entries, err := deps.ActivityLog.ListRecent(r.Context(), deps.ActivityLog.MaxRecent())
		if err != nil {
			logger.Error("list recent failed", "error", err)
			entries = nil
		}

		renderDashboard(w, tmpl, dashboardView{
			Entries:      entries,
			RequireToken: strings.TrimSpace(deps.AdminToken) != "",
			Limit:        deps.ActivityLog.MaxRecent(),
		}, logger)
	})

	return otelhttp.NewHandler(r, "emby-webhooks",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// readWebhookBody returns the JSON document of a delivery. Emby sends either
// a raw JSON body or a form with the document in the data field.
func readWebhookBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, err
		}
		return []byte(r.PostFormValue(webhookDataField)), nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return []byte(r.PostFormValue(webhookDataField)), nil
	default:
		return io.ReadAll(r.Body)
	}
}

func renderDashboard(w http.ResponseWriter, tmpl *template.Template, view dashboardView, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "index.html", view); err != nil {
		logger.Error("render dashboard failed", "error", err)
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Error: "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
