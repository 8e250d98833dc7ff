package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/engine"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the territory resolution HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		r := buildRouter(e)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the HTTP API around a wired env.
func buildRouter(e *env) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth(e))
	r.Route("/api/territory", func(r chi.Router) {
		r.Post("/resolve", handleResolve(e))
		r.Post("/resolve-bulk", handleResolveBulk(e))
		r.Get("/metrics", handleMetrics(e))
	})
	return r
}

func allowedOrigins() []string {
	if cfg != nil && len(cfg.Server.AllowedOrigins) > 0 {
		return cfg.Server.AllowedOrigins
	}
	return []string{"*"}
}

type resolveRequest struct {
	ZipCode      string `json:"zipCode"`
	ForceRefresh bool   `json:"forceRefresh"`
}

type resolveResponse struct {
	Success          bool     `json:"success"`
	CitySlug         string   `json:"citySlug,omitempty"`
	CityDisplayName  string   `json:"cityDisplayName,omitempty"`
	UtilityName      string   `json:"utilityName,omitempty"`
	MarketType       string   `json:"marketType,omitempty"`
	Confidence       int      `json:"confidence,omitempty"`
	RedirectPath     string   `json:"redirectPath,omitempty"`
	Cached           bool     `json:"cached"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Error            string   `json:"error,omitempty"`
	NearestZips      []string `json:"nearestServiceableZips,omitempty"`
}

func handleResolve(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, resolveResponse{Error: engine.CodeInvalidZipFormat})
			return
		}

		result, err := e.Engine.Resolve(r.Context(), req.ZipCode, engine.ResolveOptions{ForceRefresh: req.ForceRefresh})
		if err != nil {
			f := engine.AsFailure(err)
			writeJSON(w, statusFor(f.Code), resolveResponse{
				Error:       f.Code,
				NearestZips: f.NearestServiceable,
			})
			return
		}

		res := result.Resolution

		// Intermediary caches may hold a cache-served answer longer; a fresh
		// resolution gets a short TTL in case an upstream correction lands.
		if result.Cached {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("X-Cache", "MISS")
			w.Header().Set("Cache-Control", "public, max-age=300")
		}

		writeJSON(w, http.StatusOK, resolveResponse{
			Success:          true,
			CitySlug:         res.CitySlug,
			CityDisplayName:  res.CityDisplayName,
			UtilityName:      res.UtilityName,
			MarketType:       string(res.MarketType),
			Confidence:       res.Confidence,
			RedirectPath:     res.RedirectPath(),
			Cached:           result.Cached,
			ProcessingTimeMs: result.ProcessingTimeMs,
		})
	}
}

type bulkRequest struct {
	ZipCodes     []string `json:"zipCodes"`
	ForceRefresh bool     `json:"forceRefresh"`
}

func handleResolveBulk(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ZipCodes) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "zipCodes is required"})
			return
		}

		result, err := e.Engine.ResolveBulk(r.Context(), req.ZipCodes, engine.ResolveOptions{ForceRefresh: req.ForceRefresh})
		if err != nil && result == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": engine.CodeRoutingError})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleMetrics(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := 24
		if h := r.URL.Query().Get("hours"); h != "" {
			if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 {
				hours = parsed
			}
		}

		m, err := e.Engine.Metrics(r.Context(), hours)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": engine.CodeRoutingError})
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleHealth(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := e.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// statusFor maps engine failure codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case engine.CodeInvalidZipFormat, engine.CodeNotInRegion:
		return http.StatusBadRequest
	case engine.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
