package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/idfuse/internal/config"
	"github.com/sells-group/idfuse/internal/monitoring"
	"github.com/sells-group/idfuse/internal/orchestrator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identify-and-answer HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(e.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(e, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API over an initialized environment.
func newRouter(e *env, srvCfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if srvCfg.RateLimitRPS > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(srvCfg.RateLimitRPS), srvCfg.RateLimitBurst)))
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := e.Store.Ping(req.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		body := map[string]any{
			"status":          status,
			"active_backends": len(e.Registry.Active()),
		}
		if e.QA != nil {
			body["qa_healthy"] = e.QA.Health(req.Context())
		}
		writeJSON(w, code, body)
	})

	r.Post("/identify", identifyHandler(e, srvCfg, false))
	r.Post("/identify-and-answer", identifyHandler(e, srvCfg, true))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/metrics/summary", metricsHandler(func(req *http.Request, since time.Time) (any, error) {
		return e.Store.SummaryMetrics(req.Context(), since)
	}))
	r.Get("/metrics/decisions", metricsHandler(func(req *http.Request, since time.Time) (any, error) {
		return e.Store.DecisionMetrics(req.Context(), since)
	}))
	r.Get("/metrics/services", metricsHandler(func(req *http.Request, since time.Time) (any, error) {
		return e.Store.ServiceMetrics(req.Context(), since)
	}))
	r.Get("/metrics/timeouts", metricsHandler(func(req *http.Request, since time.Time) (any, error) {
		return e.Store.TopTimeouts(req.Context(), since, 5)
	}))
	r.Get("/metrics/hourly", metricsHandler(func(req *http.Request, since time.Time) (any, error) {
		return e.Store.HourlyVolume(req.Context(), since)
	}))

	return r
}

// identifyHandler accepts a multipart image upload, runs the pipeline, and
// returns the decision. When requireQuestion is set the question field is
// mandatory and its answer rides along in the response.
func identifyHandler(e *env, srvCfg config.ServerConfig, requireQuestion bool) http.HandlerFunc {
	maxBytes := srvCfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}

	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxBytes)
		if err := req.ParseMultipartForm(maxBytes); err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large or malformed"})
			return
		}

		file, _, err := req.FormFile("image")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image file is required"})
			return
		}
		defer file.Close()
		image, err := io.ReadAll(file)
		if err != nil || len(image) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read image"})
			return
		}

		question := req.FormValue("question")
		if requireQuestion && question == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
			return
		}

		result, err := e.Orch.Identify(req.Context(), orchestrator.Request{
			Image:    image,
			Question: question,
			Route:    req.URL.Path,
		})
		if err != nil {
			zap.L().Error("identify request failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "identification failed"})
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// metricsHandler runs one analytics query over a ?days=N lookback window
// (default 1).
func metricsHandler(query func(req *http.Request, since time.Time) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		days := 1
		if raw := req.URL.Query().Get("days"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil || d <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
				return
			}
			days = d
		}
		since := time.Now().UTC().AddDate(0, 0, -days)

		out, err := query(req, since)
		if err != nil {
			zap.L().Error("metrics query failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics query failed"})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}
