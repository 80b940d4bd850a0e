package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultShutdownTimeout = 5 * time.Second

// HTTPServerConfig holds HTTP server tunables.
type HTTPServerConfig struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // zero: requests last as long as the child
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration // drain budget before in-flight requests are cut
	EnableTLS         bool   // whether to use HTTPS
	CertFile          string // path to TLS certificate
	KeyFile           string // path to TLS private key
}

// Addr is the listen address.
func (c HTTPServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRouter wires the HTTP routes onto a chi router.
func NewRouter(h *Handlers) http.Handler {
	InitMetrics()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(chiLogger)
	r.Use(middleware.Recoverer)

	// metrics endpoint
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// application routes
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Post("/run-script", h.RunScript)
	r.Post("/run-command", h.RunCommand)
	r.Get("/executions/{id}", h.GetExecution)

	return r
}

// RunHTTPServer starts an HTTP server and returns a channel that will receive
// an error when the server exits (gracefully or not).
func RunHTTPServer(ctx context.Context, h *Handlers, cfg HTTPServerConfig) <-chan error {
	errCh := make(chan error, 2)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           NewRouter(h),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		// wait for context cancellation then shutdown
		<-ctx.Done()
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			// Executions still running; their callers lose the response.
			slog.Warn("HTTP server drain timed out, closing connections", "timeout", timeout)
			err = srv.Close()
		}
		if err != nil {
			errCh <- err
			return
		}
		errCh <- ctx.Err()
	}()

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr, "tls", cfg.EnableTLS)
		var err error
		if cfg.EnableTLS {
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}

// chiLogger is a lightweight slog adapter for chi middleware.
func chiLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(t0)

		routePattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern, fmt.Sprint(status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, routePattern).Observe(duration.Seconds())
		slog.Info("http", "method", r.Method, "path", r.URL.Path, "route", routePattern,
			"status", status, "duration", duration, "request_id", middleware.GetReqID(r.Context()))
	})
}
