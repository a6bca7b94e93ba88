// internal/server/server.go
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"familymiles/internal/auth"
	"familymiles/internal/chaos"
	"familymiles/internal/companies"
	"familymiles/internal/httpjson"
	"familymiles/internal/members"
	"familymiles/internal/postits"
	"familymiles/internal/report"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Companies companies.Service
	Members   members.Service
	PostIts   postits.Service
	Auth      *auth.Authenticator
}

// Options tune the router.
type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	Version        string
	Faults         chaos.Faults
}

// NewRouter mounts every API route under /api.
func NewRouter(svc Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors(opts.AllowedOrigins))
	r.Use(requestLog(logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(svc.Auth.Middleware("/api/health", "/api/login"))
		if opts.Faults.Enabled() {
			logger.Warn("fault injection enabled", "latency", opts.Faults.Latency, "blast_radius", opts.Faults.BlastRadius)
			opts.Faults.Exempt = append(opts.Faults.Exempt, "/api/health", "/api/login")
			r.Use(chaos.NewInjector(opts.Faults).Middleware)
		}

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			httpjson.JSON(w, http.StatusOK, map[string]any{
				"status":    "healthy",
				"timestamp": time.Now().UTC(),
				"version":   opts.Version,
			})
		})
		auth.NewHandler(svc.Auth).Routes(r)
		companies.NewHandler(svc.Companies).Routes(r)
		members.NewHandler(svc.Members).Routes(r)
		postits.NewHandler(svc.PostIts).Routes(r)
		report.NewHandler(svc.Members, svc.Companies).Routes(r)
	})
	return r
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
