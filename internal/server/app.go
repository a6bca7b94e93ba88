// internal/server/app.go
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	"familymiles/internal/auth"
	"familymiles/internal/chaos"
	"familymiles/internal/companies"
	"familymiles/internal/config"
	"familymiles/internal/members"
	"familymiles/internal/postits"
	"familymiles/internal/storage"
	"familymiles/pkg/eventstore"
)

// App is a fully wired backend.
type App struct {
	Handler  http.Handler
	Services Services
	db       *sqlx.DB
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Build wires stores, services and routes from cfg. An empty DatabaseURL
// selects the in-memory stores.
func Build(ctx context.Context, cfg config.Server, version string, logger *slog.Logger) (*App, error) {
	app := &App{}

	var (
		companyStore companies.Store
		memberStore  members.Store
		postitStore  postits.Store
	)
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		companyStore = companies.NewMemoryStore()
		memberStore = members.NewMemoryStore()
		postitStore = postits.NewMemoryStore()
	} else {
		db, err := storage.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		app.db = db
		if err := storage.Migrate(ctx, db, eventstore.Schema, companies.Schema, members.Schema, postits.Schema); err != nil {
			db.Close()
			return nil, err
		}
		companyStore = companies.NewPostgresStore(db)
		memberStore = members.NewPostgresStore(db, eventstore.NewEventStore(db))
		postitStore = postits.NewPostgresStore(db)
	}

	authenticator, err := auth.New(auth.Config{
		AccessCode:     cfg.AccessCode,
		Secret:         cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		LoginPerMinute: cfg.LoginPerMinute,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	if !authenticator.Enabled() {
		logger.Warn("ACCESS_CODE not set, API is open")
	}

	companySvc := companies.NewService(companyStore, memberStore, logger)
	memberSvc := members.NewService(memberStore, companySvc, members.WithLogger(logger))
	app.Services = Services{
		Companies: companySvc,
		Members:   memberSvc,
		PostIts:   postits.NewService(postitStore),
		Auth:      authenticator,
	}

	fixture, err := storage.LoadFixture(cfg.SeedFile)
	if err != nil {
		app.Close()
		return nil, err
	}
	if err := storage.Seed(ctx, fixture, companySvc, memberSvc, logger); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	app.Handler = NewRouter(app.Services, Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Version:        version,
		Faults:         chaos.Faults{Latency: cfg.ChaosLatency, BlastRadius: cfg.ChaosFailRate},
	})
	return app, nil
}
