// Package app assembles the approval engine from configuration. It is shared
// by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/config"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// App owns the engine and everything it was built on.
type App struct {
	Engine *service.ApprovalEngine

	// DB is nil when running on the memory driver.
	DB *database.DB
	// Memory is nil when running on the postgres driver.
	Memory *memory.Store

	nc           *nats.Conn
	drainTimeout time.Duration
	log          *logger.Logger
}

// EntityTypes parses the configured entity types.
func EntityTypes(raw []string) ([]repository.EntityType, error) {
	types := make([]repository.EntityType, 0, len(raw))
	for _, r := range raw {
		t, ok := repository.ParseEntityType(r)
		if !ok {
			return nil, fmt.Errorf("unknown approval entity type %q", r)
		}
		types = append(types, t)
	}
	return types, nil
}

// DatabaseConfig converts the service configuration to pool settings.
func DatabaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		SSLMode:     cfg.SSLMode,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxConnTime: cfg.MaxConnTime,
		MaxIdleTime: cfg.MaxIdleTime,
		HealthCheck: cfg.HealthCheck,
	}
}

// New connects storage and notifications and builds the engine. withNotifier
// is false for one-shot CLI commands, which should not publish.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, withNotifier bool) (_ *App, err error) {
	types, err := EntityTypes(cfg.Approval.EntityTypes)
	if err != nil {
		return nil, err
	}

	a := &App{log: log, drainTimeout: cfg.Approval.NotifyTimeout}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var deps service.Dependencies
	switch cfg.Storage.Driver {
	case "memory":
		deps, err = a.openMemory(ctx, cfg.Approval.CatalogFile, types)
	default:
		deps, err = a.openPostgres(ctx, cfg.Database, types)
	}
	if err != nil {
		return nil, err
	}

	if withNotifier && cfg.NATS.Enabled {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			return nil, err
		}
		a.nc = nc
		deps.Notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}

	a.Engine, err = service.NewApprovalEngine(deps, service.EngineConfig{
		AllowUnassignedStepApproval: cfg.Approval.AllowUnassignedStepApproval,
		NotifyTimeout:               cfg.Approval.NotifyTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openPostgres(ctx context.Context, cfg config.DatabaseConfig, types []repository.EntityType) (service.Dependencies, error) {
	if cfg.MigrateOnBoot {
		if err := database.MigrateUp(cfg.DSN()); err != nil {
			return service.Dependencies{}, err
		}
		a.log.Info().Msg("Database migrations applied")
	}

	db, err := database.New(ctx, DatabaseConfig(cfg))
	if err != nil {
		return service.Dependencies{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.log.Info().Msg("Database connection established")

	entities := make(map[repository.EntityType]service.EntityStore, len(types))
	for _, t := range types {
		repo, err := repository.NewEntityRepository(db, t)
		if err != nil {
			return service.Dependencies{}, err
		}
		entities[t] = repo
	}

	return service.Dependencies{
		Tx:        db,
		Workflows: repository.NewWorkflowRepository(db),
		Records:   repository.NewApprovalRecordRepository(db),
		History:   repository.NewApprovalHistoryRepository(db),
		Identity:  repository.NewIdentityRepository(db),
		Entities:  entities,
	}, nil
}

func (a *App) openMemory(ctx context.Context, catalogFile string, types []repository.EntityType) (service.Dependencies, error) {
	store := memory.NewStore()
	a.Memory = store

	if catalogFile != "" {
		f, err := os.Open(catalogFile)
		if err != nil {
			return service.Dependencies{}, fmt.Errorf("failed to open catalog file: %w", err)
		}
		defer f.Close()

		seed, err := repository.LoadSeed(f)
		if err != nil {
			return service.Dependencies{}, err
		}
		if err := store.Seed(ctx, seed); err != nil {
			return service.Dependencies{}, err
		}
		if seed != nil {
			a.log.Info().
				Str("file", catalogFile).
				Int("workflows", len(seed.Workflows)).
				Int("users", len(seed.Users)).
				Int("entities", len(seed.Entities)).
				Msg("Memory store seeded")
		}
	}
	a.log.Warn().Msg("Using in-memory storage; state is lost on restart")

	entities := make(map[repository.EntityType]service.EntityStore, len(types))
	for _, t := range types {
		entities[t] = store.Entities(t)
	}

	return service.Dependencies{
		Tx:        store,
		Workflows: store.Workflows(),
		Records:   store.Records(),
		History:   store.History(),
		Identity:  store.Identity(),
		Entities:  entities,
	}, nil
}

// Ping reports whether storage is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping(ctx)
}

// Close waits for pending notifications, then releases the NATS connection
// and the database pool.
func (a *App) Close() {
	if a.Engine != nil {
		timeout := a.drainTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.Engine.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Pending approval notifications were not delivered")
		}
		cancel()
		a.Engine = nil
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
		a.nc = nil
	}
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}
