//go:build integration

// Package testutil starts disposable Postgres instances for integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
)

const (
	dbUser     = "approvals"
	dbPassword = "approvals"
	dbName     = "approvals"
)

// TestDB is a migrated database running in a throwaway container.
type TestDB struct {
	DB  *database.DB
	DSN string
}

// SetupTestDB starts a Postgres container, applies the embedded migrations
// and returns a connected pool. Everything is torn down via t.Cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	cfg := database.Config{
		Host:     host,
		Port:     port.Int(),
		User:     dbUser,
		Password: dbPassword,
		Database: dbName,
		SSLMode:  "disable",
		MaxConns: 16,
	}

	if err := database.MigrateUp(cfg.DSN()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	db, err := database.New(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to test DB: %v", err)
	}
	t.Cleanup(db.Close)

	return &TestDB{DB: db, DSN: cfg.DSN()}
}

// Reset truncates every table between tests sharing a container.
func (td *TestDB) Reset(t *testing.T) {
	t.Helper()
	_, err := td.DB.Exec(context.Background(), `TRUNCATE projects, contracts, quotes, invoices,
		approval_history, approval_records, workflow_steps, workflow_definitions, user_roles, users CASCADE`)
	if err != nil {
		t.Fatalf("Failed to reset test DB: %v", err)
	}
}
