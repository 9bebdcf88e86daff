// Package databasetest starts throwaway Postgres containers for store
// integration tests. Tests that call NewDB are skipped when Docker is not
// available or when -short is set.
package databasetest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pathway-labs/pathway/internal/platform/database"
)

const image = "postgres:16-alpine"

// NewDB starts a Postgres container, applies the schema, and returns a
// connected pool. The container is terminated when the test finishes.
func NewDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	ctr, err := func() (ctr *tcpostgres.PostgresContainer, err error) {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be found; convert that into a skip as documented.
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("postgres container unavailable: %v", r)
			}
		}()
		return tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("pathway"),
			tcpostgres.WithUsername("pathway"),
			tcpostgres.WithPassword("pathway"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	}()
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("container connection string: %v", err)
	}

	db, err := database.New(ctx, url, 5, 1)
	if err != nil {
		t.Fatalf("connecting to container database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	return db
}
