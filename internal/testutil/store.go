package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/pnp/internal/db"
	"github.com/g960059/pnp/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "pnp-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func SeedOperation(t *testing.T, store *db.Store, ctx context.Context, operationID string, command model.Command) model.Operation {
	t.Helper()
	op := model.Operation{
		OperationID: operationID,
		RequestID:   "req-" + operationID,
		InstanceID:  "instance-1",
		Command:     command,
		Outcome:     model.OutcomeNothingPicked,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.RecordOperation(ctx, op); err != nil {
		t.Fatalf("seed operation: %v", err)
	}
	return op
}
