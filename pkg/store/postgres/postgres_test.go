package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/juspay/hippocampus/pkg/store"
)

// Behavior against a live database is covered by the shared engine and
// service tests running on memstore; these only cover construction.

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, "", 256); !errors.Is(err, store.ErrInvalidConfig) {
		t.Errorf("empty dsn = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(ctx, "postgres://localhost/hippocampus", 0); !errors.Is(err, store.ErrInvalidConfig) {
		t.Errorf("zero dims = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(ctx, "://not-a-dsn", 256); !errors.Is(err, store.ErrInvalidConfig) {
		t.Errorf("malformed dsn = %v, want ErrInvalidConfig", err)
	}
}
