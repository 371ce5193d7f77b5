package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/yawon3/pocali-backend/internal/social"
	"github.com/yawon3/pocali-backend/internal/social/socialtest"
)

// The tests need a scratch database; they are skipped unless
// POCALI_TEST_POSTGRES_DSN points at one.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POCALI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POCALI_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := testDSN(t)
	socialtest.Run(t, func(t *testing.T) social.Store {
		s, err := New(context.Background(), dsn)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if err := s.reset(context.Background()); err != nil {
			t.Fatalf("reset: %v", err)
		}
		return s
	})
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	s, err := New(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestNew_BadDSN(t *testing.T) {
	if _, err := New(context.Background(), "postgres://127.0.0.1:1/none?connect_timeout=1"); err == nil {
		t.Error("expected error for unreachable database")
	}
}
