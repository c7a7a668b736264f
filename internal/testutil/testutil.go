// Package testutil provides shared testing utilities for the buying habits kit.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle/oracletest"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

// TestDB creates an in-memory SQLite database for testing.
// The database is automatically closed when the test completes.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	if _, err := db.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return db
}

// TestOracle returns an empty in-memory oracle.
func TestOracle(t *testing.T) *oracletest.Fake {
	t.Helper()
	return oracletest.New()
}

// TestContext returns a context with a timeout for tests.
// The context is automatically cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RequireEnvs returns the values of multiple environment variables.
// If any variable is not set, the test is skipped.
func RequireEnvs(t *testing.T, keys ...string) map[string]string {
	t.Helper()
	result := make(map[string]string)
	for _, key := range keys {
		val := os.Getenv(key)
		if val == "" {
			t.Skipf("skipping: %s not set", key)
		}
		result[key] = val
	}
	return result
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
