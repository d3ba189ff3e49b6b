// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/chasecyang/shotrio-sub004/internal/repository"
)

// NewSQLiteStore returns a migrated in-memory store closed at test cleanup.
func NewSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewSQLiteStoreWithProject is NewSQLiteStore with a project already created.
func NewSQLiteStoreWithProject(t *testing.T, projectID string) *repository.SQLiteStore {
	t.Helper()

	s := NewSQLiteStore(t)
	if err := s.EnsureProject(context.Background(), projectID, "Test project"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	return s
}
