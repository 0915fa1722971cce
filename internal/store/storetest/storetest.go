// Package storetest provides an in-memory store for package tests.
package storetest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// Open returns a Store backed by a private in-memory SQLite database.
// The database is shared by every connection the pool opens and is
// released when the store closes.
func Open(t testing.TB) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := store.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
