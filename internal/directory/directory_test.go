package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/store/storetest"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	return New(storetest.Open(t), logr.Discard())
}

func TestRegister(t *testing.T) {
	dir := newDirectory(t)

	agent, apiKey, err := dir.Register(context.Background(), "rook")

	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "rook", agent.Name)
	assert.True(t, strings.HasPrefix(apiKey, "pbp-"))
	// Only the hash is retained.
	assert.NotContains(t, agent.APIKeyHash, apiKey)
}

func TestRegister_DuplicateName(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	_, _, err := dir.Register(ctx, "rook")
	require.NoError(t, err)

	_, _, err = dir.Register(ctx, "rook")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestRegister_EmptyName(t *testing.T) {
	dir := newDirectory(t)

	_, _, err := dir.Register(context.Background(), "   ")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	agent, apiKey, err := dir.Register(ctx, "rook")
	require.NoError(t, err)

	got, err := dir.Authenticate(ctx, apiKey)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, "rook", got.Name)
}

func TestAuthenticate_BadKey(t *testing.T) {
	dir := newDirectory(t)

	_, err := dir.Authenticate(context.Background(), "pbp-nope")
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
}
