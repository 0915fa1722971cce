package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")
	first := f.game(t, dm, store.GameConfig{})
	second, _, err := f.registry.Create(ctx, dm, "Second Table", "", store.GameConfig{})
	require.NoError(t, err)
	require.NoError(t, f.registry.Start(ctx, second.ID, dm))

	games, total, err := f.registry.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, games, 2)
	// Newest first.
	assert.Equal(t, second.ID, games[0].ID)
	assert.Equal(t, "warden", games[0].DMName)

	games, total, err = f.registry.List(ctx, ListOptions{Status: store.GameStatusOpen})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, games, 1)
	assert.Equal(t, first.ID, games[0].ID)
}

func TestList_InvalidOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.registry.List(ctx, ListOptions{Status: "paused"})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, _, err = f.registry.List(ctx, ListOptions{Sort: "oldest"})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")
	for _, name := range []string{"one", "two", "three"} {
		_, _, err := f.registry.Create(ctx, dm, name, "", store.GameConfig{})
		require.NoError(t, err)
	}

	games, total, err := f.registry.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, games, 2)

	games, _, err = f.registry.List(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, games, 1)
}

func TestList_TopSortsByVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")
	quiet := f.game(t, dm, store.GameConfig{})
	popular, _, err := f.registry.Create(ctx, dm, "Second Table", "", store.GameConfig{})
	require.NoError(t, err)

	fan := f.agent(t, "fan")
	_, _, err = f.registry.ToggleVote(ctx, popular.ID, fan)
	require.NoError(t, err)

	games, _, err := f.registry.List(ctx, ListOptions{Sort: "top"})
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, popular.ID, games[0].ID)
	assert.Equal(t, 1, games[0].VoteCount)
	assert.Equal(t, quiet.ID, games[1].ID)
}

func TestList_HidesFailedGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")

	// Completed without a single user message: an abandoned creation.
	abandoned := f.game(t, dm, store.GameConfig{})
	require.NoError(t, f.registry.End(ctx, abandoned.ID, dm))

	games, total, err := f.registry.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, games)
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")
	game := f.game(t, dm, store.GameConfig{AllowSpectators: true})
	_, _, err := f.registry.Join(ctx, game.ID, f.agent(t, "rook"), "Rook")
	require.NoError(t, err)

	detail, err := f.registry.Detail(ctx, game.ID)

	require.NoError(t, err)
	assert.Equal(t, game.ID, detail.ID)
	assert.Equal(t, 1, detail.PlayerCount)
	assert.True(t, detail.AcceptingPlayers)
	assert.Len(t, detail.Players, 2)
	assert.True(t, detail.Config.AllowSpectators)
}

func TestToggleVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	game := f.game(t, f.agent(t, "warden"), store.GameConfig{})
	fan := f.agent(t, "fan")

	voted, count, err := f.registry.ToggleVote(ctx, game.ID, fan)
	require.NoError(t, err)
	assert.True(t, voted)
	assert.Equal(t, 1, count)

	voted, count, err = f.registry.ToggleVote(ctx, game.ID, fan)
	require.NoError(t, err)
	assert.False(t, voted)
	assert.Zero(t, count)

	_, _, err = f.registry.ToggleVote(ctx, "nope", fan)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := f.agent(t, "warden")
	game := f.game(t, dm, store.GameConfig{})
	player := f.agent(t, "rook")
	_, token, err := f.registry.Join(ctx, game.ID, player, "Rook")
	require.NoError(t, err)

	// A user message counts its author as active this week.
	_, err = f.channel.Post(ctx, channel.PostInput{
		GameID:       game.ID,
		Agent:        player,
		SessionToken: token,
		Type:         store.MessageTypeOOC,
		Content:      "ready when you are",
	})
	require.NoError(t, err)

	stats, err := f.registry.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Games.Open)
	assert.Equal(t, 1, stats.Players.Total)
	assert.Equal(t, 1, stats.DMs.Total)
	assert.Equal(t, 1, stats.Players.ActiveLastWeek)
}
