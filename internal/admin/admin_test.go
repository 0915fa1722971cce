package admin

import (
	"context"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/directory"
	"github.com/jtmoulia/dungeons-and-agents/internal/moderation"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
	"github.com/jtmoulia/dungeons-and-agents/internal/store/storetest"
)

type fixture struct {
	store    *store.Store
	channel  *channel.Channel
	registry *registry.Registry
	admin    *Admin
	dir      *directory.Directory
	dm       *store.Agent
	player   *store.Agent
	game     *store.Game
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.Open(t)
	log := logr.Discard()
	gate := moderation.New(true, []string{"grue"})
	ch := channel.New(st, gate, log)
	reg := registry.New(st, ch, 4, 300, log)
	f := &fixture{
		store:    st,
		channel:  ch,
		registry: reg,
		admin:    New(st, reg, ch, gate, log),
		dir:      directory.New(st, log),
	}
	ctx := context.Background()

	var err error
	f.dm, _, err = f.dir.Register(ctx, "warden")
	require.NoError(t, err)
	f.player, _, err = f.dir.Register(ctx, "rook")
	require.NoError(t, err)

	f.game, _, err = f.registry.Create(ctx, f.dm, "The Rusted Hulk", "", store.GameConfig{})
	require.NoError(t, err)
	_, _, err = f.registry.Join(ctx, f.game.ID, f.player, "Rook")
	require.NoError(t, err)
	return f
}

func (f *fixture) playerStatus(t *testing.T) string {
	t.Helper()
	member, err := f.registry.Membership(context.Background(), f.game.ID, f.player.ID)
	require.NoError(t, err)
	return member.Status
}

func (f *fixture) systemMessages(t *testing.T) []string {
	t.Helper()
	entries, _, err := f.channel.List(context.Background(), f.game.ID, f.dm.ID, 0, 100)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.Type == store.MessageTypeSystem {
			out = append(out, e.Content)
		}
	}
	return out
}

func TestKick(t *testing.T) {
	f := newFixture(t)

	err := f.admin.Kick(context.Background(), f.game.ID, f.dm, f.player.ID, "table-flipping")

	require.NoError(t, err)
	assert.Equal(t, store.PlayerStatusKicked, f.playerStatus(t))
	assert.Contains(t, f.systemMessages(t), "rook was kicked from the game. Reason: table-flipping")
}

func TestKick_ModeratedReason(t *testing.T) {
	f := newFixture(t)

	err := f.admin.Kick(context.Background(), f.game.ID, f.dm, f.player.ID, "called everyone a grue")

	require.NoError(t, err)
	assert.Contains(t, f.systemMessages(t), "rook was kicked from the game. Reason: [moderated]")
}

func TestKick_NonDM(t *testing.T) {
	f := newFixture(t)
	err := f.admin.Kick(context.Background(), f.game.ID, f.player, f.dm.ID, "")
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))
}

func TestKick_DMNotKickable(t *testing.T) {
	f := newFixture(t)
	err := f.admin.Kick(context.Background(), f.game.ID, f.dm, f.dm.ID, "")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestMuteUnmute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.admin.Mute(ctx, f.game.ID, f.dm, f.player.ID))
	assert.Equal(t, store.PlayerStatusMuted, f.playerStatus(t))

	require.NoError(t, f.admin.Unmute(ctx, f.game.ID, f.dm, f.player.ID))
	assert.Equal(t, store.PlayerStatusActive, f.playerStatus(t))
}

func TestMute_KickWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.admin.Kick(ctx, f.game.ID, f.dm, f.player.ID, ""))

	// Neither mute nor unmute moves a kicked player.
	require.NoError(t, f.admin.Mute(ctx, f.game.ID, f.dm, f.player.ID))
	assert.Equal(t, store.PlayerStatusKicked, f.playerStatus(t))
	require.NoError(t, f.admin.Unmute(ctx, f.game.ID, f.dm, f.player.ID))
	assert.Equal(t, store.PlayerStatusKicked, f.playerStatus(t))
}

func TestInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest, _, err := f.dir.Register(ctx, "vesper")
	require.NoError(t, err)

	token, err := f.admin.Invite(ctx, f.game.ID, f.dm, guest.ID)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "ses-"))
	member, err := f.registry.Membership(ctx, f.game.ID, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PlayerStatusActive, member.Status)
	assert.Contains(t, f.systemMessages(t), "vesper was invited to the game.")
}

func TestInvite_BypassesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.UpdateConfig(ctx, f.game.ID, f.dm, store.GameConfig{MaxPlayers: 1}))

	guest, _, err := f.dir.Register(ctx, "vesper")
	require.NoError(t, err)

	// A normal join is refused but the DM can still invite.
	_, _, err = f.registry.Join(ctx, f.game.ID, guest, "")
	require.Equal(t, apperrors.KindState, apperrors.KindOf(err))

	_, err = f.admin.Invite(ctx, f.game.ID, f.dm, guest.ID)
	assert.NoError(t, err)
}

func TestInvite_AlreadyInGame(t *testing.T) {
	f := newFixture(t)
	_, err := f.admin.Invite(context.Background(), f.game.ID, f.dm, f.player.ID)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestInvite_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.admin.Invite(context.Background(), f.game.ID, f.dm, "agent-nope")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
