package channel

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/moderation"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
	"github.com/jtmoulia/dungeons-and-agents/internal/store/storetest"
)

// fixture seeds one in-progress game with a DM and one player, wired
// directly through the store so the channel can be tested in
// isolation from the registry.
type fixture struct {
	store   *store.Store
	channel *Channel
	game    *store.Game
	dm      member
	player  member
}

type member struct {
	agent *store.Agent
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.Open(t)
	f := &fixture{
		store:   st,
		channel: New(st, moderation.New(false, nil), logr.Discard()),
	}
	f.dm = f.addAgent(t, "warden")
	f.player = f.addAgent(t, "rook")

	f.game = &store.Game{
		ID:     "game-1",
		Name:   "The Rusted Hulk",
		DMID:   f.dm.agent.ID,
		Status: store.GameStatusInProgress,
		Config: store.GameConfig{MaxPlayers: 4},
	}
	require.NoError(t, st.DB.Create(f.game).Error)
	f.addPlayer(t, f.dm, store.RoleDM, "")
	f.addPlayer(t, f.player, store.RolePlayer, "Rook")
	return f
}

func (f *fixture) addAgent(t *testing.T, name string) member {
	t.Helper()
	agent := &store.Agent{ID: "agent-" + name, Name: name, APIKeyHash: store.HashToken("pbp-" + name)}
	require.NoError(t, f.store.DB.Create(agent).Error)
	return member{agent: agent, token: "ses-" + name}
}

func (f *fixture) addPlayer(t *testing.T, m member, role, characterName string) {
	t.Helper()
	require.NoError(t, f.store.DB.Create(&store.Player{
		GameID:           f.game.ID,
		AgentID:          m.agent.ID,
		CharacterName:    characterName,
		Role:             role,
		Status:           store.PlayerStatusActive,
		SessionTokenHash: store.HashToken(m.token),
	}).Error)
}

func (f *fixture) post(t *testing.T, m member, msgType, content string) *store.Message {
	t.Helper()
	msg, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        m.agent,
		SessionToken: m.token,
		Type:         msgType,
		Content:      content,
	})
	require.NoError(t, err)
	return msg
}

func TestPost_OrderingIsMonotonic(t *testing.T) {
	f := newFixture(t)

	first := f.post(t, f.player, store.MessageTypeAction, "kick the door")
	second := f.post(t, f.dm, store.MessageTypeNarrative, "the door splinters")

	assert.Greater(t, second.ID, first.ID)

	entries, latest, err := f.channel.List(context.Background(), f.game.ID, f.player.agent.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.Equal(t, second.ID, latest)
}

func TestList_PollingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, f.player, store.MessageTypeAction, "listen at the wall")
	anchor := f.post(t, f.player, store.MessageTypeOOC, "brb")
	f.post(t, f.dm, store.MessageTypeNarrative, "faint scratching")

	one, latest1, err := f.channel.List(ctx, f.game.ID, f.player.agent.ID, anchor.ID, 100)
	require.NoError(t, err)
	two, latest2, err := f.channel.List(ctx, f.game.ID, f.player.agent.ID, anchor.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, one, two)
	assert.Equal(t, latest1, latest2)
	require.Len(t, one, 1)
	assert.Equal(t, "faint scratching", one[0].Content)
}

func TestPost_StaleAfterRejected(t *testing.T) {
	f := newFixture(t)
	head := f.post(t, f.player, store.MessageTypeAction, "draw sword")
	f.post(t, f.dm, store.MessageTypeNarrative, "initiative!")

	// A post anchored at the old head must fail without appending.
	stale := head.ID
	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         store.MessageTypeAction,
		Content:      "attack",
		After:        &stale,
	})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	entries, _, err := f.channel.List(context.Background(), f.game.ID, f.player.agent.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPost_CurrentAfterAccepted(t *testing.T) {
	f := newFixture(t)
	head := f.post(t, f.dm, store.MessageTypeNarrative, "initiative!")

	current := head.ID
	msg, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         store.MessageTypeAction,
		Content:      "attack",
		After:        &current,
	})
	require.NoError(t, err)
	assert.Greater(t, msg.ID, head.ID)
}

func TestPost_SessionTokenRequired(t *testing.T) {
	f := newFixture(t)

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:  f.game.ID,
		Agent:   f.player.agent,
		Type:    store.MessageTypeAction,
		Content: "sneak",
	})
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))

	_, err = f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: "ses-wrong",
		Type:         store.MessageTypeAction,
		Content:      "sneak",
	})
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
}

func TestPost_InvalidType(t *testing.T) {
	f := newFixture(t)

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         "emote",
		Content:      "waves",
	})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestPost_DMOnlyTypes(t *testing.T) {
	f := newFixture(t)

	for _, msgType := range []string{store.MessageTypeNarrative, store.MessageTypeSystem} {
		_, err := f.channel.Post(context.Background(), PostInput{
			GameID:       f.game.ID,
			Agent:        f.player.agent,
			SessionToken: f.player.token,
			Type:         msgType,
			Content:      "not yours to tell",
		})
		assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err), msgType)
	}
}

func TestPost_PreStartGate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DB.Model(f.game).Update("status", store.GameStatusOpen).Error)

	f.post(t, f.player, store.MessageTypeOOC, "ready when you are")
	f.post(t, f.player, store.MessageTypeSheet, `{"str": 14}`)

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         store.MessageTypeAction,
		Content:      "charge",
	})
	assert.Equal(t, apperrors.KindState, apperrors.KindOf(err))
}

func TestPost_MutedBlocksWritesNotReads(t *testing.T) {
	f := newFixture(t)
	f.post(t, f.dm, store.MessageTypeNarrative, "a hush falls")
	require.NoError(t, f.store.DB.Model(&store.Player{}).
		Where("game_id = ? AND agent_id = ?", f.game.ID, f.player.agent.ID).
		Update("status", store.PlayerStatusMuted).Error)

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         store.MessageTypeAction,
		Content:      "shout",
	})
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))

	entries, _, err := f.channel.List(context.Background(), f.game.ID, f.player.agent.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPost_NonMember(t *testing.T) {
	f := newFixture(t)
	outsider := f.addAgent(t, "vesper")

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        outsider.agent,
		SessionToken: outsider.token,
		Type:         store.MessageTypeAction,
		Content:      "hello?",
	})
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))
}

func TestPost_ModerationBlocks(t *testing.T) {
	st := storetest.Open(t)
	f := &fixture{store: st, channel: New(st, moderation.New(true, []string{"grue"}), logr.Discard())}
	f.dm = f.addAgent(t, "warden")
	f.game = &store.Game{ID: "game-1", Name: "g", DMID: f.dm.agent.ID, Status: store.GameStatusInProgress}
	require.NoError(t, st.DB.Create(f.game).Error)
	f.addPlayer(t, f.dm, store.RoleDM, "")

	_, err := f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.dm.agent,
		SessionToken: f.dm.token,
		Type:         store.MessageTypeNarrative,
		Content:      "you are eaten by a grue",
	})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestWhisperVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addAgent(t, "vesper")
	f.addPlayer(t, other, store.RolePlayer, "Vesper")

	whisper, err := f.channel.Post(ctx, PostInput{
		GameID:       f.game.ID,
		Agent:        f.dm.agent,
		SessionToken: f.dm.token,
		Type:         store.MessageTypeNarrative,
		Content:      "you alone hear the whisper",
		ToAgents:     []string{f.player.agent.ID},
	})
	require.NoError(t, err)

	// The recipient and the author see it.
	for _, id := range []string{f.player.agent.ID, f.dm.agent.ID} {
		entries, _, err := f.channel.List(ctx, f.game.ID, id, 0, 100)
		require.NoError(t, err)
		require.Len(t, entries, 1, id)
		assert.Equal(t, whisper.ID, entries[0].ID)
	}

	// Another player does not.
	entries, latest, err := f.channel.List(ctx, f.game.ID, other.agent.ID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
	// The head still advances past hidden messages.
	assert.Equal(t, whisper.ID, latest)

	// Neither does an unauthenticated spectator.
	entries, _, err = f.channel.List(ctx, f.game.ID, "", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGet_HiddenWhisperIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addAgent(t, "vesper")
	f.addPlayer(t, other, store.RolePlayer, "Vesper")

	whisper, err := f.channel.Post(ctx, PostInput{
		GameID:       f.game.ID,
		Agent:        f.dm.agent,
		SessionToken: f.dm.token,
		Type:         store.MessageTypeNarrative,
		Content:      "secret",
		ToAgents:     []string{f.player.agent.ID},
	})
	require.NoError(t, err)

	got, err := f.channel.Get(ctx, f.game.ID, whisper.ID, f.player.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Content)

	_, err = f.channel.Get(ctx, f.game.ID, whisper.ID, other.agent.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestNormalize_NarrationExtracted(t *testing.T) {
	f := newFixture(t)

	msg := f.post(t, f.dm, store.MessageTypeNarrative,
		`{"narration": "The vault door grinds open.", "respond": ["Rook"]}`)

	assert.Equal(t, "The vault door grinds open.", msg.Content)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, []string{"Rook"}, msg.Metadata.Respond)
}

func TestNormalize_WhispersAutoPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addAgent(t, "vesper")
	f.addPlayer(t, other, store.RolePlayer, "Vesper")

	f.post(t, f.dm, store.MessageTypeNarrative,
		`{"narration": "The party splits.", "whispers": [{"to": ["Rook"], "content": "You spot a tripwire."}, {"to": ["nobody-here"], "content": "dropped"}]}`)

	// Rook sees the narration plus the whisper addressed to the
	// character name; the unresolved target is skipped silently.
	entries, _, err := f.channel.List(ctx, f.game.ID, f.player.agent.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "The party splits.", entries[0].Content)
	assert.Equal(t, "You spot a tripwire.", entries[1].Content)
	assert.Equal(t, []string{f.player.agent.ID}, entries[1].ToAgents)

	entries, _, err = f.channel.List(ctx, f.game.ID, other.agent.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "The party splits.", entries[0].Content)
}

func TestNormalize_PlainTextUntouched(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.dm, store.MessageTypeNarrative, "A cold wind blows.")
	assert.Equal(t, "A cold wind blows.", msg.Content)
}

func TestNormalize_JSONWithoutNarrationUntouched(t *testing.T) {
	f := newFixture(t)
	content := `{"mood": "tense", "weather": "rain"}`
	msg := f.post(t, f.dm, store.MessageTypeNarrative, content)
	assert.Equal(t, content, msg.Content)
	assert.Nil(t, msg.Metadata)
}

func TestNormalize_PlayerJSONUntouched(t *testing.T) {
	f := newFixture(t)
	content := `{"narration": "I try to narrate as a player"}`
	msg := f.post(t, f.player, store.MessageTypeAction, content)
	assert.Equal(t, content, msg.Content)
}

func TestSystem_BypassesMembership(t *testing.T) {
	f := newFixture(t)
	msg, err := f.channel.System(context.Background(), f.game.ID, "Game started!")
	require.NoError(t, err)
	assert.Nil(t, msg.AgentID)
	assert.Equal(t, store.MessageTypeSystem, msg.Type)
}

func TestSystem_AdvancesHeadForStalenessCheck(t *testing.T) {
	f := newFixture(t)
	head := f.post(t, f.player, store.MessageTypeAction, "look around")

	// System messages move the head like any other append, so a post
	// anchored before one is stale.
	_, err := f.channel.System(context.Background(), f.game.ID, "rook was muted.")
	require.NoError(t, err)

	stale := head.ID
	_, err = f.channel.Post(context.Background(), PostInput{
		GameID:       f.game.ID,
		Agent:        f.player.agent,
		SessionToken: f.player.token,
		Type:         store.MessageTypeAction,
		Content:      "keep looking",
		After:        &stale,
	})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestList_LimitAndNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, f.player, store.MessageTypeAction, "one")
	f.post(t, f.player, store.MessageTypeAction, "two")
	last := f.post(t, f.player, store.MessageTypeAction, "three")

	entries, latest, err := f.channel.List(ctx, f.game.ID, f.player.agent.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Content)
	assert.Equal(t, "rook", entries[0].AgentName)
	assert.Equal(t, "Rook", entries[0].CharacterName)
	assert.Equal(t, last.ID, latest)
}

func TestList_LimitClamping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		_, err := f.channel.System(ctx, f.game.ID, fmt.Sprintf("tick %d", i))
		require.NoError(t, err)
	}

	// An oversized limit is clamped to the maximum, not the default.
	entries, _, err := f.channel.List(ctx, f.game.ID, "", 0, 1000)
	require.NoError(t, err)
	assert.Len(t, entries, 120)

	// Zero still falls back to the default page size.
	entries, _, err = f.channel.List(ctx, f.game.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 100)
}

func TestLastActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.channel.LastActivity(ctx, f.game.ID)
	require.NoError(t, err)

	msg := f.post(t, f.player, store.MessageTypeAction, "ping")
	at, err := f.channel.LastActivity(ctx, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt.Unix(), at.Unix())
}
