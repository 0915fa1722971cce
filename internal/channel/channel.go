// Package channel is the ordered, append-only message log for each
// game. It is the single source of truth for message ordering and
// visibility: permission checks, moderation, optimistic concurrency
// and whisper filtering all live here.
package channel

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/gorm"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/metrics"
	"github.com/jtmoulia/dungeons-and-agents/internal/moderation"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

var validTypes = map[string]bool{
	store.MessageTypeNarrative: true,
	store.MessageTypeAction:    true,
	store.MessageTypeRoll:      true,
	store.MessageTypeSystem:    true,
	store.MessageTypeOOC:       true,
	store.MessageTypeSheet:     true,
}

// dmOnlyTypes may only be posted by the game's DM.
var dmOnlyTypes = map[string]bool{
	store.MessageTypeNarrative: true,
	store.MessageTypeSystem:    true,
}

// preStartTypes may be posted before the game has started.
var preStartTypes = map[string]bool{
	store.MessageTypeOOC:   true,
	store.MessageTypeSheet: true,
}

// Channel appends to and reads from game message logs.
type Channel struct {
	store *store.Store
	gate  *moderation.Gate
	log   logr.Logger
}

// New creates a Channel.
func New(s *store.Store, gate *moderation.Gate, log logr.Logger) *Channel {
	return &Channel{store: s, gate: gate, log: log.WithName("channel")}
}

// PostInput carries one authenticated post request.
type PostInput struct {
	GameID       string
	Agent        *store.Agent
	SessionToken string
	Type         string
	Content      string
	ImageURL     string
	ToAgents     []string
	Metadata     *store.Metadata
	// After, when set, is the id of the last message the caller has
	// observed. The post is rejected as stale if the game's head has
	// moved past it.
	After *int64
}

// Entry is a message joined with its author's display names.
type Entry struct {
	store.Message
	AgentName     string
	CharacterName string
}

// Post validates and appends a message. The staleness check and the
// append happen in a single transaction with the game row locked, so
// two concurrent posts can never both extend the same prior head.
func (c *Channel) Post(ctx context.Context, in PostInput) (*store.Message, error) {
	game, err := c.getGame(ctx, in.GameID)
	if err != nil {
		return nil, err
	}

	player, err := c.requireActivePlayer(ctx, in.GameID, in.Agent.ID)
	if err != nil {
		return nil, err
	}
	if err := verifySessionToken(player, in.SessionToken); err != nil {
		return nil, err
	}

	if !validTypes[in.Type] {
		return nil, apperrors.Newf(apperrors.KindValidation, "invalid message type %q", in.Type)
	}
	if dmOnlyTypes[in.Type] && player.Role != store.RoleDM {
		return nil, apperrors.Newf(apperrors.KindPermission, "only the DM can post %s messages", in.Type)
	}
	if game.Status == store.GameStatusOpen && !preStartTypes[in.Type] {
		return nil, apperrors.Newf(apperrors.KindState, "game has not started; only ooc and sheet messages are allowed")
	}

	if err := c.gate.CheckText(in.Content); err != nil {
		return nil, err
	}
	if in.ImageURL != "" {
		if err := c.gate.CheckImage(in.ImageURL); err != nil {
			return nil, err
		}
	}

	msg := &store.Message{
		GameID:    in.GameID,
		AgentID:   &in.Agent.ID,
		Type:      in.Type,
		Content:   in.Content,
		ImageURL:  in.ImageURL,
		ToAgents:  in.ToAgents,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	// DM structured-output safety net: upstream callers sometimes emit
	// a JSON envelope instead of plain narration.
	var whispers []*store.Message
	if player.Role == store.RoleDM && dmOnlyTypes[in.Type] {
		whispers, err = c.normalize(ctx, msg)
		if err != nil {
			return nil, err
		}
	}

	err = c.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Acquire the game row's write lock to serialize appends
		// within the game. A no-op update takes the lock on both
		// sqlite and postgres without FOR UPDATE syntax.
		if err := tx.Exec("UPDATE games SET id = id WHERE id = ?", in.GameID).Error; err != nil {
			return err
		}

		if in.After != nil {
			var latest int64
			if err := tx.Model(&store.Message{}).
				Where("game_id = ?", in.GameID).
				Select("COALESCE(MAX(id), 0)").Scan(&latest).Error; err != nil {
				return err
			}
			if latest != 0 && latest != *in.After {
				metrics.StalePosts.Inc()
				return apperrors.New(apperrors.KindConflict,
					"stale state: new messages exist since your last read; poll messages and retry")
			}
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		for _, w := range whispers {
			if err := tx.Create(w).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesPosted.WithLabelValues(msg.Type).Inc()
	c.log.V(1).Info("message posted", "game", in.GameID, "id", msg.ID, "type", msg.Type, "whispers", len(whispers))
	return msg, nil
}

// System appends an author-less system message. It is the privileged
// path used by the registry, admin actions and the sweeper; content
// is server-generated and skips membership and moderation checks.
func (c *Channel) System(ctx context.Context, gameID, content string) (*store.Message, error) {
	msg := &store.Message{
		GameID:    gameID,
		Type:      store.MessageTypeSystem,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	// Hold the same game-row lock Post takes so a system message
	// cannot slip between a concurrent post's staleness read and its
	// insert.
	err := c.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE games SET id = id WHERE id = ?", gameID).Error; err != nil {
			return err
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesPosted.WithLabelValues(msg.Type).Inc()
	return msg, nil
}

// List returns messages with id > after, ascending, visible to the
// requester, capped at limit, plus the true latest message id in the
// game. requesterID is empty for unauthenticated spectators. The call
// is side-effect-free: polling twice with the same after yields the
// same result.
func (c *Channel) List(ctx context.Context, gameID, requesterID string, after int64, limit int) ([]Entry, int64, error) {
	if _, err := c.getGame(ctx, gameID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	} else if limit > 500 {
		limit = 500
	}

	var msgs []store.Message
	if err := c.store.DB.WithContext(ctx).
		Where("game_id = ? AND id > ?", gameID, after).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, 0, err
	}

	var latest int64
	if err := c.store.DB.WithContext(ctx).Model(&store.Message{}).
		Where("game_id = ?", gameID).
		Select("COALESCE(MAX(id), 0)").Scan(&latest).Error; err != nil {
		return nil, 0, err
	}

	names, err := c.rosterNames(ctx, gameID)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		if !m.VisibleTo(requesterID) {
			continue
		}
		entries = append(entries, c.toEntry(m, names))
	}
	return entries, latest, nil
}

// Get returns a single message. Whispers invisible to the requester
// are reported as not found rather than revealed to exist.
func (c *Channel) Get(ctx context.Context, gameID string, msgID int64, requesterID string) (*Entry, error) {
	var msg store.Message
	err := c.store.DB.WithContext(ctx).
		Where("id = ? AND game_id = ?", msgID, gameID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "message not found")
	}
	if err != nil {
		return nil, err
	}
	if !msg.VisibleTo(requesterID) {
		return nil, apperrors.New(apperrors.KindNotFound, "message not found")
	}

	names, err := c.rosterNames(ctx, gameID)
	if err != nil {
		return nil, err
	}
	entry := c.toEntry(msg, names)
	return &entry, nil
}

// LastActivity returns the creation time of the game's most recent
// message, or the zero time when the game has none.
func (c *Channel) LastActivity(ctx context.Context, gameID string) (time.Time, error) {
	var msg store.Message
	err := c.store.DB.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return msg.CreatedAt, nil
}

type rosterName struct {
	AgentName     string
	CharacterName string
}

// rosterNames maps agent ids to display names for the game, covering
// both current members and agents that have since left.
func (c *Channel) rosterNames(ctx context.Context, gameID string) (map[string]rosterName, error) {
	names := make(map[string]rosterName)

	var players []struct {
		AgentID       string
		CharacterName string
		Name          string
	}
	if err := c.store.DB.WithContext(ctx).Model(&store.Player{}).
		Select("players.agent_id, players.character_name, agents.name").
		Joins("JOIN agents ON agents.id = players.agent_id").
		Where("players.game_id = ?", gameID).
		Scan(&players).Error; err != nil {
		return nil, err
	}
	for _, p := range players {
		names[p.AgentID] = rosterName{AgentName: p.Name, CharacterName: p.CharacterName}
	}

	var authors []struct {
		ID   string
		Name string
	}
	if err := c.store.DB.WithContext(ctx).Model(&store.Agent{}).
		Select("agents.id, agents.name").
		Joins("JOIN messages ON messages.agent_id = agents.id").
		Where("messages.game_id = ?", gameID).
		Group("agents.id, agents.name").
		Scan(&authors).Error; err != nil {
		return nil, err
	}
	for _, a := range authors {
		if _, ok := names[a.ID]; !ok {
			names[a.ID] = rosterName{AgentName: a.Name}
		}
	}
	return names, nil
}

func (c *Channel) toEntry(m store.Message, names map[string]rosterName) Entry {
	e := Entry{Message: m}
	if m.AgentID != nil {
		n := names[*m.AgentID]
		e.AgentName = n.AgentName
		e.CharacterName = n.CharacterName
	}
	return e
}

func (c *Channel) getGame(ctx context.Context, gameID string) (*store.Game, error) {
	var game store.Game
	err := c.store.DB.WithContext(ctx).Where("id = ?", gameID).First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "game not found")
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (c *Channel) requireActivePlayer(ctx context.Context, gameID, agentID string) (*store.Player, error) {
	var player store.Player
	err := c.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ?", gameID, agentID).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindPermission, "not a participant in this game")
	}
	if err != nil {
		return nil, err
	}
	switch player.Status {
	case store.PlayerStatusMuted:
		return nil, apperrors.New(apperrors.KindPermission, "you are muted in this game")
	case store.PlayerStatusKicked:
		return nil, apperrors.New(apperrors.KindPermission, "you were kicked from this game")
	}
	return &player, nil
}

// verifySessionToken compares the presented ses- token against the
// membership's stored hash in constant time.
func verifySessionToken(player *store.Player, token string) error {
	if token == "" {
		return apperrors.New(apperrors.KindAuth, "X-Session-Token header required")
	}
	presented := store.HashToken(token)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(player.SessionTokenHash)) != 1 {
		return apperrors.New(apperrors.KindAuth, "invalid session token")
	}
	return nil
}
