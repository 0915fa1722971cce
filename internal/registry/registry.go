// Package registry owns game lifecycle and the membership roster.
// Status only ever advances forward (open → in_progress → completed,
// or → cancelled); games are never reopened, and every game has
// exactly one DM for its whole lifetime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// Registry manages games and memberships.
type Registry struct {
	store   *store.Store
	channel *channel.Channel
	log     logr.Logger

	defaultMaxPlayers   int
	pollIntervalSeconds int

	statsMu    sync.Mutex
	statsCache *LobbyStats
	statsAt    time.Time
}

// New creates a Registry. Lobby defaults are applied to game configs
// that omit them.
func New(s *store.Store, ch *channel.Channel, defaultMaxPlayers, pollIntervalSeconds int, log logr.Logger) *Registry {
	return &Registry{
		store:               s,
		channel:             ch,
		log:                 log.WithName("registry"),
		defaultMaxPlayers:   defaultMaxPlayers,
		pollIntervalSeconds: pollIntervalSeconds,
	}
}

// NewSessionToken issues a fresh ses- capability token. The raw value
// is returned to the caller exactly once; memberships store its hash.
func NewSessionToken() string {
	return fmt.Sprintf("ses-%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Create makes a new game owned by the creating agent. The DM
// membership is created in the same transaction, so no game ever
// exists without an owner. Returns the game and the DM's session
// token.
func (r *Registry) Create(ctx context.Context, owner *store.Agent, name, description string, cfg store.GameConfig) (*store.Game, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, "", apperrors.New(apperrors.KindValidation, "game name must be 1-128 characters")
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = r.defaultMaxPlayers
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = r.pollIntervalSeconds
	}

	now := time.Now().UTC()
	game := &store.Game{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		DMID:        owner.ID,
		Status:      store.GameStatusOpen,
		Config:      cfg,
		CreatedAt:   now,
	}
	token := NewSessionToken()
	dm := &store.Player{
		GameID:           game.ID,
		AgentID:          owner.ID,
		Role:             store.RoleDM,
		Status:           store.PlayerStatusActive,
		SessionTokenHash: store.HashToken(token),
		JoinedAt:         now,
	}

	err := r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(game).Error; err != nil {
			return err
		}
		return tx.Create(dm).Error
	})
	if err != nil {
		return nil, "", err
	}

	if _, err := r.channel.System(ctx, game.ID,
		fmt.Sprintf("Game %q created by %s (DM).", game.Name, owner.Name)); err != nil {
		return nil, "", err
	}
	r.log.Info("game created", "game", game.ID, "name", game.Name, "dm", owner.Name)
	return game, token, nil
}

// Join adds an agent to a game as a player and issues a fresh session
// token distinct from any prior one.
func (r *Registry) Join(ctx context.Context, gameID string, agent *store.Agent, characterName string) (*store.Player, string, error) {
	token := NewSessionToken()
	player := &store.Player{
		GameID:           gameID,
		AgentID:          agent.ID,
		CharacterName:    characterName,
		Role:             store.RolePlayer,
		Status:           store.PlayerStatusActive,
		SessionTokenHash: store.HashToken(token),
		JoinedAt:         time.Now().UTC(),
	}

	err := r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Take the game row's write lock so concurrent joins cannot
		// both pass the capacity check.
		if err := tx.Exec("UPDATE games SET id = id WHERE id = ?", gameID).Error; err != nil {
			return err
		}

		var game store.Game
		err := tx.Where("id = ?", gameID).First(&game).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.New(apperrors.KindNotFound, "game not found")
		}
		if err != nil {
			return err
		}

		if game.Status == store.GameStatusCompleted || game.Status == store.GameStatusCancelled {
			return apperrors.New(apperrors.KindState, "game is no longer active")
		}
		if game.Status == store.GameStatusInProgress && !game.Config.AllowMidSessionJoin {
			return apperrors.New(apperrors.KindState, "mid-session join not allowed")
		}

		var existing store.Player
		err = tx.Where("game_id = ? AND agent_id = ?", gameID, agent.ID).First(&existing).Error
		if err == nil {
			if existing.Status == store.PlayerStatusKicked {
				return apperrors.New(apperrors.KindPermission, "you were kicked from this game")
			}
			return apperrors.New(apperrors.KindConflict, "already in game")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&store.Player{}).
			Where("game_id = ? AND role = ? AND status = ?", gameID, store.RolePlayer, store.PlayerStatusActive).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(game.Config.MaxPlayers) {
			return apperrors.New(apperrors.KindState, "game is full")
		}

		return tx.Create(player).Error
	})
	if err != nil {
		return nil, "", err
	}

	charInfo := ""
	if characterName != "" {
		charInfo = fmt.Sprintf(" as %s", characterName)
	}
	if _, err := r.channel.System(ctx, gameID,
		fmt.Sprintf("%s joined%s.", agent.Name, charInfo)); err != nil {
		return nil, "", err
	}
	return player, token, nil
}

// Leave removes a player's membership. The DM cannot leave; a game's
// DM is fixed for its lifetime.
func (r *Registry) Leave(ctx context.Context, gameID string, agent *store.Agent) error {
	if _, err := r.Get(ctx, gameID); err != nil {
		return err
	}

	var player store.Player
	err := r.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ?", gameID, agent.ID).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, "not in game")
	}
	if err != nil {
		return err
	}
	if player.Role == store.RoleDM {
		return apperrors.New(apperrors.KindState, "DM cannot leave their own game")
	}

	if err := r.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ?", gameID, agent.ID).
		Delete(&store.Player{}).Error; err != nil {
		return err
	}
	_, err = r.channel.System(ctx, gameID, fmt.Sprintf("%s left the game.", agent.Name))
	return err
}

// Start transitions an open game to in_progress. DM only.
func (r *Registry) Start(ctx context.Context, gameID string, caller *store.Agent) error {
	game, err := r.requireDM(ctx, gameID, caller.ID)
	if err != nil {
		return err
	}
	if game.Status != store.GameStatusOpen {
		return apperrors.Newf(apperrors.KindState, "game cannot be started (status: %s)", game.Status)
	}

	now := time.Now().UTC()
	if err := r.store.DB.WithContext(ctx).Model(&store.Game{}).
		Where("id = ? AND status = ?", gameID, store.GameStatusOpen).
		Updates(map[string]any{"status": store.GameStatusInProgress, "started_at": now}).Error; err != nil {
		return err
	}
	_, err = r.channel.System(ctx, gameID, "Game started!")
	return err
}

// End transitions a game to completed. DM only.
func (r *Registry) End(ctx context.Context, gameID string, caller *store.Agent) error {
	game, err := r.requireDM(ctx, gameID, caller.ID)
	if err != nil {
		return err
	}
	return r.Complete(ctx, game, "Game ended.")
}

// Complete performs the one-way completed transition and posts the
// closure system message. It is shared by the DM's End and the
// inactivity sweeper, so the closure message invariant always holds.
func (r *Registry) Complete(ctx context.Context, game *store.Game, closureMessage string) error {
	if game.Status != store.GameStatusOpen && game.Status != store.GameStatusInProgress {
		return apperrors.Newf(apperrors.KindState, "game cannot be ended (status: %s)", game.Status)
	}

	now := time.Now().UTC()
	res := r.store.DB.WithContext(ctx).Model(&store.Game{}).
		Where("id = ? AND status IN ?", game.ID, []string{store.GameStatusOpen, store.GameStatusInProgress}).
		Updates(map[string]any{"status": store.GameStatusCompleted, "completed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a race with another closer; the transition already
		// happened and its message was posted.
		return apperrors.Newf(apperrors.KindState, "game cannot be ended (status: %s)", store.GameStatusCompleted)
	}
	_, err := r.channel.System(ctx, game.ID, closureMessage)
	return err
}

// UpdateConfig replaces a game's config. DM only.
func (r *Registry) UpdateConfig(ctx context.Context, gameID string, caller *store.Agent, cfg store.GameConfig) error {
	if _, err := r.requireDM(ctx, gameID, caller.ID); err != nil {
		return err
	}
	if cfg.MaxPlayers <= 0 {
		return apperrors.New(apperrors.KindValidation, "max_players must be positive")
	}
	// A struct Updates with an explicit Select runs the json
	// serializer; a single-column Update would hand the struct
	// straight to the driver.
	return r.store.DB.WithContext(ctx).Model(&store.Game{}).
		Where("id = ?", gameID).
		Select("config").
		Updates(&store.Game{Config: cfg}).Error
}

// Get looks up a game by id.
func (r *Registry) Get(ctx context.Context, gameID string) (*store.Game, error) {
	var game store.Game
	err := r.store.DB.WithContext(ctx).Where("id = ?", gameID).First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "game not found")
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// PlayerInfo is one roster entry with the agent's display name.
type PlayerInfo struct {
	AgentID       string    `json:"agent_id"`
	AgentName     string    `json:"agent_name"`
	CharacterName string    `json:"character_name,omitempty"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Roster returns every membership the game has ever recorded,
// including muted and kicked agents.
func (r *Registry) Roster(ctx context.Context, gameID string) ([]PlayerInfo, error) {
	if _, err := r.Get(ctx, gameID); err != nil {
		return nil, err
	}

	var rows []struct {
		AgentID       string
		Name          string
		CharacterName string
		Role          string
		Status        string
		JoinedAt      time.Time
	}
	if err := r.store.DB.WithContext(ctx).Model(&store.Player{}).
		Select("players.agent_id, agents.name, players.character_name, players.role, players.status, players.joined_at").
		Joins("JOIN agents ON agents.id = players.agent_id").
		Where("players.game_id = ?", gameID).
		Order("players.joined_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	infos := make([]PlayerInfo, len(rows))
	for i, row := range rows {
		infos[i] = PlayerInfo{
			AgentID:       row.AgentID,
			AgentName:     row.Name,
			CharacterName: row.CharacterName,
			Role:          row.Role,
			Status:        row.Status,
			JoinedAt:      row.JoinedAt,
		}
	}
	return infos, nil
}

// Membership returns the membership record for the game and agent,
// regardless of role or status.
func (r *Registry) Membership(ctx context.Context, gameID, agentID string) (*store.Player, error) {
	var player store.Player
	err := r.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ?", gameID, agentID).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "not in game")
	}
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// OpenGames returns all games still accepting activity, for the
// sweeper.
func (r *Registry) OpenGames(ctx context.Context) ([]store.Game, error) {
	var games []store.Game
	err := r.store.DB.WithContext(ctx).
		Where("status IN ?", []string{store.GameStatusOpen, store.GameStatusInProgress}).
		Find(&games).Error
	return games, err
}

func (r *Registry) requireDM(ctx context.Context, gameID, agentID string) (*store.Game, error) {
	game, err := r.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.DMID != agentID {
		return nil, apperrors.New(apperrors.KindPermission, "only the DM can perform this action")
	}
	return game, nil
}
