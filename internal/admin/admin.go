// Package admin implements the DM-only roster actions: kick, mute,
// unmute and invite. Every action announces itself with a system
// message through the channel.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/gorm"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/moderation"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// Admin performs DM roster actions.
type Admin struct {
	store    *store.Store
	registry *registry.Registry
	channel  *channel.Channel
	gate     *moderation.Gate
	log      logr.Logger
}

// New creates an Admin.
func New(s *store.Store, reg *registry.Registry, ch *channel.Channel, gate *moderation.Gate, log logr.Logger) *Admin {
	return &Admin{store: s, registry: reg, channel: ch, gate: gate, log: log.WithName("admin")}
}

// Kick removes a player from the game permanently. Kicked is a
// one-way state: the target can never rejoin or be unmuted back in.
// The reason is passed through the moderation gate; a rejected reason
// is replaced rather than failing the kick.
func (a *Admin) Kick(ctx context.Context, gameID string, caller *store.Agent, targetID, reason string) error {
	if err := a.verifyDM(ctx, gameID, caller.ID); err != nil {
		return err
	}

	var player store.Player
	err := a.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ? AND role = ?", gameID, targetID, store.RolePlayer).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, "player not found in game")
	}
	if err != nil {
		return err
	}

	if err := a.store.DB.WithContext(ctx).Model(&store.Player{}).
		Where("game_id = ? AND agent_id = ?", gameID, targetID).
		Update("status", store.PlayerStatusKicked).Error; err != nil {
		return err
	}

	msg := fmt.Sprintf("%s was kicked from the game.", a.targetName(ctx, targetID))
	if reason != "" {
		if err := a.gate.CheckText(reason); err != nil {
			reason = "[moderated]"
		}
		msg += fmt.Sprintf(" Reason: %s", reason)
	}
	_, err = a.channel.System(ctx, gameID, msg)
	if err == nil {
		a.log.Info("player kicked", "game", gameID, "target", targetID)
	}
	return err
}

// Mute silences an active player. Muted players can still read the
// channel but their posts are rejected.
func (a *Admin) Mute(ctx context.Context, gameID string, caller *store.Agent, targetID string) error {
	if err := a.verifyDM(ctx, gameID, caller.ID); err != nil {
		return err
	}

	// Only active players transition to muted; kicked stays kicked.
	if err := a.store.DB.WithContext(ctx).Model(&store.Player{}).
		Where("game_id = ? AND agent_id = ? AND role = ? AND status = ?",
			gameID, targetID, store.RolePlayer, store.PlayerStatusActive).
		Update("status", store.PlayerStatusMuted).Error; err != nil {
		return err
	}

	_, err := a.channel.System(ctx, gameID, fmt.Sprintf("%s was muted.", a.targetName(ctx, targetID)))
	return err
}

// Unmute restores a muted player to active. A kicked player is
// unaffected: kicking is terminal and wins.
func (a *Admin) Unmute(ctx context.Context, gameID string, caller *store.Agent, targetID string) error {
	if err := a.verifyDM(ctx, gameID, caller.ID); err != nil {
		return err
	}

	if err := a.store.DB.WithContext(ctx).Model(&store.Player{}).
		Where("game_id = ? AND agent_id = ? AND role = ? AND status = ?",
			gameID, targetID, store.RolePlayer, store.PlayerStatusMuted).
		Update("status", store.PlayerStatusActive).Error; err != nil {
		return err
	}

	_, err := a.channel.System(ctx, gameID, fmt.Sprintf("%s was unmuted.", a.targetName(ctx, targetID)))
	return err
}

// Invite adds an agent to the game directly, bypassing the capacity
// and mid-session-join checks a normal join is subject to.
func (a *Admin) Invite(ctx context.Context, gameID string, caller *store.Agent, targetID string) (string, error) {
	if err := a.verifyDM(ctx, gameID, caller.ID); err != nil {
		return "", err
	}

	var target store.Agent
	err := a.store.DB.WithContext(ctx).Where("id = ?", targetID).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.New(apperrors.KindNotFound, "agent not found")
	}
	if err != nil {
		return "", err
	}

	token := ""
	err = a.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing store.Player
		err := tx.Where("game_id = ? AND agent_id = ?", gameID, targetID).First(&existing).Error
		if err == nil {
			return apperrors.New(apperrors.KindConflict, "agent already in game")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		token = registry.NewSessionToken()
		return tx.Create(&store.Player{
			GameID:           gameID,
			AgentID:          targetID,
			Role:             store.RolePlayer,
			Status:           store.PlayerStatusActive,
			SessionTokenHash: store.HashToken(token),
			JoinedAt:         time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return "", err
	}

	_, err = a.channel.System(ctx, gameID, fmt.Sprintf("%s was invited to the game.", target.Name))
	return token, err
}

func (a *Admin) verifyDM(ctx context.Context, gameID, agentID string) error {
	game, err := a.registry.Get(ctx, gameID)
	if err != nil {
		return err
	}
	if game.DMID != agentID {
		return apperrors.New(apperrors.KindPermission, "only the DM can perform this action")
	}
	return nil
}

// targetName resolves an agent id to its display name, falling back
// to the raw id.
func (a *Admin) targetName(ctx context.Context, agentID string) string {
	var agent store.Agent
	if err := a.store.DB.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error; err != nil {
		return agentID
	}
	return agent.Name
}
