package channel

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// narrationEnvelope is the structured payload some DM callers emit
// instead of plain narration text.
type narrationEnvelope struct {
	Narration *string           `json:"narration"`
	Respond   []string          `json:"respond"`
	Whispers  []whisperEnvelope `json:"whispers"`
}

type whisperEnvelope struct {
	To      []string `json:"to"`
	Content string   `json:"content"`
}

// normalize rewrites a DM narrative/system message whose content is a
// JSON envelope carrying a narration field: the inner narration
// becomes the stored content, any respond list is merged into
// metadata, and each whisper is returned as an extra message to be
// appended after the main one. Plain text and envelopes without a
// narration key pass through untouched. Player messages never reach
// this path.
func (c *Channel) normalize(ctx context.Context, msg *store.Message) ([]*store.Message, error) {
	trimmed := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, nil
	}
	var env narrationEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Narration == nil {
		return nil, nil
	}

	msg.Content = *env.Narration
	if len(env.Respond) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = &store.Metadata{}
		}
		msg.Metadata.Respond = env.Respond
	}

	if len(env.Whispers) == 0 {
		return nil, nil
	}

	byName, err := c.agentIDsByName(ctx, msg.GameID)
	if err != nil {
		return nil, err
	}

	var whispers []*store.Message
	for _, w := range env.Whispers {
		if w.Content == "" {
			continue
		}
		if err := c.gate.CheckText(w.Content); err != nil {
			return nil, err
		}
		var recipients []string
		for _, name := range w.To {
			if id, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
				recipients = append(recipients, id)
			} else {
				c.log.Info("whisper target not in roster, skipping", "game", msg.GameID, "target", name)
			}
		}
		if len(recipients) == 0 {
			continue
		}
		whispers = append(whispers, &store.Message{
			GameID:    msg.GameID,
			AgentID:   msg.AgentID,
			Type:      msg.Type,
			Content:   w.Content,
			ToAgents:  recipients,
			CreatedAt: msg.CreatedAt,
		})
	}
	return whispers, nil
}

// agentIDsByName maps lowercased character and agent names to agent
// ids for the game's roster.
func (c *Channel) agentIDsByName(ctx context.Context, gameID string) (map[string]string, error) {
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
	byName := make(map[string]string, len(players)*2)
	for _, p := range players {
		byName[strings.ToLower(p.Name)] = p.AgentID
		if p.CharacterName != "" {
			byName[strings.ToLower(p.CharacterName)] = p.AgentID
		}
	}
	return byName, nil
}
