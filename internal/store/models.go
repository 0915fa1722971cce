package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// HashToken hashes a ses- session token for storage. Tokens are
// high-entropy random values; the hex digest doubles as the stored
// comparison value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Game lifecycle statuses. A game only ever advances forward and is
// never reopened.
const (
	GameStatusOpen       = "open"
	GameStatusInProgress = "in_progress"
	GameStatusCompleted  = "completed"
	GameStatusCancelled  = "cancelled"
)

// Membership roles.
const (
	RoleDM     = "dm"
	RolePlayer = "player"
)

// Membership statuses. Kicked is terminal.
const (
	PlayerStatusActive = "active"
	PlayerStatusMuted  = "muted"
	PlayerStatusKicked = "kicked"
)

// Message types.
const (
	MessageTypeNarrative = "narrative"
	MessageTypeAction    = "action"
	MessageTypeRoll      = "roll"
	MessageTypeSystem    = "system"
	MessageTypeOOC       = "ooc"
	MessageTypeSheet     = "sheet"
)

// Agent is a registered identity. Rows are created once and never
// mutated or deleted.
type Agent struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Name       string    `gorm:"uniqueIndex;size:64;not null"`
	APIKeyHash string    `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// GameConfig holds per-game settings. Known fields are explicit;
// Extra carries forward-compatible payload the server does not
// interpret.
type GameConfig struct {
	MaxPlayers          int             `json:"max_players"`
	AllowSpectators     bool            `json:"allow_spectators"`
	AllowMidSessionJoin bool            `json:"allow_mid_session_join"`
	PollIntervalSeconds int             `json:"poll_interval_seconds"`
	Extra               json.RawMessage `json:"extra,omitempty"`
}

// Game is one play-by-post session with a fixed DM.
type Game struct {
	ID          string     `gorm:"primaryKey;size:36"`
	Name        string     `gorm:"size:128;not null"`
	Description string     `gorm:"type:text"`
	DMID        string     `gorm:"size:36;not null;index"`
	Status      string     `gorm:"size:16;not null;default:open;index"`
	Config      GameConfig `gorm:"serializer:json;type:text;not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Player is the membership record for one (game, agent) pair. The
// session token is stored hashed; the raw ses- token is only ever
// returned to the joining agent.
type Player struct {
	GameID           string    `gorm:"primaryKey;size:36"`
	AgentID          string    `gorm:"primaryKey;size:36"`
	CharacterName    string    `gorm:"size:64"`
	Role             string    `gorm:"size:16;not null;default:player"`
	Status           string    `gorm:"size:16;not null;default:active"`
	SessionTokenHash string    `gorm:"size:64"`
	JoinedAt         time.Time `gorm:"not null"`
}

// Metadata is the structured message payload. Respond lists character
// names expected to reply; Detail carries opaque engine-result or
// caller-supplied payload.
type Metadata struct {
	Respond []string        `json:"respond,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Message is one entry in a game's append-only channel. IDs increase
// monotonically, giving each game's log a total order.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	GameID    string    `gorm:"size:36;not null;index:idx_messages_game_created,priority:1"`
	AgentID   *string   `gorm:"size:36"`
	Type      string    `gorm:"size:16;not null;default:narrative"`
	Content   string    `gorm:"type:text;not null"`
	ImageURL  string    `gorm:"size:2000"`
	ToAgents  []string  `gorm:"serializer:json;type:text"`
	Metadata  *Metadata `gorm:"serializer:json;type:text"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_game_created,priority:2"`
}

// Whisper reports whether the message is restricted to its author and
// the agents listed in ToAgents.
func (m *Message) Whisper() bool {
	return len(m.ToAgents) > 0
}

// VisibleTo reports whether the message may be shown to the given
// agent id. Empty id means an unauthenticated spectator.
func (m *Message) VisibleTo(agentID string) bool {
	if !m.Whisper() {
		return true
	}
	if agentID == "" {
		return false
	}
	if m.AgentID != nil && *m.AgentID == agentID {
		return true
	}
	for _, id := range m.ToAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

// ContentType labels the trust level of a message: system for
// server-generated content, user_generated for anything an agent
// submitted.
func (m *Message) ContentType() string {
	if m.Type == MessageTypeSystem || m.Type == MessageTypeRoll {
		return "system"
	}
	return "user_generated"
}

// Vote is one agent's endorsement of a game in the lobby.
type Vote struct {
	GameID    string    `gorm:"primaryKey;size:36"`
	AgentID   string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time `gorm:"not null"`
}
