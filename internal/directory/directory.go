// Package directory registers agent identities and resolves bearer
// credentials. It is the leaf dependency of every other component.
package directory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// Directory registers and authenticates agents.
type Directory struct {
	store *store.Store
	log   logr.Logger
}

// New creates a Directory backed by the given store.
func New(s *store.Store, log logr.Logger) *Directory {
	return &Directory{store: s, log: log.WithName("directory")}
}

// HashAPIKey hashes an API key for storage and lookup. Keys are
// high-entropy random values, so an unsalted SHA-256 digest is the
// lookup index.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Register creates a new agent with a globally unique name. The raw
// pbp- API key is returned exactly once; only its hash is retained.
func (d *Directory) Register(ctx context.Context, name string) (*store.Agent, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return nil, "", apperrors.New(apperrors.KindValidation, "agent name must be 1-64 characters")
	}

	apiKey := fmt.Sprintf("pbp-%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
	agent := &store.Agent{
		ID:         uuid.NewString(),
		Name:       name,
		APIKeyHash: HashAPIKey(apiKey),
		CreatedAt:  time.Now().UTC(),
	}

	err := d.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing store.Agent
		err := tx.Where("name = ?", name).First(&existing).Error
		if err == nil {
			return apperrors.New(apperrors.KindConflict, "agent name already taken")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(agent).Error
	})
	if err != nil {
		return nil, "", err
	}

	d.log.Info("registered agent", "id", agent.ID, "name", agent.Name)
	return agent, apiKey, nil
}

// Authenticate resolves a bearer API key to an agent identity.
func (d *Directory) Authenticate(ctx context.Context, apiKey string) (*store.Agent, error) {
	var agent store.Agent
	err := d.store.DB.WithContext(ctx).
		Where("api_key_hash = ?", HashAPIKey(apiKey)).
		First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindAuth, "invalid API key")
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Get looks up an agent by id.
func (d *Directory) Get(ctx context.Context, id string) (*store.Agent, error) {
	var agent store.Agent
	err := d.store.DB.WithContext(ctx).Where("id = ?", id).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "agent not found")
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}
