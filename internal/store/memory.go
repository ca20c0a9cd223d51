// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "vendora/internal/common/errors"
)

const (
	prefsKeyPrefix        = "vendora:prefs:"
	interactionsKeyPrefix = "vendora:interactions:"
	maxStoredInteractions = 50
)

// Preferences are per-dealership response preferences consulted when
// formatting answers.
type Preferences struct {
	PreferredVisualization string `json:"preferred_visualization,omitempty"`
	DetailLevel            string `json:"detail_level,omitempty"`
	Timezone               string `json:"timezone,omitempty"`
}

// Interaction records one processed query for conversational context.
type Interaction struct {
	TaskID     string                 `json:"task_id"`
	Query      string                 `json:"query"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Complexity string                 `json:"complexity"`
	State      string                 `json:"state"`
	Timestamp  time.Time              `json:"timestamp"`
}

// MemoryStore keeps dealership preferences and interaction history in
// Redis. Failures here degrade gracefully; callers treat them as advisory.
type MemoryStore struct {
	client *redis.Client
	logger Logger
}

func NewMemoryStore(client *redis.Client, logger Logger) *MemoryStore {
	return &MemoryStore{client: client, logger: logger}
}

// GetPreferences returns stored preferences, or zero-value defaults when
// none exist.
func (m *MemoryStore) GetPreferences(ctx context.Context, dealershipID string) (Preferences, error) {
	raw, err := m.client.Get(ctx, prefsKeyPrefix+dealershipID).Result()
	if err == redis.Nil {
		return Preferences{}, nil
	}
	if err != nil {
		return Preferences{}, stderrors.NewMemoryStoreFailedError("get_preferences", err)
	}

	var prefs Preferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		m.logger.Warn("Discarding malformed stored preferences", map[string]interface{}{
			"dealershipId": dealershipID,
			"error":        err.Error(),
		})
		return Preferences{}, nil
	}
	return prefs, nil
}

// SetPreferences stores preferences for a dealership.
func (m *MemoryStore) SetPreferences(ctx context.Context, dealershipID string, prefs Preferences) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return stderrors.NewMemoryStoreFailedError("set_preferences", err)
	}
	if err := m.client.Set(ctx, prefsKeyPrefix+dealershipID, payload, 0).Err(); err != nil {
		return stderrors.NewMemoryStoreFailedError("set_preferences", err)
	}
	return nil
}

// StoreInteraction prepends one interaction to the dealership's history,
// keeping the list bounded.
func (m *MemoryStore) StoreInteraction(ctx context.Context, dealershipID string, interaction Interaction) error {
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(interaction)
	if err != nil {
		return stderrors.NewMemoryStoreFailedError("store_interaction", err)
	}

	key := interactionsKeyPrefix + dealershipID
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxStoredInteractions-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return stderrors.NewMemoryStoreFailedError("store_interaction", err)
	}
	return nil
}

// RecentInteractions returns up to limit interactions, newest first.
func (m *MemoryStore) RecentInteractions(ctx context.Context, dealershipID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 10
	}

	raw, err := m.client.LRange(ctx, interactionsKeyPrefix+dealershipID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, stderrors.NewMemoryStoreFailedError("recent_interactions", err)
	}

	interactions := make([]Interaction, 0, len(raw))
	for _, item := range raw {
		var interaction Interaction
		if err := json.Unmarshal([]byte(item), &interaction); err != nil {
			continue
		}
		interactions = append(interactions, interaction)
	}
	return interactions, nil
}
