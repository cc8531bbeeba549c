package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"
)

// Storage keys shared with the ledger.
const (
	SessionKey  = "bot:state"
	statsPrefix = "bot:stats:"
)

// StatsKey returns the key of a symbol's persisted performance snapshot.
func StatsKey(symbol string) string {
	return statsPrefix + symbol
}

// Repository persists the session and stats records as versioned JSON on top of a Store.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// SaveSession stamps the current schema version and writes the record.
func (r *Repository) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	rec.Version = models.SessionRecordVersion
	return r.save(ctx, SessionKey, rec)
}

// LoadSession loads the session record.
// If no record is found, it returns (nil, nil).
func (r *Repository) LoadSession(ctx context.Context) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	found, err := r.load(ctx, SessionKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", SessionKey, err)
	}
	return &rec, nil
}

func (r *Repository) SaveStats(ctx context.Context, symbol string, snap models.PerformanceSnapshot) error {
	return r.save(ctx, StatsKey(symbol), &models.StatsRecord{
		Version:  models.StatsRecordVersion,
		Symbol:   symbol,
		Snapshot: snap,
	})
}

// LoadStats returns the persisted snapshot for symbol, or (nil, nil) when none exists.
func (r *Repository) LoadStats(ctx context.Context, symbol string) (*models.PerformanceSnapshot, error) {
	var rec models.StatsRecord
	found, err := r.load(ctx, StatsKey(symbol), &rec)
	if err != nil || !found {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", StatsKey(symbol), err)
	}
	if rec.Symbol != symbol {
		return nil, fmt.Errorf("load %s: record belongs to %q", StatsKey(symbol), rec.Symbol)
	}
	return &rec.Snapshot, nil
}

func (r *Repository) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (r *Repository) load(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("load %s: value is empty", key)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
