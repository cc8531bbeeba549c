package models

import (
	"fmt"
	"time"
)

// Schema versions of the persisted records. Bump when a field changes meaning.
const (
	SessionRecordVersion = 1
	StatsRecordVersion   = 1
)

// SessionRecord is the persisted bot state, stored under "bot:state".
type SessionRecord struct {
	Version   int         `json:"version"`   // schema version
	SessionID string      `json:"sessionId"` // set while running
	IsRunning bool        `json:"isRunning"`
	Config    *GridConfig `json:"config"` // nil when stopped
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Validate checks a loaded record against the current schema.
func (r *SessionRecord) Validate() error {
	if r.Version != SessionRecordVersion {
		return fmt.Errorf("session record version %d, want %d", r.Version, SessionRecordVersion)
	}
	if r.IsRunning {
		if r.Config == nil {
			return fmt.Errorf("running session record has no config")
		}
		if err := r.Config.Validate(); err != nil {
			return fmt.Errorf("session record config: %w", err)
		}
	}
	return nil
}

// StatsRecord is the persisted performance snapshot of one symbol, stored under "bot:stats:{symbol}".
type StatsRecord struct {
	Version  int                 `json:"version"`
	Symbol   string              `json:"symbol"`
	Snapshot PerformanceSnapshot `json:"snapshot"`
}

// Validate checks a loaded record against the current schema.
func (r *StatsRecord) Validate() error {
	if r.Version != StatsRecordVersion {
		return fmt.Errorf("stats record version %d, want %d", r.Version, StatsRecordVersion)
	}
	if r.Symbol == "" {
		return fmt.Errorf("stats record has no symbol")
	}
	if r.Snapshot.ProfitableTrades > r.Snapshot.TotalTrades {
		return fmt.Errorf("stats record has %d profitable of %d trades", r.Snapshot.ProfitableTrades, r.Snapshot.TotalTrades)
	}
	return nil
}
