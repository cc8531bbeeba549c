package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grid-trading-bot-go/internal/models"

	"gopkg.in/yaml.v3"
)

// Exchange adapter names accepted in exchange.name.
const (
	ExchangePaper   = "paper"
	ExchangeXeggex  = "xeggex"
	ExchangeBinance = "binance"
)

// LoadConfig reads the config file at path. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON. Defaults are applied before validation.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	ApplyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// ApplyDefaults fills every zero setting that has a sensible default.
func ApplyDefaults(c *models.Config) {
	if c.Exchange.Name == "" {
		c.Exchange.Name = ExchangePaper
	}
	c.Exchange.Name = strings.ToLower(c.Exchange.Name)
	if c.Exchange.TimeoutSec <= 0 {
		c.Exchange.TimeoutSec = 10
	}
	if c.Exchange.RateLimit <= 0 {
		c.Exchange.RateLimit = 5
	}
	if c.Exchange.RateBurst <= 0 {
		c.Exchange.RateBurst = 10
	}
	if c.DBPath == "" {
		c.DBPath = "data/badger"
	}
	if c.JournalPath == "" {
		c.JournalPath = "data/journal.db"
	}

	e := &c.Engine
	if e.ReconcileIntervalSec <= 0 {
		e.ReconcileIntervalSec = 10
	}
	if e.RecentreIntervalSec <= 0 {
		e.RecentreIntervalSec = 60
	}
	if e.RecentreMaxAgeMin <= 0 {
		e.RecentreMaxAgeMin = 30
	}
	if e.RecentreDriftPct <= 0 {
		e.RecentreDriftPct = 2
	}
	if e.OptimizeIntervalHours <= 0 {
		e.OptimizeIntervalHours = 4
	}
	if e.CallTimeoutSec <= 0 {
		e.CallTimeoutSec = 10
	}
	if e.CancelWorkers <= 0 {
		e.CancelWorkers = 8
	}
	if e.StatusIntervalSec <= 0 {
		e.StatusIntervalSec = 30
	}

	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.LogConfig.Output == "" {
		c.LogConfig.Output = "console"
	}
	if c.LogConfig.File == "" {
		c.LogConfig.File = "logs/grid-bot.log"
	}
	if c.LogConfig.MaxSize <= 0 {
		c.LogConfig.MaxSize = 100
	}
}

// Validate checks the grid parameters and the settings defaults cannot repair.
func Validate(c *models.Config) error {
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	switch c.Exchange.Name {
	case ExchangePaper, ExchangeXeggex, ExchangeBinance:
	default:
		return fmt.Errorf("exchange.name %q: want paper, xeggex or binance", c.Exchange.Name)
	}
	if c.Engine.RecentreDriftPct >= 100 {
		return fmt.Errorf("engine.recentre_drift_pct %v: must be below 100", c.Engine.RecentreDriftPct)
	}
	switch strings.ToLower(c.LogConfig.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("log.output %q: want console, file or both", c.LogConfig.Output)
	}
	for asset, amount := range c.Exchange.PaperBalances {
		if amount < 0 {
			return fmt.Errorf("exchange.paper_balances.%s: must not be negative", asset)
		}
	}
	return nil
}
