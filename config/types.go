package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it reads as "2s" from both TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Oracle tunes the symbol price module and its worker.
type Oracle struct {
	// GracePeriod and UnsignedPriority accept an explicit zero; only an
	// absent key takes the default.
	GracePeriod      *uint64 `toml:"GracePeriod" yaml:"grace_period"`
	UnsignedInterval uint64  `toml:"UnsignedInterval" yaml:"unsigned_interval"`
	UnsignedPriority *uint64 `toml:"UnsignedPriority" yaml:"unsigned_priority"`
	MaxPrices        uint32  `toml:"MaxPrices" yaml:"max_prices"`
	Longevity        uint64  `toml:"Longevity" yaml:"longevity"`

	SmoothingPeriod          uint32 `toml:"SmoothingPeriod" yaml:"smoothing_period"`
	EMAIncludeLatest         *bool  `toml:"EMAIncludeLatest" yaml:"ema_include_latest"`
	LegacyTruncatedSmoothing bool   `toml:"LegacyTruncatedSmoothing" yaml:"legacy_truncated_smoothing"`

	SourceURL    string   `toml:"SourceURL" yaml:"source_url"`
	FetchTimeout Duration `toml:"FetchTimeout" yaml:"fetch_timeout"`
	SubmitMode   string   `toml:"SubmitMode" yaml:"submit_mode"`
	Authorities  []string `toml:"Authorities" yaml:"authorities"`
	// LiveFetchPerMinute bounds the diagnostic live price endpoint.
	LiveFetchPerMinute int    `toml:"LiveFetchPerMinute" yaml:"live_fetch_per_minute"`
	JournalPath        string `toml:"JournalPath" yaml:"journal_path"`
}

// Blocks controls local block production.
type Blocks struct {
	Interval       Duration `toml:"Interval" yaml:"interval"`
	MaxTxs         int      `toml:"MaxTxs" yaml:"max_txs"`
	ReservedSigned int      `toml:"ReservedSigned" yaml:"reserved_signed"`
	MaxSignedPool  int      `toml:"MaxSignedPool" yaml:"max_signed_pool"`
}

// Logging mirrors logging.Options.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	// Headers is a comma separated key=value list.
	Headers string `toml:"Headers" yaml:"headers"`
	Metrics bool   `toml:"Metrics" yaml:"metrics"`
	Traces  bool   `toml:"Traces" yaml:"traces"`
}
