package config

import (
	"fmt"
	"strings"

	"pricechain/native/symbolprice"
	"pricechain/offchain"
)

// Validate checks a loaded configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if c.Blocks.Interval.Duration <= 0 {
		return fmt.Errorf("config: blocks.interval must be positive")
	}
	if c.Blocks.MaxTxs < 0 || c.Blocks.ReservedSigned < 0 {
		return fmt.Errorf("config: block limits must not be negative")
	}
	if c.Blocks.MaxTxs > 0 && c.Blocks.ReservedSigned > c.Blocks.MaxTxs {
		return fmt.Errorf("config: blocks.reserved_signed exceeds blocks.max_txs")
	}
	if c.Oracle.FetchTimeout.Duration <= 0 {
		return fmt.Errorf("config: oracle.fetch_timeout must be positive")
	}
	if !offchain.SubmitMode(c.Oracle.SubmitMode).Valid() {
		return fmt.Errorf("config: unknown oracle.submit_mode %q", c.Oracle.SubmitMode)
	}
	if c.Oracle.LiveFetchPerMinute < 0 {
		return fmt.Errorf("config: oracle.live_fetch_per_minute must not be negative")
	}
	return c.Params().Validate()
}

// Params converts the oracle section into module parameters.
func (c *Config) Params() symbolprice.Params {
	o := c.Oracle
	defaults := symbolprice.DefaultParams()
	includeLatest := true
	if o.EMAIncludeLatest != nil {
		includeLatest = *o.EMAIncludeLatest
	}
	grace, priority := defaults.GracePeriod, defaults.UnsignedPriority
	if o.GracePeriod != nil {
		grace = *o.GracePeriod
	}
	if o.UnsignedPriority != nil {
		priority = *o.UnsignedPriority
	}
	return symbolprice.Params{
		GracePeriod:              grace,
		UnsignedInterval:         o.UnsignedInterval,
		UnsignedPriority:         priority,
		MaxPrices:                o.MaxPrices,
		Longevity:                o.Longevity,
		SmoothingPeriod:          o.SmoothingPeriod,
		EMAIncludeLatest:         includeLatest,
		LegacyTruncatedSmoothing: o.LegacyTruncatedSmoothing,
		Authorities:              append([]string(nil), o.Authorities...),
	}
}
