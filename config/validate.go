package config

import (
	"fmt"
	"strings"

	"proofofwork/core/genesis"
	"proofofwork/crypto"
	"proofofwork/native/escrow"
)

// Validate rejects settings the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if owner := strings.TrimSpace(c.Owner); owner != "" {
		if _, err := crypto.DecodeAddress(owner); err != nil {
			return fmt.Errorf("config: Owner: %w", err)
		}
	}
	if _, err := escrow.ParseMetric(c.Geofence.Metric, c.Geofence.CoordinateScale); err != nil {
		return fmt.Errorf("config: Geofence: %w", err)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("config: RateLimit.RequestsPerMinute must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: RateLimit.Burst must be positive")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("config: Auth.ClockSkewSeconds must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: Telemetry.SampleRatio must be within [0, 1]")
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported Indexer.Driver %q", c.Indexer.Driver)
	}
	if _, err := genesis.ParseAllocations(c.Genesis); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// OwnerAddress returns the configured owner, or the zero address when unset.
func (c *Config) OwnerAddress() ([20]byte, error) {
	owner := strings.TrimSpace(c.Owner)
	if owner == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(owner)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}
