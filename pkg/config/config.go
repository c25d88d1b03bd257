// Package config defines the engine's constructor input and validates it
// eagerly so a misconfigured node fails fast instead of misbehaving at
// runtime, using go-playground/validator/v10 struct tags.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/failuredetector"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gossiper"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

var validate = validator.New()

// EngineConfig is the constructor input for a GossipEngine. Invalid
// configuration is rejected synchronously at construction rather than
// logged and defaulted.
type EngineConfig struct {
	ClusterName string        `validate:"required"`
	NodeId      string        `validate:"required"`
	Endpoint    model.Endpoint `validate:"required"`
	Properties  map[string]string

	SeedMembers []model.Member

	FailureDetector failuredetector.Config `validate:"required"`
	Gossiper        gossiper.Config        `validate:"required"`

	ReaperPeriodMs    int `validate:"min=1"`
	RefresherPeriodMs int `validate:"min=1"`

	DiscoveryEnabled    bool
	DiscoveryTimeoutMs  int `validate:"min=0"`
	PersistenceEnabled  bool
	PersistencePath     string
	PersistencePeriodMs int `validate:"min=1"`
}

// DefaultEngineConfig returns an EngineConfig with reasonable period
// defaults, leaving the required (ClusterName, NodeId, Endpoint) fields for
// the caller to fill in.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FailureDetector:     failuredetector.DefaultConfig(),
		Gossiper:            gossiper.DefaultConfig(),
		ReaperPeriodMs:      1000,
		RefresherPeriodMs:   1000,
		DiscoveryTimeoutMs:  2000,
		PersistencePeriodMs: 60000,
	}
}

// Validate applies struct tags and cross-field constraints not expressible
// as tags.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.FailureDetector.MinimumSamples > c.FailureDetector.WindowSize {
		return fmt.Errorf("config: MinimumSamples (%d) exceeds WindowSize (%d)", c.FailureDetector.MinimumSamples, c.FailureDetector.WindowSize)
	}
	return nil
}
