// Package frame derives reporting frames from beacon chain time.
//
// A frame is a fixed-size group of epochs that shares a single reference
// slot. Committee members agree on one report per frame, so everything in
// the oracle that needs to know "which window are we in" asks this package.
package frame

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
)

// ErrInvalidChainConfig is returned when chain or frame parameters are zero
// or otherwise unusable. Configuration problems are terminal: they are
// reported at construction time and never defaulted away.
var ErrInvalidChainConfig = errors.New("invalid chain config")

// ChainConfig holds the immutable beacon chain timing parameters.
//
// All fields are required and must be positive. GenesisTime is a Unix
// timestamp in seconds.
type ChainConfig struct {
	// SlotsPerEpoch is the number of slots in one epoch (32 on mainnet).
	SlotsPerEpoch uint64 `validate:"required,gt=0"`

	// SecondsPerSlot is the slot duration in seconds (12 on mainnet).
	SecondsPerSlot uint64 `validate:"required,gt=0"`

	// GenesisTime is the Unix timestamp of slot zero.
	GenesisTime uint64 `validate:"required,gt=0"`
}

// Validate checks the chain parameters and wraps any violation in
// ErrInvalidChainConfig.
func (c ChainConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChainConfig, err)
	}
	return nil
}

// Config holds the frame schedule layered on top of a ChainConfig.
//
// InitialEpoch is the first epoch of frame zero. It may be moved forward
// (and only forward) while it has not yet arrived, which re-anchors the
// whole frame schedule.
type Config struct {
	// InitialEpoch is the epoch at which frame zero begins.
	InitialEpoch primitives.Epoch

	// EpochsPerFrame is the number of epochs covered by one frame.
	EpochsPerFrame uint64 `validate:"required,gt=0"`
}

// Validate checks the frame parameters and wraps any violation in
// ErrInvalidChainConfig.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChainConfig, err)
	}
	return nil
}
