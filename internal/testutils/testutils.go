// Package testutils provides testing helpers shared by the oracle test
// suites: a zerolog test logger and canonical chain/frame fixtures. This
// package is intended for testing purposes only and should not be used in
// production code.
package testutils

import (
	"os"
	"testing"
	"time"

	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thep2p/go-staking-oracle/internal/frame"
)

// Genesis is the fixed genesis instant used by test fixtures.
var Genesis = time.Unix(1606824023, 0).UTC()

// Logger returns a zerolog.Logger configured for testing.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(os.Stdout).Level(zerolog.DebugLevel)
}

// ChainConfig returns mainnet-like chain timing anchored at Genesis.
func ChainConfig() frame.ChainConfig {
	return frame.ChainConfig{
		SlotsPerEpoch:  32,
		SecondsPerSlot: 12,
		GenesisTime:    uint64(Genesis.Unix()),
	}
}

// NewClock builds a frame clock over the canonical test chain config.
func NewClock(t *testing.T, initialEpoch primitives.Epoch, epochsPerFrame uint64) *frame.Clock {
	t.Helper()

	clock, err := frame.NewClock(ChainConfig(), frame.Config{
		InitialEpoch:   initialEpoch,
		EpochsPerFrame: epochsPerFrame,
	})
	require.NoError(t, err, "test clock construction should succeed")
	return clock
}
