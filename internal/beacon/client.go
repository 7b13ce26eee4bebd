// Package beacon discovers chain timing parameters from a beacon node.
//
// The oracle daemon can either be configured with explicit chain
// parameters or point at a beacon node's HTTP API and derive them from
// the genesis and spec endpoints.
package beacon

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/rs/zerolog"

	"github.com/thep2p/go-staking-oracle/internal/frame"
)

const (
	// clientTimeout bounds the whole HTTP client lifetime.
	clientTimeout = 2 * time.Minute

	// requestTimeout bounds each individual beacon API request.
	requestTimeout = 20 * time.Second
)

// Client wraps a beacon node HTTP connection.
type Client struct {
	logger zerolog.Logger
	eth2   *eth2http.Service
}

// NewClient connects to the beacon node at the given endpoint.
func NewClient(ctx context.Context, logger zerolog.Logger, endpoint string) (*Client, error) {
	service, err := eth2http.New(ctx,
		eth2http.WithAddress(endpoint),
		eth2http.WithHTTPClient(&nethttp.Client{Timeout: clientTimeout}),
		eth2http.WithTimeout(requestTimeout),
		eth2http.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to beacon node %s: %w", endpoint, err)
	}

	return &Client{
		logger: logger.With().Str("component", "beacon-client").Logger(),
		eth2:   service.(*eth2http.Service),
	}, nil
}

// ChainConfig derives the oracle's chain timing from the beacon node's
// genesis and spec endpoints.
func (c *Client) ChainConfig(ctx context.Context) (frame.ChainConfig, error) {
	genesis, err := c.eth2.Genesis(ctx, &api.GenesisOpts{})
	if err != nil {
		return frame.ChainConfig{}, fmt.Errorf("fetch genesis: %w", err)
	}

	spec, err := c.eth2.Spec(ctx, &api.SpecOpts{})
	if err != nil {
		return frame.ChainConfig{}, fmt.Errorf("fetch spec: %w", err)
	}

	secondsPerSlot, ok := spec.Data["SECONDS_PER_SLOT"].(time.Duration)
	if !ok {
		return frame.ChainConfig{}, fmt.Errorf("spec is missing SECONDS_PER_SLOT")
	}
	slotsPerEpoch, ok := spec.Data["SLOTS_PER_EPOCH"].(uint64)
	if !ok {
		return frame.ChainConfig{}, fmt.Errorf("spec is missing SLOTS_PER_EPOCH")
	}

	cfg := frame.ChainConfig{
		SlotsPerEpoch:  slotsPerEpoch,
		SecondsPerSlot: uint64(secondsPerSlot / time.Second),
		GenesisTime:    uint64(genesis.Data.GenesisTime.Unix()),
	}
	if err := cfg.Validate(); err != nil {
		return frame.ChainConfig{}, err
	}

	c.logger.Info().
		Uint64("slots_per_epoch", cfg.SlotsPerEpoch).
		Uint64("seconds_per_slot", cfg.SecondsPerSlot).
		Uint64("genesis_time", cfg.GenesisTime).
		Msg("chain config discovered from beacon node")
	return cfg, nil
}
