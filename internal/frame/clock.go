package frame

import (
	"errors"
	"fmt"
	"sync"
	"time"

	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
)

var (
	// ErrInitialEpochYetToArrive is returned when the frame schedule is
	// queried before its initial epoch has been reached on chain.
	ErrInitialEpochYetToArrive = errors.New("initial epoch is yet to arrive")

	// ErrInitialEpochAlreadyArrived is returned when an initial-epoch
	// update would move the schedule anchor into the past. Updates are
	// one-directional: forward, and only while the anchor is still ahead.
	ErrInitialEpochAlreadyArrived = errors.New("initial epoch already arrived")

	// ErrTimeBeforeGenesis is returned when a wall-clock instant precedes
	// the chain's genesis time.
	ErrTimeBeforeGenesis = errors.New("time is before genesis")
)

// Frame identifies one reporting window.
type Frame struct {
	// Index is the zero-based frame number since InitialEpoch.
	Index uint64

	// RefSlot is the canonical reference slot of the frame. All reports
	// for the frame attest to chain state as of this slot.
	RefSlot primitives.Slot

	// ProcessingDeadlineSlot is the last slot at which a report for this
	// frame may still be processed. Past it, the window is abandoned.
	ProcessingDeadlineSlot primitives.Slot
}

// Clock computes epochs, slots, and reporting frames from wall-clock time.
//
// The chain parameters are fixed for the life of the clock. The frame
// schedule (initial epoch, epochs per frame) may be migrated forward via
// UpdateInitialEpoch while the new anchor has not yet arrived.
type Clock struct {
	chain ChainConfig

	mu  sync.RWMutex
	cfg Config
}

// NewClock validates both configurations and returns a clock.
func NewClock(chain ChainConfig, cfg Config) (*Clock, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Clock{chain: chain, cfg: cfg}, nil
}

// ChainConfig returns the immutable chain timing parameters.
func (c *Clock) ChainConfig() ChainConfig {
	return c.chain
}

// Config returns the current frame schedule.
func (c *Clock) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SlotAt returns the slot containing the given instant.
func (c *Clock) SlotAt(t time.Time) (primitives.Slot, error) {
	ts := uint64(t.Unix())
	if t.Unix() < 0 || ts < c.chain.GenesisTime {
		return 0, fmt.Errorf("%w: %s", ErrTimeBeforeGenesis, t.UTC())
	}
	return primitives.Slot((ts - c.chain.GenesisTime) / c.chain.SecondsPerSlot), nil
}

// EpochAt returns the epoch containing the given instant.
func (c *Clock) EpochAt(t time.Time) (primitives.Epoch, error) {
	slot, err := c.SlotAt(t)
	if err != nil {
		return 0, err
	}
	return primitives.Epoch(uint64(slot) / c.chain.SlotsPerEpoch), nil
}

// SlotStart returns the wall-clock instant at which the given slot begins.
func (c *Clock) SlotStart(slot primitives.Slot) time.Time {
	return time.Unix(int64(c.chain.GenesisTime+uint64(slot)*c.chain.SecondsPerSlot), 0).UTC()
}

// InitialEpochArrived reports whether the frame schedule's initial epoch
// has been reached at the given instant.
func (c *Clock) InitialEpochArrived(t time.Time) bool {
	epoch, err := c.EpochAt(t)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return epoch >= c.cfg.InitialEpoch
}

// FrameAt returns the reporting frame containing the given instant.
//
// Returns ErrInitialEpochYetToArrive while the schedule anchor is still in
// the future.
func (c *Clock) FrameAt(t time.Time) (Frame, error) {
	epoch, err := c.EpochAt(t)
	if err != nil {
		return Frame{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameOfEpoch(epoch)
}

// FrameOfSlot returns the reporting frame containing the given slot.
func (c *Clock) FrameOfSlot(slot primitives.Slot) (Frame, error) {
	return c.FrameOfEpoch(primitives.Epoch(uint64(slot) / c.chain.SlotsPerEpoch))
}

// FrameOfEpoch returns the reporting frame containing the given epoch.
func (c *Clock) FrameOfEpoch(epoch primitives.Epoch) (Frame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameOfEpoch(epoch)
}

func (c *Clock) frameOfEpoch(epoch primitives.Epoch) (Frame, error) {
	if epoch < c.cfg.InitialEpoch {
		return Frame{}, fmt.Errorf("%w: epoch %d precedes initial epoch %d",
			ErrInitialEpochYetToArrive, epoch, c.cfg.InitialEpoch)
	}

	index := uint64(epoch-c.cfg.InitialEpoch) / c.cfg.EpochsPerFrame
	startEpoch := uint64(c.cfg.InitialEpoch) + index*c.cfg.EpochsPerFrame
	refSlot := primitives.Slot(startEpoch * c.chain.SlotsPerEpoch)
	slotsPerFrame := c.cfg.EpochsPerFrame * c.chain.SlotsPerEpoch

	return Frame{
		Index:                  index,
		RefSlot:                refSlot,
		ProcessingDeadlineSlot: refSlot + primitives.Slot(slotsPerFrame),
	}, nil
}

// UpdateInitialEpoch migrates the frame schedule anchor forward.
//
// The update is rejected with ErrInitialEpochAlreadyArrived when the new
// anchor is not in the future, or when it would move the schedule
// backwards. Consensus-level checks (the affected frame must not have been
// processed) are the caller's responsibility.
func (c *Clock) UpdateInitialEpoch(newInitialEpoch primitives.Epoch, now time.Time) error {
	epoch, err := c.EpochAt(now)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if newInitialEpoch <= epoch {
		return fmt.Errorf("%w: new initial epoch %d is not past current epoch %d",
			ErrInitialEpochAlreadyArrived, newInitialEpoch, epoch)
	}
	if newInitialEpoch < c.cfg.InitialEpoch {
		return fmt.Errorf("%w: initial epoch may only move forward (have %d, got %d)",
			ErrInitialEpochAlreadyArrived, c.cfg.InitialEpoch, newInitialEpoch)
	}

	c.cfg.InitialEpoch = newInitialEpoch
	return nil
}
