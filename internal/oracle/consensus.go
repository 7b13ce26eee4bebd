// Package oracle implements the base consensus and report-processing state
// machine shared by the accounting and exit-request pipelines.
//
// A permissioned committee agrees off-chain on a single report per frame
// and submits its hash. The state machine records the hash, enforces the
// processing deadline, and hands exactly-once processing control to a
// specialization. Monotonic watermarks (the current reference slot and the
// last fully processed reference slot) make replay and reordering of
// windows impossible.
package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/rs/zerolog"

	"github.com/thep2p/go-staking-oracle/internal/frame"
	"github.com/thep2p/go-staking-oracle/internal/metrics"
)

// Action identifies a capability checked by the injected Authorizer.
type Action string

const (
	// ActionSubmitReport is required to submit a consensus report hash.
	ActionSubmitReport Action = "submit-report"

	// ActionSubmitData is required to submit report payloads, including
	// accounting extra data and exit request batches.
	ActionSubmitData Action = "submit-data"

	// ActionPauseResume is required to pause or resume the oracle.
	ActionPauseResume Action = "pause-resume"

	// ActionManageFrame is required to migrate the frame schedule.
	ActionManageFrame Action = "manage-frame"
)

// Authorizer decides whether a caller may perform an action. It is
// injected so the state machine stays testable independent of the
// authorization backend.
type Authorizer func(caller common.Address, action Action) bool

// AllowAll authorizes every caller for every action. Intended for tests
// and single-operator deployments.
func AllowAll(common.Address, Action) bool { return true }

// Config holds the consensus state machine parameters.
type Config struct {
	// ConsensusVersion is the expected version of the off-chain consensus
	// protocol. Submissions carrying any other version are rejected.
	ConsensusVersion uint64 `validate:"required,gt=0"`

	// FastLaneLengthSlots is the length, in slots from the frame's
	// reference slot, of the interval during which only fast-lane
	// committee members may submit. Zero disables the fast lane.
	FastLaneLengthSlots uint64
}

// State is a read-only snapshot of the consensus state machine.
type State struct {
	// CurrentRefSlot is the reference slot of the newest frame for which
	// a consensus hash was recorded. Non-decreasing.
	CurrentRefSlot primitives.Slot

	// ConsensusHash is the recorded hash for CurrentRefSlot. Zero means
	// no consensus has been reached for the window yet.
	ConsensusHash common.Hash

	// ProcessingRefSlot is the reference slot whose payload processing
	// has started, valid only when ProcessingStarted is true.
	ProcessingRefSlot primitives.Slot

	// ProcessingStarted reports whether payload processing has started
	// for ProcessingRefSlot.
	ProcessingStarted bool

	// LastProcessingRefSlot is the highest reference slot whose report
	// was fully processed. Windows at or below it are sealed forever.
	LastProcessingRefSlot primitives.Slot

	// ProcessingDeadlineSlot is the last slot at which the report for
	// CurrentRefSlot may still be processed.
	ProcessingDeadlineSlot primitives.Slot

	// ConsensusVersion is the configured consensus protocol version.
	ConsensusVersion uint64

	// Paused reports whether submissions and processing are suspended.
	Paused bool
}

// Option customizes a Consensus instance.
type Option func(*Consensus)

// WithCommittee gates submissions on committee membership and the
// per-frame fast-lane rotation.
func WithCommittee(committee *Committee) Option {
	return func(c *Consensus) { c.committee = committee }
}

// WithMetrics attaches Prometheus collectors under the given pipeline
// label, so instances sharing one registry stay distinguishable.
func WithMetrics(m *metrics.Metrics, pipeline string) Option {
	return func(c *Consensus) {
		c.metrics = m
		c.pipeline = pipeline
	}
}

// WithNowFunc overrides the wall-clock source. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Consensus) { c.now = now }
}

// Consensus is the shared consensus/reporting state machine.
//
// All state transitions are serialized by an internal mutex: every call
// either completes and commits, or fails and leaves the state untouched.
type Consensus struct {
	logger    zerolog.Logger
	clock     *frame.Clock
	cfg       Config
	authorize Authorizer
	committee *Committee
	metrics   *metrics.Metrics
	pipeline  string
	now       func() time.Time

	mu                     sync.Mutex
	currentRefSlot         primitives.Slot
	consensusHash          common.Hash
	processingRefSlot      primitives.Slot
	processingStarted      bool
	lastProcessingRefSlot  primitives.Slot
	processingDeadlineSlot primitives.Slot
	paused                 bool
}

// NewConsensus creates the state machine.
//
// The clock determines frames and deadlines; authorize is the capability
// predicate consulted on every state-changing call. A nil authorize
// defaults to AllowAll.
func NewConsensus(logger zerolog.Logger, clock *frame.Clock, cfg Config, authorize Authorizer, opts ...Option) (*Consensus, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid consensus config: %w", err)
	}
	if authorize == nil {
		authorize = AllowAll
	}

	c := &Consensus{
		logger:    logger.With().Str("component", "consensus").Logger(),
		clock:     clock,
		cfg:       cfg,
		authorize: authorize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Clock returns the frame clock driving this state machine.
func (c *Consensus) Clock() *frame.Clock { return c.clock }

// FrameConfig returns the current frame schedule.
func (c *Consensus) FrameConfig() frame.Config { return c.clock.Config() }

// State returns a snapshot of the consensus state.
func (c *Consensus) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		CurrentRefSlot:         c.currentRefSlot,
		ConsensusHash:          c.consensusHash,
		ProcessingRefSlot:      c.processingRefSlot,
		ProcessingStarted:      c.processingStarted,
		LastProcessingRefSlot:  c.lastProcessingRefSlot,
		ProcessingDeadlineSlot: c.processingDeadlineSlot,
		ConsensusVersion:       c.cfg.ConsensusVersion,
		Paused:                 c.paused,
	}
}

// SubmitConsensusReport records the agreed hash for a reporting frame.
//
// Identical resubmission for the same unprocessed reference slot is a
// no-op. A conflicting hash replaces the recorded one as long as payload
// processing has not started; afterwards it fails with
// ErrRefSlotAlreadyProcessing.
func (c *Consensus) SubmitConsensusReport(caller common.Address, refSlot primitives.Slot, hash common.Hash, consensusVersion uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return ErrPaused
	}
	if !c.authorize(caller, ActionSubmitReport) {
		return fmt.Errorf("%w: %s may not submit reports", ErrUnauthorized, caller)
	}
	if err := c.checkSubmissionWindow(caller, refSlot); err != nil {
		return err
	}
	if consensusVersion != c.cfg.ConsensusVersion {
		return fmt.Errorf("%w: expected %d, got %d",
			ErrUnexpectedConsensusVersion, c.cfg.ConsensusVersion, consensusVersion)
	}
	if hash == (common.Hash{}) {
		return ErrHashCannotBeZero
	}
	if refSlot < c.currentRefSlot {
		return fmt.Errorf("%w: current ref slot %d, got %d",
			ErrRefSlotCannotDecrease, c.currentRefSlot, refSlot)
	}
	if refSlot <= c.lastProcessingRefSlot {
		return fmt.Errorf("%w: ref slot %d was fully processed",
			ErrRefSlotAlreadyProcessing, refSlot)
	}

	if refSlot == c.currentRefSlot {
		if hash == c.consensusHash {
			// Another member racing to report the same hash; converge.
			c.logger.Debug().
				Uint64("ref_slot", uint64(refSlot)).
				Stringer("hash", hash).
				Msg("identical consensus report resubmitted, no-op")
			return nil
		}
		if c.processingStarted && c.processingRefSlot == refSlot {
			return fmt.Errorf("%w: cannot replace hash after processing started",
				ErrRefSlotAlreadyProcessing)
		}
	}

	fr, err := c.clock.FrameOfSlot(refSlot)
	if err != nil {
		return fmt.Errorf("resolve frame of ref slot %d: %w", refSlot, err)
	}

	c.currentRefSlot = refSlot
	c.consensusHash = hash
	c.processingDeadlineSlot = fr.ProcessingDeadlineSlot
	c.metrics.ReportSubmitted(c.pipeline, uint64(refSlot))

	c.logger.Info().
		Uint64("ref_slot", uint64(refSlot)).
		Stringer("hash", hash).
		Uint64("deadline_slot", uint64(fr.ProcessingDeadlineSlot)).
		Msg("consensus report recorded")
	return nil
}

// checkSubmissionWindow enforces committee membership and the fast-lane
// interval. Callers must hold the mutex.
func (c *Consensus) checkSubmissionWindow(caller common.Address, refSlot primitives.Slot) error {
	if c.committee == nil {
		return nil
	}
	if !c.committee.IsMember(caller) {
		return fmt.Errorf("%w: %s is not a committee member", ErrUnauthorized, caller)
	}
	if c.cfg.FastLaneLengthSlots == 0 {
		return nil
	}

	currentSlot, err := c.clock.SlotAt(c.now())
	if err != nil {
		return fmt.Errorf("resolve current slot: %w", err)
	}
	if uint64(currentSlot) > uint64(refSlot)+c.cfg.FastLaneLengthSlots {
		return nil
	}

	fr, err := c.clock.FrameOfSlot(refSlot)
	if err != nil {
		return fmt.Errorf("resolve frame of ref slot %d: %w", refSlot, err)
	}
	if !c.committee.IsFastLaneMember(caller, fr.Index) {
		return fmt.Errorf("%w: member %s, frame %d", ErrFastLaneInterval, caller, fr.Index)
	}
	return nil
}

// StartReportProcessing admits a payload whose hash matches the recorded
// consensus hash and opens the processing phase for the window.
//
// Called by the pipeline specializations before applying any payload
// effects.
func (c *Consensus) StartReportProcessing(refSlot primitives.Slot, dataHash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return ErrPaused
	}
	if c.consensusHash == (common.Hash{}) {
		return ErrNoConsensusReportToProcess
	}
	if refSlot <= c.lastProcessingRefSlot {
		return fmt.Errorf("%w: ref slot %d at or below processed watermark %d",
			ErrStaleReport, refSlot, c.lastProcessingRefSlot)
	}
	if refSlot != c.currentRefSlot {
		return fmt.Errorf("%w: consensus is at ref slot %d, got %d",
			ErrUnexpectedRefSlot, c.currentRefSlot, refSlot)
	}
	if c.processingStarted && c.processingRefSlot == refSlot {
		return fmt.Errorf("%w: processing already started for ref slot %d",
			ErrRefSlotAlreadyProcessing, refSlot)
	}
	if dataHash != c.consensusHash {
		return fmt.Errorf("%w: consensus hash %s, data hash %s",
			ErrUnexpectedDataHash, c.consensusHash, dataHash)
	}

	if err := c.checkDeadlineLocked(); err != nil {
		return err
	}

	c.processingRefSlot = refSlot
	c.processingStarted = true

	c.logger.Info().
		Uint64("ref_slot", uint64(refSlot)).
		Stringer("hash", dataHash).
		Msg("report processing started")
	return nil
}

// CheckProcessingDeadline verifies that the current window's processing
// deadline has not elapsed. Pipelines that apply a report across several
// calls use it to keep late batches out of an abandoned window.
func (c *Consensus) CheckProcessingDeadline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkDeadlineLocked()
}

// checkDeadlineLocked compares the current slot against the window's
// deadline. Callers must hold the mutex.
func (c *Consensus) checkDeadlineLocked() error {
	currentSlot, err := c.clock.SlotAt(c.now())
	if err != nil {
		return fmt.Errorf("resolve current slot: %w", err)
	}
	if currentSlot > c.processingDeadlineSlot {
		return fmt.Errorf("%w: deadline slot %d, current slot %d",
			ErrProcessingDeadlineMissed, c.processingDeadlineSlot, currentSlot)
	}
	return nil
}

// FinishReportProcessing seals the window: the processed reference slot
// becomes the new watermark and can never be reprocessed.
func (c *Consensus) FinishReportProcessing(refSlot primitives.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.processingStarted || c.processingRefSlot != refSlot {
		return fmt.Errorf("%w: processing was not started for ref slot %d",
			ErrUnexpectedRefSlot, refSlot)
	}
	if refSlot <= c.lastProcessingRefSlot {
		return fmt.Errorf("%w: ref slot %d at or below processed watermark %d",
			ErrStaleReport, refSlot, c.lastProcessingRefSlot)
	}

	c.lastProcessingRefSlot = refSlot

	c.logger.Info().
		Uint64("ref_slot", uint64(refSlot)).
		Msg("report fully processed")
	return nil
}

// ProcessingStartedFor reports whether payload processing has started for
// the given reference slot.
func (c *Consensus) ProcessingStartedFor(refSlot primitives.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processingStarted && c.processingRefSlot == refSlot
}

// Pause suspends submissions and processing. Already-applied windows are
// never rolled back.
func (c *Consensus) Pause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authorize(caller, ActionPauseResume) {
		return fmt.Errorf("%w: %s may not pause", ErrUnauthorized, caller)
	}
	if c.paused {
		return ErrPaused
	}

	c.paused = true
	c.logger.Warn().Stringer("caller", caller).Msg("oracle paused")
	return nil
}

// Resume lifts a pause. It additionally requires the frame schedule's
// initial epoch to have arrived, so a schedule migrated into the future
// while paused cannot be resumed early.
func (c *Consensus) Resume(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authorize(caller, ActionPauseResume) {
		return fmt.Errorf("%w: %s may not resume", ErrUnauthorized, caller)
	}
	if !c.paused {
		return ErrNotPaused
	}
	if !c.clock.InitialEpochArrived(c.now()) {
		return fmt.Errorf("cannot resume: %w", frame.ErrInitialEpochYetToArrive)
	}

	c.paused = false
	c.logger.Info().Stringer("caller", caller).Msg("oracle resumed")
	return nil
}

// UpdateInitialEpoch migrates the frame schedule anchor forward.
//
// The migration is refused when the first frame of the new schedule was
// already processed, which would otherwise re-open a sealed window.
func (c *Consensus) UpdateInitialEpoch(caller common.Address, newInitialEpoch primitives.Epoch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authorize(caller, ActionManageFrame) {
		return fmt.Errorf("%w: %s may not manage the frame schedule", ErrUnauthorized, caller)
	}

	newRefSlot := primitives.Slot(uint64(newInitialEpoch) * c.clock.ChainConfig().SlotsPerEpoch)
	if newRefSlot <= c.lastProcessingRefSlot {
		return fmt.Errorf("%w: new schedule ref slot %d at or below processed watermark %d",
			ErrRefSlotAlreadyProcessing, newRefSlot, c.lastProcessingRefSlot)
	}

	if err := c.clock.UpdateInitialEpoch(newInitialEpoch, c.now()); err != nil {
		return err
	}

	c.logger.Info().
		Uint64("initial_epoch", uint64(newInitialEpoch)).
		Msg("frame schedule migrated")
	return nil
}

// AuthorizeData checks the submit-data capability for pipeline payloads.
func (c *Consensus) AuthorizeData(caller common.Address) error {
	if !c.authorize(caller, ActionSubmitData) {
		return fmt.Errorf("%w: %s may not submit report data", ErrUnauthorized, caller)
	}
	return nil
}

// Paused reports whether the oracle is paused.
func (c *Consensus) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Metrics returns the attached collectors; may be nil.
func (c *Consensus) Metrics() *metrics.Metrics { return c.metrics }
