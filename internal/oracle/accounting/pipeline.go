package accounting

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/rs/zerolog"

	"github.com/thep2p/go-staking-oracle/internal/oracle"
)

var (
	// ErrUnsupportedExtraDataFormat is returned for formats other than
	// FormatEmpty and FormatList, and for a format that disagrees with
	// the declared item count.
	ErrUnsupportedExtraDataFormat = errors.New("unsupported extra data format")

	// ErrExtraDataItemsCountCannotBeZeroForNonEmptyData is returned when
	// a non-zero extra-data hash is declared with a zero item count.
	ErrExtraDataItemsCountCannotBeZeroForNonEmptyData = errors.New(
		"extra data items count cannot be zero for non-empty data")

	// ErrExtraDataHashCannotBeZeroForNonEmptyData is returned when a
	// non-zero item count is declared with a zero extra-data hash.
	ErrExtraDataHashCannotBeZeroForNonEmptyData = errors.New(
		"extra data hash cannot be zero for non-empty data")

	// ErrCannotSubmitExtraDataBeforeMainData is returned when extra data
	// arrives before the window's main report was accepted.
	ErrCannotSubmitExtraDataBeforeMainData = errors.New(
		"cannot submit extra data before main data")

	// ErrExtraDataAlreadyProcessed is returned when extra data for the
	// window was already fully applied.
	ErrExtraDataAlreadyProcessed = errors.New("extra data already processed")

	// ErrUnexpectedExtraDataIndex is returned when an item's index does
	// not continue the strictly sequential numbering from zero.
	ErrUnexpectedExtraDataIndex = errors.New("unexpected extra data index")

	// ErrTooManyExtraDataItems is returned when more items arrive than
	// the main report declared.
	ErrTooManyExtraDataItems = errors.New("too many extra data items")

	// ErrUnsupportedExtraDataType is returned for an unknown item type.
	ErrUnsupportedExtraDataType = errors.New("unsupported extra data type")

	// ErrUnexpectedExtraDataHash is returned when the cumulative hash
	// over the full sequence disagrees with the declared commitment.
	ErrUnexpectedExtraDataHash = errors.New("unexpected extra data hash")

	// ErrEmptyExtraDataBatch is returned for a batch with no items.
	ErrEmptyExtraDataBatch = errors.New("empty extra data batch")
)

// Consumer receives the finalized aggregate figures of an accepted main
// report. Implemented by the share-ledger/exchange-rate collaborators.
type Consumer interface {
	OnAccountingReport(report ReportData)
}

// OperatorRegistry receives validated extra-data items, exactly once, in
// sequence order.
type OperatorRegistry interface {
	OnExtraDataItem(item ExtraDataItem)
}

// procState is the per-window incremental-validation accumulator. It is
// created when the main report is accepted and finalized exactly once.
type procState struct {
	refSlot      primitives.Slot
	expectedHash common.Hash
	itemsCount   uint64
	nextIndex    uint64
	runningHash  common.Hash
	processed    bool
}

// Pipeline is the accounting specialization of the consensus oracle.
type Pipeline struct {
	logger    zerolog.Logger
	consensus *oracle.Consensus
	consumer  Consumer
	registry  OperatorRegistry

	mu   sync.Mutex
	proc *procState
}

// NewPipeline wires the accounting pipeline to its base state machine and
// collaborators.
func NewPipeline(logger zerolog.Logger, consensus *oracle.Consensus, consumer Consumer, registry OperatorRegistry) *Pipeline {
	return &Pipeline{
		logger:    logger.With().Str("component", "accounting-pipeline").Logger(),
		consensus: consensus,
		consumer:  consumer,
		registry:  registry,
	}
}

// Consensus returns the base state machine.
func (p *Pipeline) Consensus() *oracle.Consensus { return p.consensus }

// SubmitReportData submits the main accounting report for the current
// window.
//
// The report's hash must match the recorded consensus hash. On success the
// aggregate figures are delivered to the consumer and, unless the report
// declares FormatEmpty, the extra-data accumulator opens. A FormatEmpty
// report completes window processing in the same call.
func (p *Pipeline) SubmitReportData(caller common.Address, report ReportData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consensus.Paused() {
		return oracle.ErrPaused
	}
	if err := p.consensus.AuthorizeData(caller); err != nil {
		return err
	}
	if err := validateExtraDataCommitment(report); err != nil {
		return err
	}

	reportHash, err := report.Hash()
	if err != nil {
		return err
	}
	if err := p.consensus.StartReportProcessing(report.RefSlot, reportHash); err != nil {
		return err
	}

	p.proc = &procState{
		refSlot:      report.RefSlot,
		expectedHash: report.ExtraDataHash,
		itemsCount:   report.ExtraDataItemsCount,
	}
	p.consumer.OnAccountingReport(report)

	p.logger.Info().
		Uint64("ref_slot", uint64(report.RefSlot)).
		Uint64("num_validators", report.NumValidators).
		Uint64("cl_balance_gwei", report.ClBalanceGwei).
		Uint64("extra_data_items", report.ExtraDataItemsCount).
		Msg("main accounting report accepted")

	if report.ExtraDataFormat == FormatEmpty {
		return p.finalizeLocked()
	}
	return nil
}

// SubmitReportExtraDataItems submits one batch of extra-data items for the
// current window. Batches may split the declared sequence arbitrarily, but
// items must arrive in strict index order. The batch that delivers the
// final item triggers the commitment check; on a match the window is
// sealed and the base watermark advances.
//
// A failed batch applies nothing.
func (p *Pipeline) SubmitReportExtraDataItems(caller common.Address, items []ExtraDataItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consensus.Paused() {
		return oracle.ErrPaused
	}
	if err := p.consensus.AuthorizeData(caller); err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrEmptyExtraDataBatch
	}
	if p.proc == nil || p.proc.refSlot != p.consensus.State().CurrentRefSlot {
		return ErrCannotSubmitExtraDataBeforeMainData
	}
	if p.proc.processed {
		return fmt.Errorf("%w: ref slot %d", ErrExtraDataAlreadyProcessed, p.proc.refSlot)
	}
	if err := p.consensus.CheckProcessingDeadline(); err != nil {
		return err
	}

	// Validate the whole batch against shadow counters first; nothing is
	// applied unless every item passes.
	nextIndex := p.proc.nextIndex
	runningHash := p.proc.runningHash
	for _, item := range items {
		if nextIndex >= p.proc.itemsCount {
			return fmt.Errorf("%w: declared %d items", ErrTooManyExtraDataItems, p.proc.itemsCount)
		}
		if item.ItemIndex != nextIndex {
			return fmt.Errorf("%w: want %d, got %d",
				ErrUnexpectedExtraDataIndex, nextIndex, item.ItemIndex)
		}
		if item.DataType != TypeStuckValidators && item.DataType != TypeExitedValidators {
			return fmt.Errorf("%w: item %d has type %d",
				ErrUnsupportedExtraDataType, item.ItemIndex, item.DataType)
		}

		var err error
		if runningHash, err = AccumulateHash(runningHash, item); err != nil {
			return err
		}
		nextIndex++
	}

	complete := nextIndex == p.proc.itemsCount
	if complete && runningHash != p.proc.expectedHash {
		return fmt.Errorf("%w: declared %s, computed %s",
			ErrUnexpectedExtraDataHash, p.proc.expectedHash, runningHash)
	}

	p.proc.nextIndex = nextIndex
	p.proc.runningHash = runningHash
	for _, item := range items {
		p.registry.OnExtraDataItem(item)
	}
	p.consensus.Metrics().ExtraDataItemsApplied(len(items))

	p.logger.Info().
		Uint64("ref_slot", uint64(p.proc.refSlot)).
		Int("batch_items", len(items)).
		Uint64("applied_items", nextIndex).
		Uint64("declared_items", p.proc.itemsCount).
		Msg("extra data batch applied")

	if complete {
		return p.finalizeLocked()
	}
	return nil
}

// finalizeLocked seals the window. Callers must hold the mutex.
func (p *Pipeline) finalizeLocked() error {
	if err := p.consensus.FinishReportProcessing(p.proc.refSlot); err != nil {
		return err
	}
	p.proc.processed = true
	p.consensus.Metrics().ReportProcessed("accounting")
	return nil
}

// validateExtraDataCommitment checks the (format, hash, count) triple of a
// main report.
func validateExtraDataCommitment(report ReportData) error {
	zeroHash := report.ExtraDataHash == (common.Hash{})

	switch report.ExtraDataFormat {
	case FormatEmpty:
		if !zeroHash && report.ExtraDataItemsCount == 0 {
			return ErrExtraDataItemsCountCannotBeZeroForNonEmptyData
		}
		if zeroHash && report.ExtraDataItemsCount > 0 {
			return ErrExtraDataHashCannotBeZeroForNonEmptyData
		}
		if !zeroHash || report.ExtraDataItemsCount > 0 {
			return fmt.Errorf("%w: empty format cannot carry items", ErrUnsupportedExtraDataFormat)
		}
		return nil
	case FormatList:
		if report.ExtraDataItemsCount == 0 {
			return ErrExtraDataItemsCountCannotBeZeroForNonEmptyData
		}
		if zeroHash {
			return ErrExtraDataHashCannotBeZeroForNonEmptyData
		}
		return nil
	default:
		return fmt.Errorf("%w: format %d", ErrUnsupportedExtraDataFormat, report.ExtraDataFormat)
	}
}
