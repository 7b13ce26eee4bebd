package exitbus

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/thep2p/go-staking-oracle/internal/oracle"
)

// ExitListener receives each validated exit request exactly once, in
// batch order. Implemented by the node-operator registry collaborator.
type ExitListener interface {
	OnExitRequest(moduleID, nodeOperatorID, validatorIndex uint64)
}

// pairKey identifies a (module, operator) pair for the watermark map.
type pairKey struct {
	moduleID       uint64
	nodeOperatorID uint64
}

// Pipeline is the exit-request specialization of the consensus oracle.
//
// Watermarks survive across windows; raw payloads do not.
type Pipeline struct {
	logger    zerolog.Logger
	consensus *oracle.Consensus
	listener  ExitListener

	mu sync.Mutex
	// lastRequested maps each pair to the highest validator index ever
	// requested to exit. The map only grows.
	lastRequested map[pairKey]uint64
}

// NewPipeline wires the exit-request pipeline to its base state machine
// and the exit listener.
func NewPipeline(logger zerolog.Logger, consensus *oracle.Consensus, listener ExitListener) *Pipeline {
	return &Pipeline{
		logger:        logger.With().Str("component", "exitbus-pipeline").Logger(),
		consensus:     consensus,
		listener:      listener,
		lastRequested: make(map[pairKey]uint64),
	}
}

// Consensus returns the base state machine.
func (p *Pipeline) Consensus() *oracle.Consensus { return p.consensus }

// SubmitReportData submits the exit-request report for the current
// window. The whole batch is validated before any request is delivered; a
// failed submission applies nothing.
func (p *Pipeline) SubmitReportData(caller common.Address, report ReportData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consensus.Paused() {
		return oracle.ErrPaused
	}
	if err := p.consensus.AuthorizeData(caller); err != nil {
		return err
	}
	if report.DataFormat != FormatList {
		return fmt.Errorf("%w: format %d", ErrUnsupportedRequestsDataFormat, report.DataFormat)
	}

	requests, err := unpackRequests(report.Data, report.RequestsCount)
	if err != nil {
		return err
	}
	if err := p.validateOrder(requests); err != nil {
		return err
	}

	reportHash, err := report.Hash()
	if err != nil {
		return err
	}
	if err := p.consensus.StartReportProcessing(report.RefSlot, reportHash); err != nil {
		return err
	}

	// Commit: advance watermarks, deliver in order, seal the window.
	for _, req := range requests {
		p.lastRequested[pairKey{req.ModuleID, req.NodeOperatorID}] = req.ValidatorIndex
		p.listener.OnExitRequest(req.ModuleID, req.NodeOperatorID, req.ValidatorIndex)
	}
	if err := p.consensus.FinishReportProcessing(report.RefSlot); err != nil {
		return err
	}

	p.consensus.Metrics().ExitRequestsEmitted(len(requests))
	p.consensus.Metrics().ReportProcessed("exitbus")

	p.logger.Info().
		Uint64("ref_slot", uint64(report.RefSlot)).
		Int("requests", len(requests)).
		Msg("exit request report processed")
	return nil
}

// validateOrder checks global batch ordering and the per-pair high-water
// marks. Callers must hold the mutex.
func (p *Pipeline) validateOrder(requests []Request) error {
	for i, req := range requests {
		if i > 0 && !less(requests[i-1], req) {
			return fmt.Errorf("%w: request %d does not follow request %d",
				ErrInvalidRequestsDataSortOrder, i, i-1)
		}

		key := pairKey{req.ModuleID, req.NodeOperatorID}
		if prev, seen := p.lastRequested[key]; seen && req.ValidatorIndex <= prev {
			return &ValidatorIndexMustIncreaseError{
				ModuleID:       req.ModuleID,
				NodeOperatorID: req.NodeOperatorID,
				PrevIndex:      prev,
				RequestedIndex: req.ValidatorIndex,
			}
		}
	}
	return nil
}

// less orders requests by (moduleID, nodeOperatorID, validatorIndex),
// strictly.
func less(a, b Request) bool {
	if a.ModuleID != b.ModuleID {
		return a.ModuleID < b.ModuleID
	}
	if a.NodeOperatorID != b.NodeOperatorID {
		return a.NodeOperatorID < b.NodeOperatorID
	}
	return a.ValidatorIndex < b.ValidatorIndex
}

// LastRequestedValidatorIndex returns the highest validator index ever
// requested to exit for the pair, and whether any request was made.
func (p *Pipeline) LastRequestedValidatorIndex(moduleID, nodeOperatorID uint64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.lastRequested[pairKey{moduleID, nodeOperatorID}]
	return idx, ok
}

// LastRequestedValidatorIndices returns the per-operator high-water marks
// for the given module, in input order. Operators with no requests yet
// map to ok == false entries via LastRequestedValidatorIndex semantics;
// here they are reported as zero.
func (p *Pipeline) LastRequestedValidatorIndices(moduleID uint64, nodeOperatorIDs []uint64) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]uint64, len(nodeOperatorIDs))
	for i, opID := range nodeOperatorIDs {
		out[i] = p.lastRequested[pairKey{moduleID, opID}]
	}
	return out
}
