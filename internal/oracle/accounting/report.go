// Package accounting implements the validator-accounting report pipeline.
//
// A frame's accounting report consists of one main report with aggregate
// figures and a declared extra-data commitment, followed by zero or more
// batches of per-operator extra-data items. The main report is admitted
// through the base consensus state machine; extra data is validated
// incrementally against the declared commitment and applied exactly once.
package accounting

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
)

// Extra data formats.
const (
	// FormatEmpty declares that the report carries no extra data.
	FormatEmpty uint64 = 0

	// FormatList declares an indexed, hash-committed item list.
	FormatList uint64 = 1
)

// Extra data item types.
const (
	// TypeStuckValidators reports operators with stuck validator keys.
	TypeStuckValidators uint64 = 1

	// TypeExitedValidators reports per-operator exited validator totals.
	TypeExitedValidators uint64 = 2
)

// ModuleTotals carries the aggregate exited-validator count of one staking
// module as of the reference slot.
type ModuleTotals struct {
	ModuleID         uint64
	ExitedValidators uint64
}

// ReportData is the main accounting report for one frame.
//
// The committee hashes the RLP encoding of this struct; the resulting
// digest is what SubmitConsensusReport records and what the pipeline
// verifies before applying anything.
type ReportData struct {
	// ConsensusVersion of the off-chain protocol that built the report.
	ConsensusVersion uint64

	// RefSlot is the frame's reference slot; all figures are as of it.
	RefSlot primitives.Slot

	// NumValidators is the total validator count on the consensus layer.
	NumValidators uint64

	// ClBalanceGwei is the aggregate consensus-layer balance.
	ClBalanceGwei uint64

	// WithdrawalVaultBalanceGwei is the withdrawal vault balance.
	WithdrawalVaultBalanceGwei uint64

	// ElRewardsVaultBalanceGwei is the execution-layer rewards vault
	// balance.
	ElRewardsVaultBalanceGwei uint64

	// ExitedValidatorsByModule lists aggregate exited counts per module.
	ExitedValidatorsByModule []ModuleTotals

	// ExtraDataFormat is FormatEmpty or FormatList.
	ExtraDataFormat uint64

	// ExtraDataHash is the cumulative hash over the ordered extra-data
	// item sequence; zero iff the report carries no extra data.
	ExtraDataHash common.Hash

	// ExtraDataItemsCount is the declared number of extra-data items.
	ExtraDataItemsCount uint64
}

// Hash returns the keccak256 digest of the report's RLP encoding.
func (r ReportData) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(r)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode report: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// ExtraDataItem is one per-operator detail record.
type ExtraDataItem struct {
	// ItemIndex is the item's position in the full ordered sequence,
	// starting at zero.
	ItemIndex uint64

	// DataType is TypeStuckValidators or TypeExitedValidators.
	DataType uint64

	// ModuleID identifies the staking module.
	ModuleID uint64

	// NodeOperatorID identifies the operator within the module.
	NodeOperatorID uint64

	// Payload is the type-specific record body.
	Payload []byte
}

// AccumulateHash folds one item into the cumulative extra-data hash:
// next = keccak256(acc || rlp(item)).
func AccumulateHash(acc common.Hash, item ExtraDataItem) (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(item)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode extra data item %d: %w", item.ItemIndex, err)
	}
	return crypto.Keccak256Hash(acc.Bytes(), encoded), nil
}

// SequenceHash computes the cumulative hash over a full ordered item
// sequence. Committee members use it off-chain to build the commitment
// declared in the main report.
func SequenceHash(items []ExtraDataItem) (common.Hash, error) {
	var acc common.Hash
	for _, item := range items {
		var err error
		if acc, err = AccumulateHash(acc, item); err != nil {
			return common.Hash{}, err
		}
	}
	return acc, nil
}
