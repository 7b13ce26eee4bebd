// Package exitbus implements the validator-exit-request report pipeline.
//
// Each frame carries at most one ordered batch of exit requests, validated
// as a whole: global sort order across the batch, and per
// (module, operator) strictly increasing validator indices across this and
// all previously processed batches. Validated requests are delivered to
// the registry collaborator exactly once, in order.
package exitbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
)

// FormatList is the only supported request encoding: a packed array of
// fixed-length records.
const FormatList uint64 = 1

// requestLength is the packed size of one request: big-endian
// moduleID (4) | nodeOperatorID (8) | validatorIndex (8).
const requestLength = 20

var (
	// ErrUnsupportedRequestsDataFormat is returned for any format other
	// than FormatList.
	ErrUnsupportedRequestsDataFormat = errors.New("unsupported requests data format")

	// ErrInvalidRequestsDataLength is returned when the packed data is
	// not a whole number of records.
	ErrInvalidRequestsDataLength = errors.New("invalid requests data length")

	// ErrUnexpectedRequestsDataLength is returned when the record count
	// disagrees with the declared count.
	ErrUnexpectedRequestsDataLength = errors.New("unexpected requests data length")

	// ErrInvalidRequestsDataSortOrder is returned when the batch is not
	// strictly ascending by (moduleID, nodeOperatorID, validatorIndex).
	ErrInvalidRequestsDataSortOrder = errors.New("invalid requests data sort order")

	// ErrModuleIDOutOfRange is returned when a module ID does not fit the
	// packed 32-bit field.
	ErrModuleIDOutOfRange = errors.New("module id out of range")
)

// ValidatorIndexMustIncreaseError reports a request whose validator index
// does not exceed the pair's high-water mark.
type ValidatorIndexMustIncreaseError struct {
	ModuleID       uint64
	NodeOperatorID uint64
	PrevIndex      uint64
	RequestedIndex uint64
}

func (e *ValidatorIndexMustIncreaseError) Error() string {
	return fmt.Sprintf(
		"validator index must increase for module %d operator %d: previously requested %d, got %d",
		e.ModuleID, e.NodeOperatorID, e.PrevIndex, e.RequestedIndex)
}

// Request is one validator exit request.
type Request struct {
	// ModuleID identifies the staking module.
	ModuleID uint64

	// NodeOperatorID identifies the operator within the module.
	NodeOperatorID uint64

	// ValidatorIndex is the consensus-layer index of the validator asked
	// to exit.
	ValidatorIndex uint64
}

// ReportData is the exit-request report for one frame.
type ReportData struct {
	// ConsensusVersion of the off-chain protocol that built the report.
	ConsensusVersion uint64

	// RefSlot is the frame's reference slot.
	RefSlot primitives.Slot

	// RequestsCount is the declared number of packed requests.
	RequestsCount uint64

	// DataFormat must be FormatList.
	DataFormat uint64

	// Data is the packed request array.
	Data []byte
}

// Hash returns the keccak256 digest of the report's RLP encoding.
func (r ReportData) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(r)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode report: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// PackRequests encodes requests into the packed wire form. Committee
// members use it off-chain to build the report payload. Module IDs must
// fit the 32-bit record field.
func PackRequests(requests []Request) ([]byte, error) {
	data := make([]byte, 0, len(requests)*requestLength)
	for _, req := range requests {
		if req.ModuleID > math.MaxUint32 {
			return nil, fmt.Errorf("%w: module %d does not fit 32 bits",
				ErrModuleIDOutOfRange, req.ModuleID)
		}
		var buf [requestLength]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(req.ModuleID))
		binary.BigEndian.PutUint64(buf[4:12], req.NodeOperatorID)
		binary.BigEndian.PutUint64(buf[12:20], req.ValidatorIndex)
		data = append(data, buf[:]...)
	}
	return data, nil
}

// unpackRequests decodes the packed wire form, checking only framing.
func unpackRequests(data []byte, declaredCount uint64) ([]Request, error) {
	if len(data)%requestLength != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d",
			ErrInvalidRequestsDataLength, len(data), requestLength)
	}

	count := uint64(len(data) / requestLength)
	if count != declaredCount {
		return nil, fmt.Errorf("%w: declared %d requests, encoded %d",
			ErrUnexpectedRequestsDataLength, declaredCount, count)
	}

	requests := make([]Request, 0, count)
	for off := 0; off < len(data); off += requestLength {
		requests = append(requests, Request{
			ModuleID:       uint64(binary.BigEndian.Uint32(data[off : off+4])),
			NodeOperatorID: binary.BigEndian.Uint64(data[off+4 : off+12]),
			ValidatorIndex: binary.BigEndian.Uint64(data[off+12 : off+20]),
		})
	}
	return requests, nil
}
