package oracle

import "errors"

var (
	// ErrPaused is returned by every state-changing operation while the
	// oracle is paused.
	ErrPaused = errors.New("oracle is paused")

	// ErrNotPaused is returned by Resume when the oracle is not paused.
	ErrNotPaused = errors.New("oracle is not paused")

	// ErrUnauthorized is returned when the caller lacks the capability
	// required for the operation.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrFastLaneInterval is returned when a committee member outside the
	// current fast-lane subset submits during the fast-lane interval of
	// the frame.
	ErrFastLaneInterval = errors.New("only fast lane members may report in the fast lane interval")

	// ErrUnexpectedConsensusVersion is returned when a submission carries
	// a consensus version other than the configured one.
	ErrUnexpectedConsensusVersion = errors.New("unexpected consensus version")

	// ErrHashCannotBeZero is returned when a zero hash is submitted. A
	// zero hash means "no consensus yet" and is never a valid report.
	ErrHashCannotBeZero = errors.New("hash cannot be zero")

	// ErrRefSlotCannotDecrease is returned when a submission targets a
	// reference slot earlier than the current one.
	ErrRefSlotCannotDecrease = errors.New("ref slot cannot decrease")

	// ErrRefSlotAlreadyProcessing is returned when a submission targets a
	// reference slot whose report processing has already started or
	// completed.
	ErrRefSlotAlreadyProcessing = errors.New("ref slot already processing")

	// ErrNoConsensusReportToProcess is returned when processing is
	// attempted before any consensus hash was recorded for the window.
	ErrNoConsensusReportToProcess = errors.New("no consensus report to process")

	// ErrUnexpectedRefSlot is returned when a payload targets a reference
	// slot other than the one the recorded consensus hash belongs to.
	ErrUnexpectedRefSlot = errors.New("unexpected ref slot")

	// ErrUnexpectedDataHash is returned when the payload hash disagrees
	// with the recorded consensus hash.
	ErrUnexpectedDataHash = errors.New("unexpected data hash")

	// ErrProcessingDeadlineMissed is returned when processing is attempted
	// after the window's deadline slot. The window is abandoned for good.
	ErrProcessingDeadlineMissed = errors.New("processing deadline missed")

	// ErrStaleReport is returned when a payload targets a reference slot
	// at or below the last fully processed one.
	ErrStaleReport = errors.New("stale report")
)
