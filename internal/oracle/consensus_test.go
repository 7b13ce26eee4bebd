package oracle_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/stretchr/testify/require"

	"github.com/thep2p/go-staking-oracle/internal/frame"
	"github.com/thep2p/go-staking-oracle/internal/oracle"
	"github.com/thep2p/go-staking-oracle/internal/testutils"
)

var (
	member  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	hashOne = crypto.Keccak256Hash([]byte("report one"))
	hashTwo = crypto.Keccak256Hash([]byte("report two"))
)

// fixture drives a consensus instance with a controllable wall clock.
type fixture struct {
	t     *testing.T
	clock *frame.Clock
	cons  *oracle.Consensus
	now   time.Time
}

func newFixture(t *testing.T, opts ...oracle.Option) *fixture {
	t.Helper()

	f := &fixture{t: t}
	f.clock = testutils.NewClock(t, 0, 10)
	f.now = testutils.Genesis

	opts = append(opts, oracle.WithNowFunc(func() time.Time { return f.now }))
	cons, err := oracle.NewConsensus(
		testutils.Logger(t),
		f.clock,
		oracle.Config{ConsensusVersion: 1},
		oracle.AllowAll,
		opts...,
	)
	require.NoError(t, err, "consensus construction should succeed")
	f.cons = cons
	return f
}

// setSlot moves the fixture's wall clock to the start of the given slot.
func (f *fixture) setSlot(slot primitives.Slot) {
	f.now = f.clock.SlotStart(slot)
}

func (f *fixture) submit(refSlot primitives.Slot, hash common.Hash) error {
	return f.cons.SubmitConsensusReport(member, refSlot, hash, 1)
}

// TestSubmitConsensusReport verifies the happy path: the hash is recorded,
// the ref slot advances, and the processing deadline is one frame away.
func TestSubmitConsensusReport(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.submit(320, hashOne), "submission should succeed")

	st := f.cons.State()
	require.Equal(t, primitives.Slot(320), st.CurrentRefSlot, "ref slot should advance")
	require.Equal(t, hashOne, st.ConsensusHash, "hash should be recorded")
	require.Equal(t, primitives.Slot(640), st.ProcessingDeadlineSlot,
		"deadline should be the next frame's ref slot")
	require.False(t, st.ProcessingStarted, "processing should not have started")
}

// TestSubmitConsensusReportIdempotent verifies that resubmitting an
// identical hash for the same unprocessed ref slot changes nothing.
func TestSubmitConsensusReportIdempotent(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.submit(320, hashOne), "first submission should succeed")
	before := f.cons.State()

	require.NoError(t, f.submit(320, hashOne), "identical resubmission should be a no-op")
	require.Equal(t, before, f.cons.State(), "state should be unchanged")
}

// TestSubmitConsensusReportReplaceBeforeProcessing verifies that a
// conflicting hash replaces the recorded one while processing has not
// started, and is rejected afterwards.
func TestSubmitConsensusReportReplaceBeforeProcessing(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.submit(320, hashOne), "first submission should succeed")
	require.NoError(t, f.submit(320, hashTwo), "replacement before processing should succeed")
	require.Equal(t, hashTwo, f.cons.State().ConsensusHash, "hash should be replaced")

	require.NoError(t, f.cons.StartReportProcessing(320, hashTwo),
		"processing should start for the replaced hash")

	err := f.submit(320, hashOne)
	require.ErrorIs(t, err, oracle.ErrRefSlotAlreadyProcessing,
		"replacement after processing started should fail")
}

// TestSubmitConsensusReportValidation verifies the submission error
// taxonomy.
func TestSubmitConsensusReportValidation(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)
	require.NoError(t, f.submit(320, hashOne), "seed submission should succeed")

	t.Run("ref slot cannot decrease", func(t *testing.T) {
		err := f.submit(319, hashTwo)
		require.ErrorIs(t, err, oracle.ErrRefSlotCannotDecrease,
			"earlier ref slot should be rejected")
	})

	t.Run("zero hash", func(t *testing.T) {
		err := f.submit(320, common.Hash{})
		require.ErrorIs(t, err, oracle.ErrHashCannotBeZero,
			"zero hash should never be a valid report")
	})

	t.Run("wrong consensus version", func(t *testing.T) {
		err := f.cons.SubmitConsensusReport(member, 320, hashOne, 2)
		require.ErrorIs(t, err, oracle.ErrUnexpectedConsensusVersion,
			"version mismatch should be rejected")
	})
}

// TestStartReportProcessingValidation verifies the processing admission
// checks.
func TestStartReportProcessingValidation(t *testing.T) {
	t.Run("no consensus report", func(t *testing.T) {
		f := newFixture(t)
		f.setSlot(325)
		err := f.cons.StartReportProcessing(320, hashOne)
		require.ErrorIs(t, err, oracle.ErrNoConsensusReportToProcess,
			"processing without a recorded hash should fail")
	})

	t.Run("unexpected ref slot", func(t *testing.T) {
		f := newFixture(t)
		f.setSlot(325)
		require.NoError(t, f.submit(320, hashOne), "seed submission should succeed")
		err := f.cons.StartReportProcessing(640, hashOne)
		require.ErrorIs(t, err, oracle.ErrUnexpectedRefSlot,
			"ref slot other than the consensus one should fail")
	})

	t.Run("unexpected data hash", func(t *testing.T) {
		f := newFixture(t)
		f.setSlot(325)
		require.NoError(t, f.submit(320, hashOne), "seed submission should succeed")
		err := f.cons.StartReportProcessing(320, hashTwo)
		require.ErrorIs(t, err, oracle.ErrUnexpectedDataHash,
			"payload hash must match the consensus hash")
	})

	t.Run("deadline missed", func(t *testing.T) {
		f := newFixture(t)
		f.setSlot(325)
		require.NoError(t, f.submit(320, hashOne), "seed submission should succeed")
		f.setSlot(641) // past deadline slot 640
		err := f.cons.StartReportProcessing(320, hashOne)
		require.ErrorIs(t, err, oracle.ErrProcessingDeadlineMissed,
			"processing past the deadline should fail")
	})

	t.Run("double start", func(t *testing.T) {
		f := newFixture(t)
		f.setSlot(325)
		require.NoError(t, f.submit(320, hashOne), "seed submission should succeed")
		require.NoError(t, f.cons.StartReportProcessing(320, hashOne),
			"first start should succeed")
		err := f.cons.StartReportProcessing(320, hashOne)
		require.ErrorIs(t, err, oracle.ErrRefSlotAlreadyProcessing,
			"second start for the same ref slot should fail")
	})
}

// TestProcessingMonotonicity verifies that once a ref slot is fully
// processed, every call at or below it fails deterministically.
func TestProcessingMonotonicity(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.submit(320, hashOne), "submission should succeed")
	require.NoError(t, f.cons.StartReportProcessing(320, hashOne), "start should succeed")
	require.NoError(t, f.cons.FinishReportProcessing(320), "finish should succeed")

	st := f.cons.State()
	require.Equal(t, primitives.Slot(320), st.LastProcessingRefSlot,
		"watermark should advance to the processed ref slot")

	err := f.submit(320, hashTwo)
	require.ErrorIs(t, err, oracle.ErrRefSlotAlreadyProcessing,
		"resubmitting a processed window should fail")

	err = f.cons.StartReportProcessing(320, hashOne)
	require.ErrorIs(t, err, oracle.ErrStaleReport,
		"reprocessing a processed window should fail")

	// The next frame opens normally.
	f.setSlot(645)
	require.NoError(t, f.submit(640, hashTwo), "next window should accept a report")
}

// TestPauseResume verifies the pause lifecycle and its gating of all
// state-changing operations.
func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.cons.Pause(member), "pause should succeed")
	require.True(t, f.cons.Paused(), "oracle should report paused")

	require.ErrorIs(t, f.submit(320, hashOne), oracle.ErrPaused,
		"submission while paused should fail")
	require.ErrorIs(t, f.cons.StartReportProcessing(320, hashOne), oracle.ErrPaused,
		"processing while paused should fail")
	require.ErrorIs(t, f.cons.Pause(member), oracle.ErrPaused,
		"redundant pause should fail")

	require.NoError(t, f.cons.Resume(member), "resume should succeed")
	require.ErrorIs(t, f.cons.Resume(member), oracle.ErrNotPaused,
		"redundant resume should fail")

	require.NoError(t, f.submit(320, hashOne), "submission after resume should succeed")
}

// TestResumeRequiresInitialEpoch verifies that a schedule migrated into
// the future blocks resumption until its anchor arrives.
func TestResumeRequiresInitialEpoch(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.cons.Pause(member), "pause should succeed")
	require.NoError(t, f.cons.UpdateInitialEpoch(member, 100),
		"schedule migration should succeed")

	err := f.cons.Resume(member)
	require.ErrorIs(t, err, frame.ErrInitialEpochYetToArrive,
		"resume before the new anchor arrives should fail")

	f.setSlot(100 * 32)
	require.NoError(t, f.cons.Resume(member), "resume after the anchor arrives should succeed")
}

// TestUpdateInitialEpochWatermark verifies that the schedule cannot be
// re-anchored onto an already processed frame.
func TestUpdateInitialEpochWatermark(t *testing.T) {
	f := newFixture(t)
	f.setSlot(325)

	require.NoError(t, f.submit(320, hashOne), "submission should succeed")
	require.NoError(t, f.cons.StartReportProcessing(320, hashOne), "start should succeed")
	require.NoError(t, f.cons.FinishReportProcessing(320), "finish should succeed")

	// Epoch 10 maps to ref slot 320, which is already processed.
	err := f.cons.UpdateInitialEpoch(member, 10)
	require.ErrorIs(t, err, oracle.ErrRefSlotAlreadyProcessing,
		"re-anchoring onto a processed frame should fail")
}

// TestAuthorization verifies that the injected capability predicate gates
// every role-gated operation.
func TestAuthorization(t *testing.T) {
	denied := common.HexToAddress("0x2222222222222222222222222222222222222222")
	authorize := func(caller common.Address, action oracle.Action) bool {
		return caller == member
	}

	f := &fixture{t: t}
	f.clock = testutils.NewClock(t, 0, 10)
	f.now = testutils.Genesis

	cons, err := oracle.NewConsensus(
		testutils.Logger(t),
		f.clock,
		oracle.Config{ConsensusVersion: 1},
		authorize,
		oracle.WithNowFunc(func() time.Time { return f.now }),
	)
	require.NoError(t, err, "consensus construction should succeed")
	f.cons = cons
	f.setSlot(325)

	err = cons.SubmitConsensusReport(denied, 320, hashOne, 1)
	require.ErrorIs(t, err, oracle.ErrUnauthorized, "denied caller should not submit")

	require.ErrorIs(t, cons.Pause(denied), oracle.ErrUnauthorized,
		"denied caller should not pause")
	require.ErrorIs(t, cons.UpdateInitialEpoch(denied, 50), oracle.ErrUnauthorized,
		"denied caller should not manage the schedule")
	require.ErrorIs(t, cons.AuthorizeData(denied), oracle.ErrUnauthorized,
		"denied caller should not submit data")

	require.NoError(t, cons.SubmitConsensusReport(member, 320, hashOne, 1),
		"authorized caller should submit")
}

// TestFastLaneGating verifies that only fast-lane members may report
// during the fast-lane interval of a frame.
func TestFastLaneGating(t *testing.T) {
	members := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0x0000000000000000000000000000000000000002"),
		common.HexToAddress("0x0000000000000000000000000000000000000003"),
		common.HexToAddress("0x0000000000000000000000000000000000000004"),
		common.HexToAddress("0x0000000000000000000000000000000000000005"),
	}
	committee, err := oracle.NewCommittee(members, 2)
	require.NoError(t, err, "committee construction should succeed")

	f := &fixture{t: t}
	f.clock = testutils.NewClock(t, 0, 10)
	f.now = testutils.Genesis

	cons, err := oracle.NewConsensus(
		testutils.Logger(t),
		f.clock,
		oracle.Config{ConsensusVersion: 1, FastLaneLengthSlots: 100},
		oracle.AllowAll,
		oracle.WithCommittee(committee),
		oracle.WithNowFunc(func() time.Time { return f.now }),
	)
	require.NoError(t, err, "consensus construction should succeed")
	f.cons = cons

	// Frame 1 (ref slot 320): fast-lane subset is member indices {1, 2}.
	f.setSlot(325)

	err = cons.SubmitConsensusReport(members[0], 320, hashOne, 1)
	require.ErrorIs(t, err, oracle.ErrFastLaneInterval,
		"non-fast-lane member should be rejected inside the interval")

	require.NoError(t, cons.SubmitConsensusReport(members[1], 320, hashOne, 1),
		"fast-lane member should report inside the interval")

	// Past the fast-lane interval any member may report.
	f.setSlot(430)
	require.NoError(t, cons.SubmitConsensusReport(members[0], 320, hashOne, 1),
		"any member should report after the interval")

	// Non-members are always rejected.
	outsider := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	err = cons.SubmitConsensusReport(outsider, 320, hashOne, 1)
	require.ErrorIs(t, err, oracle.ErrUnauthorized, "non-member should be rejected")
}
