package oracle_test

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/thep2p/go-staking-oracle/internal/oracle"
)

func makeMembers(n int) []common.Address {
	members := make([]common.Address, n)
	for i := range members {
		members[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}
	return members
}

// TestCommitteeMembership verifies basic membership operations.
func TestCommitteeMembership(t *testing.T) {
	members := makeMembers(3)
	committee, err := oracle.NewCommittee(members, 1)
	require.NoError(t, err, "committee construction should succeed")

	require.Equal(t, 3, committee.Size(), "committee should have 3 members")
	require.True(t, committee.IsMember(members[0]), "listed address should be a member")
	require.False(t, committee.IsMember(common.HexToAddress("0xdead")),
		"unlisted address should not be a member")

	// Add and remove
	extra := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, committee.AddMember(extra), "adding a new member should succeed")
	require.True(t, committee.IsMember(extra), "added address should be a member")
	require.Error(t, committee.AddMember(extra), "adding a duplicate should fail")

	require.NoError(t, committee.RemoveMember(extra), "removing a member should succeed")
	require.False(t, committee.IsMember(extra), "removed address should not be a member")
	require.Error(t, committee.RemoveMember(extra), "removing a non-member should fail")
}

// TestCommitteeRejectsDuplicates verifies that duplicate members are
// rejected at construction.
func TestCommitteeRejectsDuplicates(t *testing.T) {
	members := makeMembers(3)
	members = append(members, members[0])

	_, err := oracle.NewCommittee(members, 1)
	require.Error(t, err, "duplicate members should be rejected")
}

// TestFastLaneRotation verifies that the fast-lane subset rotates with the
// frame index and wraps around the end of the member list.
func TestFastLaneRotation(t *testing.T) {
	members := makeMembers(5)
	committee, err := oracle.NewCommittee(members, 2)
	require.NoError(t, err, "committee construction should succeed")

	// Frame 0: subset is indices {0, 1}.
	require.True(t, committee.IsFastLaneMember(members[0], 0), "index 0 in frame 0 subset")
	require.True(t, committee.IsFastLaneMember(members[1], 0), "index 1 in frame 0 subset")
	require.False(t, committee.IsFastLaneMember(members[2], 0), "index 2 not in frame 0 subset")

	// Frame 4: subset wraps to indices {4, 0}.
	require.True(t, committee.IsFastLaneMember(members[4], 4), "index 4 in frame 4 subset")
	require.True(t, committee.IsFastLaneMember(members[0], 4), "index 0 in frame 4 subset (wrap)")
	require.False(t, committee.IsFastLaneMember(members[1], 4), "index 1 not in frame 4 subset")

	// Frame 5: rotation is periodic in the member count.
	require.True(t, committee.IsFastLaneMember(members[0], 5), "index 0 in frame 5 subset")
	require.True(t, committee.IsFastLaneMember(members[1], 5), "index 1 in frame 5 subset")
}

// TestFastLaneDegenerateSizes verifies subset sizes of zero and of the
// whole committee.
func TestFastLaneDegenerateSizes(t *testing.T) {
	members := makeMembers(3)

	all, err := oracle.NewCommittee(members, 3)
	require.NoError(t, err, "committee construction should succeed")
	for i, m := range members {
		require.True(t, all.IsFastLaneMember(m, 7),
			"index %d should be fast lane when the subset covers everyone", i)
	}

	none, err := oracle.NewCommittee(members, 0)
	require.NoError(t, err, "committee construction should succeed")
	for i, m := range members {
		require.False(t, none.IsFastLaneMember(m, 7),
			"index %d should not be fast lane when the subset is empty", i)
	}
}
