package oracle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/thep2p/go-staking-oracle/internal/interval"
)

// Committee is the ordered list of members permitted to report, with a
// fast-lane subset that rotates across frames.
//
// For frame F on a committee of n members, the fast-lane subset is the
// closed arc of fastLaneSize member indices starting at F % n. During the
// first fastLaneLengthSlots slots of a frame (enforced by the consensus
// state machine), only members of that subset may submit; afterwards any
// member may.
type Committee struct {
	mu           sync.RWMutex
	members      []common.Address
	fastLaneSize uint64
}

// NewCommittee creates a committee from the given member list.
//
// fastLaneSize is the number of members in the rotating fast-lane subset;
// it is capped at the member count. Duplicate members are rejected.
func NewCommittee(members []common.Address, fastLaneSize uint64) (*Committee, error) {
	seen := make(map[common.Address]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("duplicate committee member %s", m)
		}
		seen[m] = struct{}{}
	}

	c := &Committee{
		members:      append([]common.Address(nil), members...),
		fastLaneSize: fastLaneSize,
	}
	return c, nil
}

// Size returns the number of committee members.
func (c *Committee) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// IsMember reports whether addr belongs to the committee.
func (c *Committee) IsMember(addr common.Address) bool {
	_, ok := c.indexOf(addr)
	return ok
}

// AddMember appends a new member to the committee.
func (c *Committee) AddMember(addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.members {
		if m == addr {
			return fmt.Errorf("member %s already in committee", addr)
		}
	}
	c.members = append(c.members, addr)
	return nil
}

// RemoveMember removes a member from the committee.
func (c *Committee) RemoveMember(addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.members {
		if m == addr {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("member %s not in committee", addr)
}

// IsFastLaneMember reports whether addr belongs to the fast-lane subset
// for the given frame.
func (c *Committee) IsFastLaneMember(addr common.Address, frameIndex uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := uint64(len(c.members))
	if n == 0 || c.fastLaneSize == 0 {
		return false
	}

	idx, ok := c.indexOfLocked(addr)
	if !ok {
		return false
	}
	if c.fastLaneSize >= n {
		return true
	}

	left := frameIndex % n
	right := (left + c.fastLaneSize - 1) % n
	return interval.Contains(idx, left, right, n)
}

func (c *Committee) indexOf(addr common.Address) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOfLocked(addr)
}

func (c *Committee) indexOfLocked(addr common.Address) (uint64, bool) {
	for i, m := range c.members {
		if m == addr {
			return uint64(i), true
		}
	}
	return 0, false
}
