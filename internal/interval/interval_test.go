package interval_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thep2p/go-staking-oracle/internal/interval"
)

// TestContainsNonWrapping verifies the ordinary closed-range case where
// left <= right: membership must hold exactly for left <= point <= right.
func TestContainsNonWrapping(t *testing.T) {
	const modulus = 10

	for point := uint64(0); point < modulus; point++ {
		got := interval.Contains(point, 2, 7, modulus)
		want := point >= 2 && point <= 7
		require.Equal(t, want, got,
			"point %d in [2,7] mod %d should be %v", point, modulus, want)
	}
}

// TestContainsWrapping verifies the wrap-around case where left > right:
// membership must hold exactly for point >= left or point <= right.
func TestContainsWrapping(t *testing.T) {
	const modulus = 10

	for point := uint64(0); point < modulus; point++ {
		got := interval.Contains(point, 8, 2, modulus)
		want := point >= 8 || point <= 2
		require.Equal(t, want, got,
			"point %d in wrapping [8,2] mod %d should be %v", point, modulus, want)
	}
}

// TestContainsReducesArguments verifies that point, left, and right are all
// reduced modulo the modulus before the membership test.
func TestContainsReducesArguments(t *testing.T) {
	// 23 % 10 = 3, 12 % 10 = 2, 17 % 10 = 7 -> 3 in [2,7]
	require.True(t, interval.Contains(23, 12, 17, 10),
		"arguments should be reduced before the range test")

	// 29 % 10 = 9, outside [2,7]
	require.False(t, interval.Contains(29, 12, 17, 10),
		"reduced point outside the arc should not be a member")
}

// TestContainsSinglePointArc verifies a degenerate arc of one element.
func TestContainsSinglePointArc(t *testing.T) {
	require.True(t, interval.Contains(4, 4, 4, 10), "arc [4,4] should contain 4")
	require.False(t, interval.Contains(5, 4, 4, 10), "arc [4,4] should not contain 5")
}

// TestContainsFullCircle verifies that [0, modulus-1] contains every point.
func TestContainsFullCircle(t *testing.T) {
	const modulus = 7
	for point := uint64(0); point < 3*modulus; point++ {
		require.True(t, interval.Contains(point, 0, modulus-1, modulus),
			"full-circle arc should contain point %d", point)
	}
}

// TestContainsExhaustiveAgainstModel cross-checks Contains against a naive
// walk of the arc for every (left, right, point) combination on a small
// circle.
func TestContainsExhaustiveAgainstModel(t *testing.T) {
	const modulus = 6

	walk := func(point, left, right uint64) bool {
		for i := left; ; i = (i + 1) % modulus {
			if i == point {
				return true
			}
			if i == right {
				return false
			}
		}
	}

	for left := uint64(0); left < modulus; left++ {
		for right := uint64(0); right < modulus; right++ {
			for point := uint64(0); point < modulus; point++ {
				want := walk(point, left, right)
				got := interval.Contains(point, left, right, modulus)
				require.Equal(t, want, got,
					"point=%d left=%d right=%d", point, left, right)
			}
		}
	}
}
