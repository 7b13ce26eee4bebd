// Package interval implements membership tests on a circular index domain.
//
// The oracle committee rotates a fast-lane subset of members across
// reporting frames. Whether a member index falls inside the subset is a
// closed-arc test on the circle of committee indices, which may wrap
// around zero when the subset straddles the end of the member list.
package interval

// Contains reports whether point lies on the closed arc [left, right] of a
// circle with the given modulus.
//
// All three positional arguments are reduced modulo modulus before the
// test. When left <= right the arc is an ordinary closed range. When
// left > right the arc wraps around zero and membership holds for any
// point at or above left, or at or below right.
//
// The behavior for modulus == 0 is undefined; callers must guard against
// it before invoking Contains.
func Contains(point, left, right, modulus uint64) bool {
	point %= modulus
	left %= modulus
	right %= modulus

	if left <= right {
		return left <= point && point <= right
	}
	return point >= left || point <= right
}
