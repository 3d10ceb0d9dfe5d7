package saconsensus

import "errors"

// ByzantineMajority returns the smallest value strictly greater than 2/3 of n.
// Compare with >=.
// For example, ByzantineMajority(64) = 43.
//
// ByzantineMajority(0) panics.
func ByzantineMajority(n uint32) uint32 {
	if n == 0 {
		panic(errors.New("ByzantineMajority: n must be positive"))
	}

	quo, rem := n/3, n%3
	if rem < 2 {
		return 2*quo + 1
	}
	return 2*quo + 2
}

// Majority returns the smallest value strictly greater than half of n.
// Compare with >=.
//
// Majority(0) panics.
func Majority(n uint32) uint32 {
	if n == 0 {
		panic(errors.New("Majority: n must be positive"))
	}
	return n/2 + 1
}
