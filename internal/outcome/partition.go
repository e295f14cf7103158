// Package outcome splits the 2^32 sample space of a game into contiguous
// outcome ranges, one per weight.
package outcome

import (
	"fmt"
	"math/big"

	"github.com/johndpope/erc20bet/internal/domain"
)

// SampleSpace is the number of distinct random results a game can produce.
const SampleSpace uint64 = 1 << 32

// Partition assigns each weight a contiguous inclusive range, in order,
// starting at zero. Weights summing to less than SampleSpace leave the top
// of the space unassigned.
func Partition(weights []uint32) ([]domain.OutcomeRange, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("outcome: partition: no weights: %w", domain.ErrInvalidProbability)
	}
	ranges := make([]domain.OutcomeRange, len(weights))
	var total uint64
	for i, w := range weights {
		if w == 0 {
			return nil, fmt.Errorf("outcome: partition: weight %d is zero: %w", i, domain.ErrInvalidProbability)
		}
		if total+uint64(w) > SampleSpace {
			return nil, fmt.Errorf("outcome: partition: weights exceed 2^32 at %d: %w", i, domain.ErrOverflow)
		}
		ranges[i] = domain.OutcomeRange{
			Subscript: i,
			MinResult: uint32(total),
			MaxResult: uint32(total + uint64(w) - 1),
		}
		total += uint64(w)
	}
	return ranges, nil
}

// PartitionFull is Partition for a settlement batch, where the weights
// must cover the whole sample space.
func PartitionFull(weights []uint32) ([]domain.OutcomeRange, error) {
	ranges, err := Partition(weights)
	if err != nil {
		return nil, err
	}
	if sum := Sum(weights); sum != SampleSpace {
		return nil, fmt.Errorf("outcome: weights sum to %d, want 2^32: %w", sum, domain.ErrInvalidProbability)
	}
	return ranges, nil
}

// Sum adds the weights without overflowing.
func Sum(weights []uint32) uint64 {
	var total uint64
	for _, w := range weights {
		total += uint64(w)
	}
	return total
}

// Find returns the index of the range that contains n.
func Find(ranges []domain.OutcomeRange, n *big.Int) (int, bool) {
	for i, r := range ranges {
		if r.Contains(n) {
			return i, true
		}
	}
	return -1, false
}
