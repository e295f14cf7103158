package outcome

import (
	"math/big"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/domain"
)

func TestPartitionTwoOutcomes(t *testing.T) {
	ranges, err := PartitionFull([]uint32{0x40000000, 0xC0000000})
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	assert.Equal(t, domain.OutcomeRange{Subscript: 0, MinResult: 0, MaxResult: 0x3FFFFFFF}, ranges[0])
	assert.Equal(t, domain.OutcomeRange{Subscript: 1, MinResult: 0x40000000, MaxResult: 0xFFFFFFFF}, ranges[1])
}

func TestPartitionSingleFullWeight(t *testing.T) {
	_, err := Partition([]uint32{0xFFFFFFFF})
	require.NoError(t, err)

	// A lone outcome can never cover 2^32 with a uint32 weight.
	_, err = PartitionFull([]uint32{0xFFFFFFFF})
	require.ErrorIs(t, err, domain.ErrInvalidProbability)
}

func TestPartitionErrors(t *testing.T) {
	tests := []struct {
		name    string
		weights []uint32
		want    error
	}{
		{name: "empty", weights: nil, want: domain.ErrInvalidProbability},
		{name: "zero weight", weights: []uint32{1, 0, 1}, want: domain.ErrInvalidProbability},
		{name: "overflow", weights: []uint32{0x80000000, 0x80000000, 1}, want: domain.ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(tt.weights)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPartitionExactlyFull(t *testing.T) {
	weights := []uint32{0x80000000, 0x80000000}
	ranges, err := PartitionFull(weights)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), ranges[1].MaxResult)
}

func TestPartitionCoverage(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 200; iter++ {
		n := 1 + r.IntN(8)
		weights := randomFullWeights(r, n)

		ranges, err := PartitionFull(weights)
		require.NoError(t, err)

		assert.Equal(t, uint32(0), ranges[0].MinResult)
		assert.Equal(t, uint32(0xFFFFFFFF), ranges[len(ranges)-1].MaxResult)
		for i := 1; i < len(ranges); i++ {
			assert.Equal(t, uint64(ranges[i-1].MaxResult)+1, uint64(ranges[i].MinResult))
		}
		for i, rg := range ranges {
			assert.Equal(t, uint64(weights[i]), uint64(rg.MaxResult)-uint64(rg.MinResult)+1)
		}

		// Every sampled number lies in exactly one range.
		for k := 0; k < 20; k++ {
			v := big.NewInt(int64(r.Uint32()))
			hits := 0
			for _, rg := range ranges {
				if rg.Contains(v) {
					hits++
				}
			}
			assert.Equal(t, 1, hits)
			_, ok := Find(ranges, v)
			assert.True(t, ok)
		}
	}
}

// randomFullWeights returns n non-zero weights summing to 2^32.
func randomFullWeights(r *rand.Rand, n int) []uint32 {
	if n == 1 {
		n = 2
	}
	cuts := make(map[uint64]bool)
	for len(cuts) < n-1 {
		c := 1 + r.Uint64N(SampleSpace-1)
		cuts[c] = true
	}
	points := []uint64{0}
	for c := range cuts {
		points = append(points, c)
	}
	points = append(points, SampleSpace)
	slices.Sort(points)

	weights := make([]uint32, 0, n)
	for i := 1; i < len(points); i++ {
		weights = append(weights, uint32(points[i]-points[i-1]))
	}
	return weights
}

func TestFindOutsidePartialSpace(t *testing.T) {
	ranges, err := Partition([]uint32{10, 10})
	require.NoError(t, err)

	i, ok := Find(ranges, big.NewInt(15))
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = Find(ranges, big.NewInt(20))
	assert.False(t, ok)
}
