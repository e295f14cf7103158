// Package merkle builds and verifies the sorted-pair Merkle trees whose roots
// the ledger stores per game. Sibling hashes are ordered before hashing, so
// a proof is a plain list of siblings with no left/right flags.
package merkle

import (
	"bytes"
	"fmt"
	"math/bits"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
)

// Tree is a built tree. Proofs[i] proves Leaves[i].
type Tree struct {
	Root   common.Hash     `json:"root"`
	Leaves []common.Hash   `json:"leaves"`
	Proofs [][]common.Hash `json:"proofs"`
}

// Proof returns the proof of the leaf at index i.
func (t *Tree) Proof(i int) ([]common.Hash, bool) {
	if i < 0 || i >= len(t.Proofs) {
		return nil, false
	}
	return t.Proofs[i], true
}

// Build builds a keccak256 tree over leaves.
func Build(leaves []common.Hash) (*Tree, error) {
	return BuildWith(crypto.Keccak256Hasher{}, leaves)
}

// BuildWith builds a tree with an explicit hasher. Leaves must be non-empty
// and pairwise distinct.
func BuildWith(h crypto.Hasher, leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: build: %w", domain.ErrEmptyTree)
	}
	if i, ok := firstDuplicate(leaves); ok {
		return nil, fmt.Errorf("merkle: build: leaf %s repeats: %w", leaves[i].Hex(), domain.ErrDuplicateLeaf)
	}
	root, proofs := build(h, leaves)
	return &Tree{
		Root:   root,
		Leaves: slices.Clone(leaves),
		Proofs: proofs,
	}, nil
}

func build(h crypto.Hasher, leaves []common.Hash) (common.Hash, [][]common.Hash) {
	if len(leaves) == 1 {
		return leaves[0], [][]common.Hash{{}}
	}
	mid := splitPoint(len(leaves))
	rootL, proofsL := build(h, leaves[:mid])
	rootR, proofsR := build(h, leaves[mid:])

	proofs := make([][]common.Hash, 0, len(leaves))
	for _, p := range proofsL {
		proofs = append(proofs, append(p, rootR))
	}
	for _, p := range proofsR {
		proofs = append(proofs, append(p, rootL))
	}
	return hashPair(h, rootL, rootR), proofs
}

// splitPoint is the largest power of two strictly below n, for n >= 2.
func splitPoint(n int) int {
	return 1 << (bits.Len(uint(n-1)) - 1)
}

func hashPair(h crypto.Hasher, a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 2*common.HashLength)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return h.Hash(buf)
}

func firstDuplicate(leaves []common.Hash) (int, bool) {
	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return slices.Index(leaves, sorted[i]), true
		}
	}
	return 0, false
}

// ComputeRoot folds a proof into the root it implies for leaf.
func ComputeRoot(h crypto.Hasher, leaf common.Hash, proof []common.Hash) common.Hash {
	node := leaf
	for _, sibling := range proof {
		node = hashPair(h, node, sibling)
	}
	return node
}

// Verify reports whether proof links leaf to root under keccak256.
func Verify(root, leaf common.Hash, proof []common.Hash) bool {
	return VerifyWith(crypto.Keccak256Hasher{}, root, leaf, proof)
}

// VerifyWith is Verify with an explicit hasher.
func VerifyWith(h crypto.Hasher, root, leaf common.Hash, proof []common.Hash) bool {
	return ComputeRoot(h, leaf, proof) == root
}
