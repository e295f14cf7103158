package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/johndpope/erc20bet/internal/domain"
)

// Hasher is the 256-bit hash every identifier and tree node is built with.
type Hasher interface {
	Hash(data []byte) common.Hash
}

// Keccak256Hasher is the ledger's hash function.
type Keccak256Hasher struct{}

// Hash implements Hasher.
func (Keccak256Hasher) Hash(data []byte) common.Hash {
	return ethcrypto.Keccak256Hash(data)
}

// IDs derives bet and ticket identifiers with a single hasher.
type IDs struct {
	Hasher Hasher
}

// DefaultIDs uses keccak256.
func DefaultIDs() IDs {
	return IDs{Hasher: Keccak256Hasher{}}
}

func (ids IDs) hasher() Hasher {
	if ids.Hasher == nil {
		return Keccak256Hasher{}
	}
	return ids.Hasher
}

// BetHash identifies the signed terms of an offer. The owner is not part of
// it, so two bettors may sign identical terms.
func (ids IDs) BetHash(o domain.BetOffer) (common.Hash, error) {
	pre, err := EncodeBetOffer(o)
	if err != nil {
		return common.Hash{}, err
	}
	return ids.hasher().Hash(pre), nil
}

// BetIDFromHash binds a bet hash to its owner.
func (ids IDs) BetIDFromHash(owner common.Address, betHash common.Hash) common.Hash {
	var p Packer
	b, _ := p.AppendAddress(owner).AppendBytes32(betHash).Bytes()
	return ids.hasher().Hash(b)
}

// BetID is H(owner, BetHash(o)).
func (ids IDs) BetID(owner common.Address, o domain.BetOffer) (common.Hash, error) {
	h, err := ids.BetHash(o)
	if err != nil {
		return common.Hash{}, err
	}
	return ids.BetIDFromHash(owner, h), nil
}

// BetKey is H(owner, betID), the ledger's storage key for a bet.
func (ids IDs) BetKey(owner common.Address, betID common.Hash) common.Hash {
	var p Packer
	b, _ := p.AppendAddress(owner).AppendBytes32(betID).Bytes()
	return ids.hasher().Hash(b)
}

// TicketLeaf is the Merkle leaf of a ticket:
// H(owner, minResult uint32, maxResult uint32, payout uint256).
func (ids IDs) TicketLeaf(owner common.Address, minResult, maxResult uint32, payout *big.Int) (common.Hash, error) {
	var p Packer
	b, err := p.AppendAddress(owner).
		AppendUint32("minResult", uint64(minResult)).
		AppendUint32("maxResult", uint64(maxResult)).
		AppendUint256("payout", payout).
		Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	return ids.hasher().Hash(b), nil
}

// NewNonce draws a fresh 256-bit nonce from the system CSPRNG.
func NewNonce() (*big.Int, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}
