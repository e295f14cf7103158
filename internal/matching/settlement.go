// Package matching turns a set of compatible signed offers into the
// ledger's settlement call.
package matching

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/outcome"
)

// MaxSubscripts is how many outcome subscripts fit in the packed bytes32
// after its length byte.
const MaxSubscripts = 31

// PackOutcomeSubscripts encodes subscripts as [len, s0, s1, ...] right
// padded with zeros to 32 bytes.
func PackOutcomeSubscripts(subs []uint8) ([32]byte, error) {
	var out [32]byte
	if len(subs) > MaxSubscripts {
		return out, fmt.Errorf("matching: %d subscripts, at most %d fit: %w", len(subs), MaxSubscripts, domain.ErrEncoding)
	}
	out[0] = byte(len(subs))
	copy(out[1:], subs)
	return out, nil
}

// UnpackOutcomeSubscripts is the inverse of PackOutcomeSubscripts.
func UnpackOutcomeSubscripts(b [32]byte) ([]uint8, error) {
	n := int(b[0])
	if n > MaxSubscripts {
		return nil, fmt.Errorf("matching: length byte %d: %w", n, domain.ErrEncoding)
	}
	return append([]uint8{}, b[1:1+n]...), nil
}

// BuildSettlement checks that bets can settle together and lays them out
// as a startGame call. Bet i backs outcome i, whose weight is the bet's
// probability, so the probabilities must cover 2^32 exactly. Balancing
// stakes against payouts is left to the ledger.
func BuildSettlement(bets []domain.SignedBet, token common.Address, expiry *big.Int) (domain.SettlementCall, error) {
	if len(bets) == 0 {
		return domain.SettlementCall{}, fmt.Errorf("matching: no bets: %w", domain.ErrIncompatibleBatch)
	}
	if len(bets) > 1<<8 {
		return domain.SettlementCall{}, fmt.Errorf("matching: %d bets exceed the outcome subscript range: %w", len(bets), domain.ErrIncompatibleBatch)
	}
	if expiry == nil || expiry.Sign() <= 0 {
		return domain.SettlementCall{}, fmt.Errorf("matching: game expiry must be positive: %w", domain.ErrIncompatibleBatch)
	}

	contract := bets[0].Offer.BetContract
	seen := make(map[common.Hash]bool, len(bets))
	probs := make([]uint32, len(bets))
	ids := crypto.DefaultIDs()

	for i, b := range bets {
		o := b.Offer
		if o.Token != token {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d is in token %s, not %s: %w", i, o.Token.Hex(), token.Hex(), domain.ErrIncompatibleBatch)
		}
		if o.BetContract != contract {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d targets contract %s, not %s: %w", i, o.BetContract.Hex(), contract.Hex(), domain.ErrIncompatibleBatch)
		}
		if b.Signature.IsZero() {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d is unsigned: %w", i, domain.ErrInvalidSignature)
		}
		if o.Prob >= outcome.SampleSpace {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d prob %d: %w", i, o.Prob, domain.ErrEncoding)
		}
		id, err := ids.BetID(b.Owner, o)
		if err != nil {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d: %w", i, err)
		}
		if seen[id] {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %s appears twice: %w", id.Hex(), domain.ErrIncompatibleBatch)
		}
		seen[id] = true
		if err := crypto.VerifyOffer(b.Owner, o, b.Signature); err != nil {
			return domain.SettlementCall{}, fmt.Errorf("matching: bet %d: %w", i, err)
		}
		probs[i] = uint32(o.Prob)
	}

	if _, err := outcome.PartitionFull(probs); err != nil {
		return domain.SettlementCall{}, fmt.Errorf("matching: %w: %w", domain.ErrIncompatibleBatch, err)
	}

	call := domain.SettlementCall{
		Token:        token,
		Expiry:       new(big.Int).Set(expiry),
		Bets:         make([]domain.SettlementBet, len(bets)),
		OutcomeProbs: probs,
	}
	for i, b := range bets {
		subs, err := PackOutcomeSubscripts([]uint8{uint8(i)})
		if err != nil {
			return domain.SettlementCall{}, err
		}
		call.Bets[i] = domain.SettlementBet{
			Owner:             b.Owner,
			Stake:             b.Offer.Stake,
			Payout:            b.Offer.Payout,
			Prob:              uint32(b.Offer.Prob),
			Expiry:            b.Offer.Expiry,
			Nonce:             b.Offer.Nonce,
			V:                 b.Signature.V,
			R:                 b.Signature.R,
			S:                 b.Signature.S,
			OutcomeSubscripts: subs,
		}
	}
	return call, nil
}
