package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetState mirrors the ledger's view of a bet. It is observed, never
// advanced locally except to record what the ledger reported.
type BetState string

const (
	BetStateUnknown          BetState = "unknown"
	BetStatePlacedNotMatched BetState = "placed_not_matched"
	BetStateMatched          BetState = "matched"
	BetStateClosed           BetState = "closed"
)

// BetOffer is the part of a wager that the bettor signs. Prob is the win
// probability numerator over 2^32; it is held in a uint64 so an
// out-of-range value reaches the encoder and is rejected there.
type BetOffer struct {
	Token       common.Address `json:"token"`
	Stake       *big.Int       `json:"stake"`
	Payout      *big.Int       `json:"payout"`
	Prob        uint64         `json:"prob"`
	Expiry      *big.Int       `json:"expiry"`
	Nonce       *big.Int       `json:"nonce"`
	BetContract common.Address `json:"betContract"`
}

// ExpiredAt reports whether the offer can no longer be matched at t.
func (o BetOffer) ExpiredAt(t time.Time) bool {
	if o.Expiry == nil {
		return true
	}
	return o.Expiry.Cmp(big.NewInt(t.Unix())) <= 0
}

// Signature is a secp256k1 signature split the way the ledger's bet tuple
// expects it.
type Signature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// IsZero reports whether the signature has not been filled in.
func (s Signature) IsZero() bool {
	return s.V == 0 && s.R == (common.Hash{}) && s.S == (common.Hash{})
}

// Bytes returns the 65-byte r || s || v form.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// SignatureFromBytes splits a 65-byte r || s || v signature. A recovery id
// of 0 or 1 is normalised to 27 or 28.
func SignatureFromBytes(b []byte) (Signature, bool) {
	if len(b) != 65 {
		return Signature{}, false
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, true
}

// SignedBet is an offer together with its owner and signature, as held in
// the bet book.
type SignedBet struct {
	ID        common.Hash    `json:"id"`
	Owner     common.Address `json:"owner"`
	Offer     BetOffer       `json:"offer"`
	Signature Signature      `json:"signature"`
	State     BetState       `json:"state"`
	GameID    *common.Hash   `json:"gameId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
