package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeRange is one inclusive slice [MinResult, MaxResult] of the 2^32
// sample space. Subscript is its position in the game's outcome list.
type OutcomeRange struct {
	Subscript int    `json:"outcomeSubscript"`
	MinResult uint32 `json:"minResult"`
	MaxResult uint32 `json:"maxResult"`
}

// Contains reports whether n falls inside the range.
func (r OutcomeRange) Contains(n *big.Int) bool {
	if n == nil || n.Sign() < 0 || !n.IsUint64() {
		return false
	}
	v := n.Uint64()
	return uint64(r.MinResult) <= v && v <= uint64(r.MaxResult)
}

// Ticket is one claim right over an outcome range. Tickets are rebuilt from
// the settlement log and never stored on chain.
type Ticket struct {
	Index     int            `json:"index"`
	Owner     common.Address `json:"owner"`
	BetID     common.Hash    `json:"betId"`
	Payout    *big.Int       `json:"payout"`
	Outcome   int            `json:"outcomeSubscript"`
	MinResult uint32         `json:"minResult"`
	MaxResult uint32         `json:"maxResult"`
	Leaf      common.Hash    `json:"leaf"`
	Proof     []common.Hash  `json:"proof"`
}

// IsWinner reports whether the generated random number lands in the
// ticket's range, both ends inclusive.
func (t Ticket) IsWinner(n *big.Int) bool {
	return OutcomeRange{MinResult: t.MinResult, MaxResult: t.MaxResult}.Contains(n)
}

// GameTicket is a ticket looked up outside its game.
type GameTicket struct {
	GameID common.Hash `json:"gameId"`
	Ticket
}

// MatchedBet groups the tickets that one BetMatched event granted.
type MatchedBet struct {
	BetID   common.Hash    `json:"betId"`
	Owner   common.Address `json:"owner"`
	Payout  *big.Int       `json:"payout"`
	Tickets []int          `json:"tickets"`
}

// GameState follows the oracle round trip of a settled game.
type GameState string

const (
	GameStateOpened   GameState = "opened"
	GameStateResolved GameState = "resolved"
)

// Game is the reconstructed view of one settlement transaction.
type Game struct {
	ID           common.Hash    `json:"gameId"`
	Token        common.Address `json:"token"`
	TxHash       common.Hash    `json:"txHash"`
	BlockNumber  uint64         `json:"blockNumber,omitempty"`
	Ranges       []OutcomeRange `json:"ranges"`
	TicketsRoot  common.Hash    `json:"ticketsMerkleRoot"`
	Bets         []MatchedBet   `json:"bets"`
	Tickets      []Ticket       `json:"tickets"`
	RandomNumber *big.Int       `json:"generatedRandomNumber,omitempty"`
	State        GameState      `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// TicketsByOwner groups the game's tickets by bettor, keeping emission order.
func (g *Game) TicketsByOwner() map[common.Address][]Ticket {
	out := make(map[common.Address][]Ticket)
	for _, t := range g.Tickets {
		out[t.Owner] = append(out[t.Owner], t)
	}
	return out
}

// Winners returns the tickets containing the game's random number. It is
// empty until the oracle result has been applied.
func (g *Game) Winners() []Ticket {
	if g.RandomNumber == nil {
		return nil
	}
	var out []Ticket
	for _, t := range g.Tickets {
		if t.IsWinner(g.RandomNumber) {
			out = append(out, t)
		}
	}
	return out
}

// Claim carries the arguments of the ledger's claimBet call.
type Claim struct {
	GameID    common.Hash    `json:"gameId"`
	Player    common.Address `json:"player"`
	BetID     common.Hash    `json:"betId"`
	MinResult uint32         `json:"minResult"`
	MaxResult uint32         `json:"maxResult"`
	Payout    *big.Int       `json:"payout"`
	Proof     []common.Hash  `json:"proof"`
}

// ClaimFor builds the claim tuple for a ticket.
func ClaimFor(gameID common.Hash, t Ticket) Claim {
	return Claim{
		GameID:    gameID,
		Player:    t.Owner,
		BetID:     t.BetID,
		MinResult: t.MinResult,
		MaxResult: t.MaxResult,
		Payout:    t.Payout,
		Proof:     t.Proof,
	}
}

// SettlementBet is one bet tuple of the startGame call.
type SettlementBet struct {
	Owner             common.Address `json:"owner"`
	Stake             *big.Int       `json:"stake"`
	Payout            *big.Int       `json:"payout"`
	Prob              uint32         `json:"prob"`
	Expiry            *big.Int       `json:"expiry"`
	Nonce             *big.Int       `json:"nonce"`
	V                 uint8          `json:"v"`
	R                 common.Hash    `json:"r"`
	S                 common.Hash    `json:"s"`
	OutcomeSubscripts [32]byte       `json:"outcomeSubscripts"`
}

// SettlementCall is the payload handed to the ledger submitter.
type SettlementCall struct {
	Token        common.Address  `json:"token"`
	Expiry       *big.Int        `json:"expiry"`
	Bets         []SettlementBet `json:"bets"`
	OutcomeProbs []uint32        `json:"outcomeProbs"`
}
