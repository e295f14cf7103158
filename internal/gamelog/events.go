// Package gamelog rebuilds a game's tickets from the events of its
// settlement transaction and decides which tickets won.
package gamelog

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is one recognised exchange event. The concrete types are
// GameOpened, BetMatched, GameResult and ClaimedWonBet.
type Event interface {
	EventName() string
}

// GameOpened opens a game with its outcome weights. The legacy GameOpened
// event also lists every ticket hash and the outcome of each ticket; the
// current GameStarted event leaves both nil.
type GameOpened struct {
	Name                    string        `json:"event"`
	GameID                  common.Hash   `json:"gameId"`
	OutcomeProbs            []uint32      `json:"outcomeProbs"`
	TicketHashes            []common.Hash `json:"ticketHashes,omitempty"`
	TicketOutcomeSubscripts []uint8       `json:"ticketOutcomeSubscripts,omitempty"`
}

// EventName implements Event.
func (e GameOpened) EventName() string { return e.Name }

// Explicit reports whether the game lists its tickets itself.
func (e GameOpened) Explicit() bool {
	return e.TicketHashes != nil || e.TicketOutcomeSubscripts != nil
}

// BetMatched grants tickets to one bet. Exactly one of NumTickets (legacy)
// and OutcomeSubscripts (one byte per ticket) is set.
type BetMatched struct {
	BetOwner          common.Address `json:"betOwner"`
	BetID             common.Hash    `json:"betId"`
	Payout            *big.Int       `json:"payout"`
	NumTickets        *uint64        `json:"numTickets,omitempty"`
	OutcomeSubscripts []byte         `json:"outcomeSubscripts,omitempty"`
}

// EventName implements Event.
func (BetMatched) EventName() string { return "BetMatched" }

// GameResult is the oracle callback for a game. Number is nil when the
// event does not carry the random number and it has to be read from the
// ledger.
type GameResult struct {
	Name   string      `json:"event"`
	GameID common.Hash `json:"gameId"`
	Number *big.Int    `json:"generatedRandomNumber,omitempty"`
}

// EventName implements Event.
func (e GameResult) EventName() string { return e.Name }

// ClaimedWonBet records a paid claim.
type ClaimedWonBet struct {
	Player common.Address `json:"player"`
	BetID  common.Hash    `json:"betId"`
	GameID common.Hash    `json:"gameId"`
}

// EventName implements Event.
func (ClaimedWonBet) EventName() string { return "ClaimedWonBet" }

// FindResult returns the result event for gameID, if any.
func FindResult(events []Event, gameID common.Hash) (GameResult, bool) {
	for _, e := range events {
		if r, ok := e.(GameResult); ok && r.GameID == gameID {
			return r, true
		}
	}
	return GameResult{}, false
}
