// Package chain is the read side of the ledger boundary: the exchange
// contract's ABI, calldata for the external submitter, and receipt and log
// lookups. It never signs or sends transactions.
package chain

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
)

//go:embed exchange.abi.json
var exchangeABIJSON string

// Event names as emitted by the exchange contract.
const (
	EventGameStarted        = "GameStarted"
	EventGameOpened         = "GameOpened"
	EventBetMatched         = "BetMatched"
	EventGameEndedOk        = "GameEndedOk"
	EventGameResultReceived = "GameResultReceived"
	EventClaimedWonBet      = "ClaimedWonBet"
)

// StoredGame is the ledger's record of a game.
type StoredGame struct {
	Token                 common.Address
	GeneratedRandomNumber *big.Int
	TicketsMerkleRoot     common.Hash
	State                 uint8
}

// BetInfo is the ledger's view of one bet, as seen by its owner.
type BetInfo struct {
	State         domain.BetState
	MatchedGameID common.Hash
}

// betStates follows the contract's enum order.
var betStates = []domain.BetState{
	domain.BetStateUnknown,
	domain.BetStatePlacedNotMatched,
	domain.BetStateMatched,
	domain.BetStateClosed,
}

// Exchange wraps the parsed exchange ABI.
type Exchange struct {
	abi abi.ABI
}

var loadExchange = sync.OnceValues(func() (*Exchange, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse exchange abi: %w", err)
	}
	return &Exchange{abi: parsed}, nil
})

// LoadExchange returns the shared parsed exchange ABI.
func LoadExchange() (*Exchange, error) {
	return loadExchange()
}

// ABI exposes the parsed ABI for log decoding.
func (x *Exchange) ABI() *abi.ABI {
	return &x.abi
}

// EventByTopic resolves the event a log's first topic identifies.
func (x *Exchange) EventByTopic(topic common.Hash) (*abi.Event, bool) {
	ev, err := x.abi.EventByID(topic)
	if err != nil {
		return nil, false
	}
	return ev, true
}

// OpenTopics are the ids of the events that open a game, one per
// settlement transaction.
func (x *Exchange) OpenTopics() []common.Hash {
	return []common.Hash{
		x.abi.Events[EventGameStarted].ID,
		x.abi.Events[EventGameOpened].ID,
	}
}

// ResultTopics are the ids of the oracle callback events.
func (x *Exchange) ResultTopics() []common.Hash {
	return []common.Hash{
		x.abi.Events[EventGameEndedOk].ID,
		x.abi.Events[EventGameResultReceived].ID,
	}
}

type betTuple struct {
	Owner             common.Address `abi:"owner"`
	Stake             *big.Int       `abi:"stake"`
	Payout            *big.Int       `abi:"payout"`
	Prob              uint32         `abi:"prob"`
	Expiry            *big.Int       `abi:"expiry"`
	Nonce             *big.Int       `abi:"nonce"`
	V                 uint8          `abi:"v"`
	R                 [32]byte       `abi:"r"`
	S                 [32]byte       `abi:"s"`
	OutcomeSubscripts [32]byte       `abi:"outcomeSubscripts"`
}

// PackStartGame encodes the settlement call.
func (x *Exchange) PackStartGame(call domain.SettlementCall) ([]byte, error) {
	bets := make([]betTuple, len(call.Bets))
	for i, b := range call.Bets {
		bets[i] = betTuple{
			Owner:             b.Owner,
			Stake:             b.Stake,
			Payout:            b.Payout,
			Prob:              b.Prob,
			Expiry:            b.Expiry,
			Nonce:             b.Nonce,
			V:                 b.V,
			R:                 b.R,
			S:                 b.S,
			OutcomeSubscripts: b.OutcomeSubscripts,
		}
	}
	data, err := x.abi.Pack("startGame", call.Token, call.Expiry, bets, call.OutcomeProbs)
	if err != nil {
		return nil, fmt.Errorf("chain: pack startGame: %w", err)
	}
	return data, nil
}

// PackClaimBet encodes a claim.
func (x *Exchange) PackClaimBet(c domain.Claim) ([]byte, error) {
	proof := make([][32]byte, len(c.Proof))
	for i, p := range c.Proof {
		proof[i] = p
	}
	data, err := x.abi.Pack("claimBet", c.Player, [32]byte(c.BetID), c.MinResult, c.MaxResult, c.Payout, proof)
	if err != nil {
		return nil, fmt.Errorf("chain: pack claimBet: %w", err)
	}
	return data, nil
}

// PackStoredGames encodes the storedGames view call.
func (x *Exchange) PackStoredGames(gameID common.Hash) ([]byte, error) {
	return x.abi.Pack("storedGames", gameID.Big())
}

// UnpackStoredGame decodes the storedGames return data.
func (x *Exchange) UnpackStoredGame(data []byte) (StoredGame, error) {
	out, err := x.abi.Unpack("storedGames", data)
	if err != nil {
		return StoredGame{}, fmt.Errorf("chain: unpack storedGames: %w", err)
	}
	if len(out) != 4 {
		return StoredGame{}, fmt.Errorf("chain: unpack storedGames: %d values", len(out))
	}
	var g StoredGame
	var ok [4]bool
	g.Token, ok[0] = out[0].(common.Address)
	g.GeneratedRandomNumber, ok[1] = out[1].(*big.Int)
	var root [32]byte
	root, ok[2] = out[2].([32]byte)
	g.TicketsMerkleRoot = root
	g.State, ok[3] = out[3].(uint8)
	for i, good := range ok {
		if !good {
			return StoredGame{}, fmt.Errorf("chain: unpack storedGames: field %d has type %T", i, out[i])
		}
	}
	return g, nil
}

// PackGetBetInfo encodes the getBetInfo view call.
func (x *Exchange) PackGetBetInfo(betID common.Hash) ([]byte, error) {
	return x.abi.Pack("getBetInfo", [32]byte(betID))
}

// UnpackBetInfo decodes the getBetInfo return data.
func (x *Exchange) UnpackBetInfo(data []byte) (BetInfo, error) {
	out, err := x.abi.Unpack("getBetInfo", data)
	if err != nil {
		return BetInfo{}, fmt.Errorf("chain: unpack getBetInfo: %w", err)
	}
	if len(out) != 2 {
		return BetInfo{}, fmt.Errorf("chain: unpack getBetInfo: %d values", len(out))
	}
	state, ok := out[0].(uint8)
	if !ok || int(state) >= len(betStates) {
		return BetInfo{}, fmt.Errorf("chain: unpack getBetInfo: bad state %v", out[0])
	}
	gameID, ok := out[1].(*big.Int)
	if !ok {
		return BetInfo{}, fmt.Errorf("chain: unpack getBetInfo: bad game id %T", out[1])
	}
	return BetInfo{State: betStates[state], MatchedGameID: common.BigToHash(gameID)}, nil
}
