package gamelog

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/domain"
)

// args holds one event's decoded arguments with the Go types go-ethereum's
// ABI decoder produces: *big.Int for wide integers, uintN for narrow ones,
// [32]byte for bytes32 and []byte for bytes.
type args map[string]any

func toEvent(name string, a args) (Event, error) {
	switch name {
	case chain.EventGameStarted, chain.EventGameOpened:
		id, err := a.id("gameId")
		if err != nil {
			return nil, err
		}
		probs, err := get[[]uint32](a, "outcomeProbs")
		if err != nil {
			return nil, err
		}
		e := GameOpened{Name: name, GameID: id, OutcomeProbs: probs}
		if name == chain.EventGameOpened {
			hashes, err := get[[][32]byte](a, "ticketHashes")
			if err != nil {
				return nil, err
			}
			subs, err := get[[]uint8](a, "ticketOutcomeSubscripts")
			if err != nil {
				return nil, err
			}
			e.TicketHashes = make([]common.Hash, len(hashes))
			for i, h := range hashes {
				e.TicketHashes[i] = h
			}
			e.TicketOutcomeSubscripts = append([]uint8{}, subs...)
		}
		return e, nil

	case chain.EventBetMatched:
		owner, err := get[common.Address](a, "betOwner")
		if err != nil {
			return nil, err
		}
		betID, err := get[[32]byte](a, "betId")
		if err != nil {
			return nil, err
		}
		payout, err := get[*big.Int](a, "payout")
		if err != nil {
			return nil, err
		}
		e := BetMatched{BetOwner: owner, BetID: betID, Payout: payout}
		if _, ok := a["numTickets"]; ok {
			n, err := get[*big.Int](a, "numTickets")
			if err != nil {
				return nil, err
			}
			if !n.IsUint64() {
				return nil, fmt.Errorf("gamelog: numTickets %s out of range: %w", n, domain.ErrMalformedLog)
			}
			v := n.Uint64()
			e.NumTickets = &v
		}
		if _, ok := a["outcomeSubscripts"]; ok {
			subs, err := get[[]byte](a, "outcomeSubscripts")
			if err != nil {
				return nil, err
			}
			e.OutcomeSubscripts = append([]byte{}, subs...)
		}
		return e, nil

	case chain.EventGameEndedOk, chain.EventGameResultReceived:
		id, err := a.id("gameId")
		if err != nil {
			return nil, err
		}
		e := GameResult{Name: name, GameID: id}
		if _, ok := a["generatedRandomNumber"]; ok {
			if e.Number, err = get[*big.Int](a, "generatedRandomNumber"); err != nil {
				return nil, err
			}
		}
		return e, nil

	case chain.EventClaimedWonBet:
		player, err := get[common.Address](a, "player")
		if err != nil {
			return nil, err
		}
		betID, err := get[[32]byte](a, "betId")
		if err != nil {
			return nil, err
		}
		id, err := a.id("gameId")
		if err != nil {
			return nil, err
		}
		return ClaimedWonBet{Player: player, BetID: betID, GameID: id}, nil
	}
	return nil, nil
}

func (a args) id(key string) (common.Hash, error) {
	n, err := get[*big.Int](a, key)
	if err != nil {
		return common.Hash{}, err
	}
	if n.Sign() < 0 || n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("gamelog: %s out of range: %w", key, domain.ErrMalformedLog)
	}
	return common.BigToHash(n), nil
}

func get[T any](a args, key string) (T, error) {
	var zero T
	raw, ok := a[key]
	if !ok {
		return zero, fmt.Errorf("gamelog: missing argument %q: %w", key, domain.ErrMalformedLog)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("gamelog: argument %q has type %T, want %T: %w", key, raw, zero, domain.ErrMalformedLog)
	}
	if p, isBig := any(v).(*big.Int); isBig && p == nil {
		return zero, fmt.Errorf("gamelog: argument %q is null: %w", key, domain.ErrMalformedLog)
	}
	return v, nil
}
