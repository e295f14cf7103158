package gamelog

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/merkle"
	"github.com/johndpope/erc20bet/internal/outcome"
)

// Reconstruct rebuilds the tickets of the single game opened by events.
// Tickets are numbered across all matched bets in emission order, and that
// global order is the leaf order of the game's Merkle tree. Any
// inconsistency fails the whole reconstruction.
func Reconstruct(events []Event, ids crypto.IDs) (*domain.Game, error) {
	opened, err := singleOpened(events)
	if err != nil {
		return nil, err
	}
	ranges, err := outcome.Partition(opened.OutcomeProbs)
	if err != nil {
		return nil, fmt.Errorf("gamelog: game %s: %w", opened.GameID.Hex(), err)
	}

	game := &domain.Game{
		ID:     opened.GameID,
		Ranges: ranges,
		State:  domain.GameStateOpened,
	}
	var leaves []common.Hash
	cursor := 0
	for _, e := range events {
		bm, ok := e.(BetMatched)
		if !ok {
			continue
		}
		var tickets []domain.Ticket
		tickets, cursor, err = assignTickets(cursor, bm, opened, ranges, ids)
		if err != nil {
			return nil, fmt.Errorf("gamelog: bet %s: %w", bm.BetID.Hex(), err)
		}
		matched := domain.MatchedBet{BetID: bm.BetID, Owner: bm.BetOwner, Payout: bm.Payout}
		for _, t := range tickets {
			t.Index = len(game.Tickets)
			matched.Tickets = append(matched.Tickets, t.Index)
			game.Tickets = append(game.Tickets, t)
			leaves = append(leaves, t.Leaf)
		}
		game.Bets = append(game.Bets, matched)
	}

	if opened.Explicit() && cursor != len(opened.TicketOutcomeSubscripts) {
		return nil, fmt.Errorf("gamelog: bets claim %d tickets, game lists %d: %w",
			cursor, len(opened.TicketOutcomeSubscripts), domain.ErrMalformedLog)
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("gamelog: game %s has no tickets: %w: %w", opened.GameID.Hex(), domain.ErrMalformedLog, domain.ErrEmptyTree)
	}

	h := ids.Hasher
	if h == nil {
		h = crypto.Keccak256Hasher{}
	}
	tree, err := merkle.BuildWith(h, leaves)
	if err != nil {
		return nil, fmt.Errorf("gamelog: game %s: %w", opened.GameID.Hex(), err)
	}
	game.TicketsRoot = tree.Root
	for i := range game.Tickets {
		game.Tickets[i].Proof = tree.Proofs[i]
	}
	return game, nil
}

func singleOpened(events []Event) (GameOpened, error) {
	var found []GameOpened
	for _, e := range events {
		if g, ok := e.(GameOpened); ok {
			found = append(found, g)
		}
	}
	if len(found) != 1 {
		return GameOpened{}, fmt.Errorf("gamelog: want one opened game, found %d: %w", len(found), domain.ErrMalformedLog)
	}
	g := found[0]
	if g.Explicit() && len(g.TicketHashes) != len(g.TicketOutcomeSubscripts) {
		return GameOpened{}, fmt.Errorf("gamelog: %d ticket hashes for %d ticket outcomes: %w",
			len(g.TicketHashes), len(g.TicketOutcomeSubscripts), domain.ErrMalformedLog)
	}
	return g, nil
}

// assignTickets hands out the tickets of one matched bet starting at the
// global cursor and returns the cursor after them.
func assignTickets(cursor int, bm BetMatched, g GameOpened, ranges []domain.OutcomeRange, ids crypto.IDs) ([]domain.Ticket, int, error) {
	if bm.Payout == nil {
		return nil, cursor, fmt.Errorf("missing payout: %w", domain.ErrMalformedLog)
	}
	if (bm.NumTickets == nil) == (bm.OutcomeSubscripts == nil) {
		return nil, cursor, fmt.Errorf("want exactly one of numTickets and outcomeSubscripts: %w", domain.ErrMalformedLog)
	}

	var subs []uint8
	var leaves []common.Hash
	if g.Explicit() {
		if bm.NumTickets == nil {
			return nil, cursor, fmt.Errorf("packed subscripts in a game that lists its tickets: %w", domain.ErrMalformedLog)
		}
		n := *bm.NumTickets
		if n > uint64(len(g.TicketOutcomeSubscripts)-cursor) {
			return nil, cursor, fmt.Errorf("%d tickets past the %d listed: %w", n, len(g.TicketOutcomeSubscripts)-cursor, domain.ErrMalformedLog)
		}
		end := cursor + int(n)
		subs = g.TicketOutcomeSubscripts[cursor:end]
		leaves = g.TicketHashes[cursor:end]
	} else {
		if bm.OutcomeSubscripts == nil {
			return nil, cursor, fmt.Errorf("ticket count in a game that does not list its tickets: %w", domain.ErrMalformedLog)
		}
		subs = bm.OutcomeSubscripts
	}

	tickets := make([]domain.Ticket, len(subs))
	for j, s := range subs {
		if int(s) >= len(ranges) {
			return nil, cursor, fmt.Errorf("outcome %d of %d: %w", s, len(ranges), domain.ErrMalformedLog)
		}
		r := ranges[s]
		t := domain.Ticket{
			Owner:     bm.BetOwner,
			BetID:     bm.BetID,
			Payout:    new(big.Int).Set(bm.Payout),
			Outcome:   int(s),
			MinResult: r.MinResult,
			MaxResult: r.MaxResult,
		}
		if leaves != nil {
			t.Leaf = leaves[j]
		} else {
			leaf, err := ids.TicketLeaf(t.Owner, t.MinResult, t.MaxResult, t.Payout)
			if err != nil {
				return nil, cursor, err
			}
			t.Leaf = leaf
		}
		tickets[j] = t
	}
	return tickets, cursor + len(subs), nil
}

// ApplyResult records the oracle's number on a reconstructed game.
func ApplyResult(game *domain.Game, n *big.Int) error {
	if n == nil || n.Sign() < 0 {
		return fmt.Errorf("gamelog: game %s: invalid random number: %w", game.ID.Hex(), domain.ErrMalformedLog)
	}
	game.RandomNumber = new(big.Int).Set(n)
	game.State = domain.GameStateResolved
	return nil
}

// Claims returns the claim tuples of player's winning tickets. A zero
// player address returns every winning claim.
func Claims(game *domain.Game, player common.Address) []domain.Claim {
	var out []domain.Claim
	for _, t := range game.Winners() {
		if player != (common.Address{}) && t.Owner != player {
			continue
		}
		out = append(out, domain.ClaimFor(game.ID, t))
	}
	return out
}

// VerifyClaim applies the ledger's claimBet checks: the claimed ticket must
// be a leaf under root and its range must contain n.
func VerifyClaim(root common.Hash, n *big.Int, c domain.Claim, ids crypto.IDs) error {
	leaf, err := ids.TicketLeaf(c.Player, c.MinResult, c.MaxResult, c.Payout)
	if err != nil {
		return err
	}
	h := ids.Hasher
	if h == nil {
		h = crypto.Keccak256Hasher{}
	}
	if !merkle.VerifyWith(h, root, leaf, c.Proof) {
		return fmt.Errorf("gamelog: claim of bet %s: ticket not in game: %w", c.BetID.Hex(), domain.ErrInvalidClaim)
	}
	if !(domain.Ticket{MinResult: c.MinResult, MaxResult: c.MaxResult}).IsWinner(n) {
		return fmt.Errorf("gamelog: claim of bet %s: ticket lost: %w", c.BetID.Hex(), domain.ErrInvalidClaim)
	}
	return nil
}
