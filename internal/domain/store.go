package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BetStore persists the off-chain bet book.
type BetStore interface {
	// Put stores a signed offer. Storing the same id twice with different
	// contents returns ErrAlreadyExists.
	Put(ctx context.Context, bet SignedBet) error
	Get(ctx context.Context, id common.Hash) (SignedBet, error)
	GetMany(ctx context.Context, ids []common.Hash) ([]SignedBet, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]SignedBet, error)
	ListOpen(ctx context.Context, token common.Address, opts ListOpts) ([]SignedBet, error)
	// Delete removes an offer that has not been matched yet.
	Delete(ctx context.Context, id common.Hash) error
	// MarkMatched binds open offers to a game, all or none. A zero gameID
	// reserves them for a submitted batch whose id is not known yet.
	MarkMatched(ctx context.Context, ids []common.Hash, gameID common.Hash) error
}

// GameStore persists reconstructed games with their tickets.
type GameStore interface {
	// Save writes the game and all of its tickets atomically.
	Save(ctx context.Context, game Game) error
	Get(ctx context.Context, id common.Hash) (Game, error)
	SetResult(ctx context.Context, id common.Hash, number *big.Int) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Game, error)
	// ListByState returns games in state without their tickets, newest first.
	ListByState(ctx context.Context, state GameState, opts ListOpts) ([]Game, error)
	ListTicketsByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]GameTicket, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
