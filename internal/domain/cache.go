package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GameCache keeps recently reconstructed games close to the API.
type GameCache interface {
	Set(ctx context.Context, game Game) error
	Get(ctx context.Context, id common.Hash) (Game, error)
	Invalidate(ctx context.Context, id common.Hash) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channels published on the signal bus.
const (
	ChannelGameSettled = "game_settled"
	ChannelGameResult  = "game_result"
	StreamGames        = "stream:games"
)

// CursorStore remembers how far a ledger scanner has read.
type CursorStore interface {
	SetCursor(ctx context.Context, name string, block uint64, at time.Time) error
	// GetCursor returns ErrNotFound for a scanner that never ran.
	GetCursor(ctx context.Context, name string) (uint64, time.Time, error)
}
