package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/johndpope/erc20bet/internal/domain"
)

const gameTTL = 10 * time.Minute

// GameCache implements domain.GameCache. Claims for a freshly settled game
// are requested by every bettor at once, so the reconstructed game with all
// proofs is kept as one JSON value.
//
// Key schema:
//
//	betx:game:{id} - JSON-encoded domain.Game
type GameCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGameCache creates a GameCache backed by the given Client.
func NewGameCache(c *Client) *GameCache {
	return &GameCache{rdb: c.Underlying(), ttl: gameTTL}
}

func gameKey(id common.Hash) string {
	return keyPrefix + "game:" + id.Hex()
}

// Set stores a game.
func (gc *GameCache) Set(ctx context.Context, game domain.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("redis: marshal game %s: %w", game.ID.Hex(), err)
	}
	if err := gc.rdb.Set(ctx, gameKey(game.ID), data, gc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set game %s: %w", game.ID.Hex(), err)
	}
	return nil
}

// Get returns a cached game or domain.ErrNotFound.
func (gc *GameCache) Get(ctx context.Context, id common.Hash) (domain.Game, error) {
	data, err := gc.rdb.Get(ctx, gameKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Game{}, fmt.Errorf("redis: game %s: %w", id.Hex(), domain.ErrNotFound)
		}
		return domain.Game{}, fmt.Errorf("redis: get game %s: %w", id.Hex(), err)
	}
	var game domain.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return domain.Game{}, fmt.Errorf("redis: unmarshal game %s: %w", id.Hex(), err)
	}
	return game, nil
}

// Invalidate drops a cached game.
func (gc *GameCache) Invalidate(ctx context.Context, id common.Hash) error {
	if err := gc.rdb.Del(ctx, gameKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate game %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.GameCache = (*GameCache)(nil)
