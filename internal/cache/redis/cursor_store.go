package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johndpope/erc20bet/internal/domain"
)

// CursorStore implements domain.CursorStore using Redis hashes.
// Each scanner's position is stored at key "betx:cursor:{name}" with fields
// "block" and "ts" (Unix nanosecond timestamp).
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(name string) string {
	return keyPrefix + "cursor:" + name
}

// SetCursor records the last block a scanner has fully processed.
func (cs *CursorStore) SetCursor(ctx context.Context, name string, block uint64, at time.Time) error {
	fields := map[string]any{
		"block": strconv.FormatUint(block, 10),
		"ts":    strconv.FormatInt(at.UnixNano(), 10),
	}
	if err := cs.rdb.HSet(ctx, cursorKey(name), fields).Err(); err != nil {
		return fmt.Errorf("redis: set cursor %s: %w", name, err)
	}
	return nil
}

// GetCursor returns a scanner's last block and when it was recorded.
func (cs *CursorStore) GetCursor(ctx context.Context, name string) (uint64, time.Time, error) {
	vals, err := cs.rdb.HGetAll(ctx, cursorKey(name)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get cursor %s: %w", name, err)
	}
	blockStr, ok := vals["block"]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: cursor %s: %w", name, domain.ErrNotFound)
	}
	block, err := strconv.ParseUint(blockStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse cursor %s block: %w", name, err)
	}

	var at time.Time
	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("redis: parse cursor %s ts: %w", name, err)
		}
		at = time.Unix(0, ns).UTC()
	}
	return block, at, nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
