package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
)

// ResultIngester records the oracle result of a stored game.
type ResultIngester interface {
	IngestResult(ctx context.Context, gameID common.Hash) (domain.Game, error)
}

// ResultTracker follows settled games until the oracle answers: it polls
// every game still waiting for a result and ingests the result once the
// ledger has it.
type ResultTracker struct {
	games    domain.GameStore
	results  ResultIngester
	pollDur  time.Duration
	pageSize int
	logger   *slog.Logger
}

// NewResultTracker creates a ResultTracker. pollInterval is how often the
// opened games are checked.
func NewResultTracker(
	games domain.GameStore,
	results ResultIngester,
	pollInterval time.Duration,
	logger *slog.Logger,
) *ResultTracker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &ResultTracker{
		games:    games,
		results:  results,
		pollDur:  pollInterval,
		pageSize: 200,
		logger:   logger.With(slog.String("component", "result_tracker")),
	}
}

// Run polls pending games until ctx is cancelled. Call in a goroutine.
func (t *ResultTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.CheckPending(ctx); err != nil {
				t.logger.ErrorContext(ctx, "result tracker check failed", slog.String("error", err.Error()))
			}
		}
	}
}

// CheckPending walks every opened game, ingests whatever results have
// arrived and returns how many games were resolved.
func (t *ResultTracker) CheckPending(ctx context.Context) (int, error) {
	pending, err := t.opened(ctx)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if _, err := t.results.IngestResult(ctx, id); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				t.logger.WarnContext(ctx, "result ingest failed",
					slog.String("game_id", id.Hex()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		resolved++
	}
	if resolved > 0 {
		t.logger.InfoContext(ctx, "games resolved", slog.Int("count", resolved))
	}
	return resolved, nil
}

// opened pages through every opened game before any is ingested. Games
// settled meanwhile push later pages back, so ids are deduplicated.
func (t *ResultTracker) opened(ctx context.Context) ([]common.Hash, error) {
	seen := make(map[common.Hash]bool)
	var ids []common.Hash
	for offset := 0; ; offset += t.pageSize {
		page, err := t.games.ListByState(ctx, domain.GameStateOpened,
			domain.ListOpts{Limit: t.pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, g := range page {
			if !seen[g.ID] {
				seen[g.ID] = true
				ids = append(ids, g.ID)
			}
		}
		if len(page) < t.pageSize {
			return ids, nil
		}
	}
}
