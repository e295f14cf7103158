// Package pipeline follows the ledger and feeds mined settlements into the
// settlement service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
)

// SettlementSource lists the settlement transactions the ledger has mined.
type SettlementSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	SettlementTxs(ctx context.Context, from, to uint64) ([]common.Hash, error)
}

// SettlementIngester rebuilds and stores the game settled by a transaction.
type SettlementIngester interface {
	Ingest(ctx context.Context, txHash common.Hash) (domain.Game, error)
}

// ScannerConfig tunes a SettlementScanner.
type ScannerConfig struct {
	// Name keys the stored cursor.
	Name string
	// StartBlock is where a scanner without a cursor begins. Zero starts at
	// the current confirmed head.
	StartBlock    uint64
	Confirmations uint64
	// MaxRange caps the blocks asked for in one log query.
	MaxRange uint64
	Interval time.Duration
}

// SettlementScanner walks confirmed blocks, ingests every settlement it
// finds and remembers the last block it fully processed.
type SettlementScanner struct {
	source   SettlementSource
	ingester SettlementIngester
	cursors  domain.CursorStore
	cfg      ScannerConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSettlementScanner creates a SettlementScanner.
func NewSettlementScanner(
	source SettlementSource,
	ingester SettlementIngester,
	cursors domain.CursorStore,
	cfg ScannerConfig,
	logger *slog.Logger,
) *SettlementScanner {
	if cfg.Name == "" {
		cfg.Name = "settlements"
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 2000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &SettlementScanner{
		source:   source,
		ingester: ingester,
		cursors:  cursors,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "settlement_scanner")),
	}
}

// Run executes a single pass up to the confirmed head and returns how many
// games were ingested. The cursor only moves past a block range once every
// settlement in it was ingested or rejected as malformed, so a failed pass
// is retried from the same range.
func (s *SettlementScanner) Run(ctx context.Context) (int, error) {
	head, err := s.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if head < s.cfg.Confirmations {
		return 0, nil
	}
	safe := head - s.cfg.Confirmations

	from, err := s.startBlock(ctx, safe)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for from <= safe {
		if err := ctx.Err(); err != nil {
			return ingested, fmt.Errorf("settlement scanner context cancelled: %w", err)
		}
		to := min(from+s.cfg.MaxRange-1, safe)

		txs, err := s.source.SettlementTxs(ctx, from, to)
		if err != nil {
			return ingested, fmt.Errorf("listing settlements in blocks %d-%d: %w", from, to, err)
		}
		for _, tx := range txs {
			game, err := s.ingester.Ingest(ctx, tx)
			if errors.Is(err, domain.ErrMalformedLog) {
				s.logger.WarnContext(ctx, "skipping malformed settlement",
					slog.String("tx", tx.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err != nil {
				return ingested, fmt.Errorf("ingesting %s: %w", tx.Hex(), err)
			}
			ingested++
			s.logger.InfoContext(ctx, "settlement ingested",
				slog.String("tx", tx.Hex()),
				slog.String("game_id", game.ID.Hex()),
			)
		}

		if err := s.cursors.SetCursor(ctx, s.cfg.Name, to, s.now()); err != nil {
			return ingested, err
		}
		from = to + 1
	}
	return ingested, nil
}

// startBlock resumes after the stored cursor, else begins at StartBlock or,
// when that is zero, at safe.
func (s *SettlementScanner) startBlock(ctx context.Context, safe uint64) (uint64, error) {
	last, _, err := s.cursors.GetCursor(ctx, s.cfg.Name)
	switch {
	case err == nil:
		return last + 1, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, err
	case s.cfg.StartBlock > 0:
		return s.cfg.StartBlock, nil
	default:
		return safe, nil
	}
}

// RunLoop runs the scanner on a repeating interval until the context is
// cancelled.
func (s *SettlementScanner) RunLoop(ctx context.Context) error {
	// Run immediately on start.
	if _, err := s.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "settlement scan failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement scanner loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settlement scan failed", slog.String("error", err.Error()))
			}
		}
	}
}
