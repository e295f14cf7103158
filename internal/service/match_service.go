package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/matching"
)

// MatchConfig tunes how batches are formed.
type MatchConfig struct {
	// LockTTL bounds how long a batch may hold its offers.
	LockTTL time.Duration
	// GameExpiry is how far ahead of now the game expires, capped by the
	// earliest offer expiry in the batch.
	GameExpiry time.Duration
}

// MatchResult is a settlement ready to hand to the ledger submitter.
type MatchResult struct {
	BetIDs   []common.Hash         `json:"betIds"`
	Call     domain.SettlementCall `json:"settlement"`
	Calldata hexutil.Bytes         `json:"calldata"`
}

// MatchService turns stored offers into startGame settlements.
type MatchService struct {
	bets     domain.BetStore
	locks    domain.LockManager
	exchange *chain.Exchange
	src      matching.SignatureSource
	cfg      MatchConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewMatchService creates a MatchService. src may be nil, in which case
// every offer must already carry its signature.
func NewMatchService(
	bets domain.BetStore,
	locks domain.LockManager,
	exchange *chain.Exchange,
	src matching.SignatureSource,
	cfg MatchConfig,
	logger *slog.Logger,
) *MatchService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.GameExpiry <= 0 {
		cfg.GameExpiry = time.Hour
	}
	return &MatchService{
		bets:     bets,
		locks:    locks,
		exchange: exchange,
		src:      src,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Match settles the given offers together. The offers are locked for the
// duration of the call and reserved on success, so no other batch can use
// them. Bet order is the outcome order of the game.
func (s *MatchService) Match(ctx context.Context, ids []common.Hash) (MatchResult, error) {
	if len(ids) == 0 {
		return MatchResult{}, fmt.Errorf("match_service: no bets: %w", domain.ErrIncompatibleBatch)
	}

	unlock, err := s.lockAll(ctx, ids)
	if err != nil {
		return MatchResult{}, err
	}
	defer unlock()

	bets, err := s.bets.GetMany(ctx, ids)
	if err != nil {
		return MatchResult{}, fmt.Errorf("match_service: load bets: %w", err)
	}
	now := s.now()
	for _, b := range bets {
		if b.State != domain.BetStatePlacedNotMatched {
			return MatchResult{}, fmt.Errorf("match_service: bet %s is %s: %w", b.ID.Hex(), b.State, domain.ErrBetMatched)
		}
		if b.Offer.ExpiredAt(now) {
			return MatchResult{}, fmt.Errorf("match_service: bet %s: %w", b.ID.Hex(), domain.ErrBetExpired)
		}
	}

	if s.src != nil {
		bets, err = matching.CollectSignatures(ctx, s.src, bets)
		if err != nil {
			return MatchResult{}, fmt.Errorf("match_service: %w", err)
		}
		if len(bets) == 0 {
			return MatchResult{}, fmt.Errorf("match_service: every bettor abandoned signing: %w", domain.ErrIncompatibleBatch)
		}
		if len(bets) < len(ids) {
			// A dropped offer leaves the remaining probabilities short of the
			// full sample space; BuildSettlement reports that below.
			s.logger.InfoContext(ctx, "match_service: bettors abandoned signing",
				slog.Int("requested", len(ids)),
				slog.Int("signed", len(bets)),
			)
		}
	}

	token := bets[0].Offer.Token
	call, err := matching.BuildSettlement(bets, token, s.gameExpiry(now, bets))
	if err != nil {
		return MatchResult{}, fmt.Errorf("match_service: %w", err)
	}
	calldata, err := s.exchange.PackStartGame(call)
	if err != nil {
		return MatchResult{}, fmt.Errorf("match_service: %w", err)
	}

	matched := make([]common.Hash, len(bets))
	for i, b := range bets {
		matched[i] = b.ID
	}
	if err := s.bets.MarkMatched(ctx, matched, common.Hash{}); err != nil {
		return MatchResult{}, fmt.Errorf("match_service: reserve bets: %w", err)
	}

	s.logger.InfoContext(ctx, "match_service: batch matched",
		slog.String("token", token.Hex()),
		slog.Int("bets", len(matched)),
		slog.String("expiry", call.Expiry.String()),
	)
	return MatchResult{BetIDs: matched, Call: call, Calldata: calldata}, nil
}

// lockAll takes one lock per offer in a fixed order so two overlapping
// batches cannot deadlock. On failure every lock already taken is released.
func (s *MatchService) lockAll(ctx context.Context, ids []common.Hash) (func(), error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)
	if len(sorted) != len(ids) {
		return nil, fmt.Errorf("match_service: duplicate bet ids: %w", domain.ErrIncompatibleBatch)
	}

	unlocks := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, id := range sorted {
		unlock, err := s.locks.Acquire(ctx, "bet:"+id.Hex(), s.cfg.LockTTL)
		if err != nil {
			release()
			return nil, fmt.Errorf("match_service: lock bet %s: %w", id.Hex(), err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// gameExpiry returns now+GameExpiry, brought forward to the earliest offer
// expiry so the ledger never sees an offer outlive its game.
func (s *MatchService) gameExpiry(now time.Time, bets []domain.SignedBet) *big.Int {
	expiry := big.NewInt(now.Add(s.cfg.GameExpiry).Unix())
	for _, b := range bets {
		if b.Offer.Expiry != nil && b.Offer.Expiry.Cmp(expiry) < 0 {
			expiry = new(big.Int).Set(b.Offer.Expiry)
		}
	}
	return expiry
}
