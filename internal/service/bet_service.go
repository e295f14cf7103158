package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
)

// BetInfoReader reads a bet's state from the ledger.
type BetInfoReader interface {
	BetInfo(ctx context.Context, owner common.Address, betID common.Hash) (chain.BetInfo, error)
}

// BetLimits caps how many offers one bettor may submit per window.
type BetLimits struct {
	PerOwner int
	Window   time.Duration
}

// BetService runs the off-chain bet book: offers are checked against
// their id and signature before they are stored.
type BetService struct {
	bets    domain.BetStore
	limiter domain.RateLimiter
	ledger  BetInfoReader
	house   common.Address
	ids     crypto.IDs
	limits  BetLimits
	now     func() time.Time
	logger  *slog.Logger
}

// NewBetService creates a BetService. limiter and ledger may be nil.
func NewBetService(
	bets domain.BetStore,
	limiter domain.RateLimiter,
	ledger BetInfoReader,
	limits BetLimits,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		bets:    bets,
		limiter: limiter,
		ledger:  ledger,
		ids:     crypto.DefaultIDs(),
		limits:  limits,
		now:     time.Now,
		logger:  logger,
	}
}

// WithHouse lets the house wallet store unsigned offers; they are signed
// when a batch containing them is matched.
func (s *BetService) WithHouse(addr common.Address) *BetService {
	s.house = addr
	return s
}

// Place stores a signed offer under id. The id must be the one derived
// from the owner and the offer terms, the offer must still be open, and
// the signature must recover to the owner.
func (s *BetService) Place(ctx context.Context, id common.Hash, bet domain.SignedBet) (domain.SignedBet, error) {
	derived, err := s.ids.BetID(bet.Owner, bet.Offer)
	if err != nil {
		return domain.SignedBet{}, fmt.Errorf("bet_service: derive id: %w", err)
	}
	if derived != id {
		return domain.SignedBet{}, fmt.Errorf("bet_service: id %s does not match terms (want %s): %w",
			id.Hex(), derived.Hex(), domain.ErrInvalidSignature)
	}
	if bet.Offer.ExpiredAt(s.now()) {
		return domain.SignedBet{}, fmt.Errorf("bet_service: bet %s: %w", id.Hex(), domain.ErrBetExpired)
	}
	houseOffer := bet.Signature.IsZero() && s.house != (common.Address{}) && bet.Owner == s.house
	if !houseOffer {
		if err := crypto.VerifyOffer(bet.Owner, bet.Offer, bet.Signature); err != nil {
			return domain.SignedBet{}, fmt.Errorf("bet_service: bet %s: %w", id.Hex(), err)
		}
	}

	if s.limiter != nil && s.limits.PerOwner > 0 {
		ok, err := s.limiter.Allow(ctx, "bets:"+bet.Owner.Hex(), s.limits.PerOwner, s.limits.Window)
		if err != nil {
			// Fail open: the book stays usable when the limiter is down.
			s.logger.WarnContext(ctx, "bet_service: rate limiter unavailable",
				slog.String("owner", bet.Owner.Hex()),
				slog.String("error", err.Error()),
			)
		} else if !ok {
			return domain.SignedBet{}, fmt.Errorf("bet_service: owner %s: %w", bet.Owner.Hex(), domain.ErrRateLimited)
		}
	}

	bet.ID = id
	bet.State = domain.BetStatePlacedNotMatched
	bet.GameID = nil
	if err := s.bets.Put(ctx, bet); err != nil {
		return domain.SignedBet{}, fmt.Errorf("bet_service: put %s: %w", id.Hex(), err)
	}

	s.logger.InfoContext(ctx, "bet_service: bet placed",
		slog.String("bet_id", id.Hex()),
		slog.String("owner", bet.Owner.Hex()),
		slog.String("token", bet.Offer.Token.Hex()),
		slog.Uint64("prob", bet.Offer.Prob),
	)
	return s.bets.Get(ctx, id)
}

// Get returns one offer.
func (s *BetService) Get(ctx context.Context, id common.Hash) (domain.SignedBet, error) {
	b, err := s.bets.Get(ctx, id)
	if err != nil {
		return domain.SignedBet{}, fmt.Errorf("bet_service: get %s: %w", id.Hex(), err)
	}
	return b, nil
}

// ListByOwner returns a bettor's offers.
func (s *BetService) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.SignedBet, error) {
	bets, err := s.bets.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("bet_service: list by owner %s: %w", owner.Hex(), err)
	}
	return bets, nil
}

// ListOpen returns unmatched, unexpired offers in a token.
func (s *BetService) ListOpen(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.SignedBet, error) {
	bets, err := s.bets.ListOpen(ctx, token, opts)
	if err != nil {
		return nil, fmt.Errorf("bet_service: list open %s: %w", token.Hex(), err)
	}
	now := s.now()
	open := bets[:0]
	for _, b := range bets {
		if !b.Offer.ExpiredAt(now) {
			open = append(open, b)
		}
	}
	return open, nil
}

// Withdraw deletes an unmatched offer on behalf of its owner.
func (s *BetService) Withdraw(ctx context.Context, id common.Hash, owner common.Address) error {
	b, err := s.bets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("bet_service: withdraw %s: %w", id.Hex(), err)
	}
	if b.Owner != owner {
		return fmt.Errorf("bet_service: withdraw %s: not owned by %s: %w", id.Hex(), owner.Hex(), domain.ErrUnauthorized)
	}
	if err := s.bets.Delete(ctx, id); err != nil {
		return fmt.Errorf("bet_service: withdraw %s: %w", id.Hex(), err)
	}
	s.logger.InfoContext(ctx, "bet_service: bet withdrawn", slog.String("bet_id", id.Hex()))
	return nil
}

// LedgerState asks the ledger what it knows about a stored offer.
func (s *BetService) LedgerState(ctx context.Context, id common.Hash) (chain.BetInfo, error) {
	if s.ledger == nil {
		return chain.BetInfo{}, fmt.Errorf("bet_service: no ledger connection: %w", domain.ErrNotFound)
	}
	b, err := s.bets.Get(ctx, id)
	if err != nil {
		return chain.BetInfo{}, fmt.Errorf("bet_service: ledger state %s: %w", id.Hex(), err)
	}
	info, err := s.ledger.BetInfo(ctx, b.Owner, id)
	if err != nil {
		return chain.BetInfo{}, fmt.Errorf("bet_service: ledger state %s: %w", id.Hex(), err)
	}
	return info, nil
}
