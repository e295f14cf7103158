package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
)

// ClaimCall is a winning claim with its claimBet calldata.
type ClaimCall struct {
	domain.Claim
	Calldata hexutil.Bytes `json:"calldata"`
}

// ClaimService serves games and winning claims to bettors.
type ClaimService struct {
	games    domain.GameStore
	cache    domain.GameCache
	archive  domain.ProofArchive
	exchange *chain.Exchange
	ids      crypto.IDs
	logger   *slog.Logger
}

// NewClaimService creates a ClaimService. cache and archive may be nil.
func NewClaimService(
	games domain.GameStore,
	cache domain.GameCache,
	archive domain.ProofArchive,
	exchange *chain.Exchange,
	logger *slog.Logger,
) *ClaimService {
	return &ClaimService{
		games:    games,
		cache:    cache,
		archive:  archive,
		exchange: exchange,
		ids:      crypto.DefaultIDs(),
		logger:   logger,
	}
}

// Game returns a game with its tickets. The cache is tried first, then the
// database, then the proof archive.
func (s *ClaimService) Game(ctx context.Context, id common.Hash) (domain.Game, error) {
	if s.cache != nil {
		if g, err := s.cache.Get(ctx, id); err == nil {
			return g, nil
		}
	}

	g, err := s.games.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) || s.archive == nil {
			return domain.Game{}, fmt.Errorf("claim_service: get game %s: %w", id.Hex(), err)
		}
		g, err = s.archive.LoadGame(ctx, id)
		if err != nil {
			return domain.Game{}, fmt.Errorf("claim_service: load archived game %s: %w", id.Hex(), err)
		}
		s.logger.InfoContext(ctx, "claim_service: game served from archive", slog.String("game_id", id.Hex()))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, g); err != nil {
			s.logger.WarnContext(ctx, "claim_service: cache set failed",
				slog.String("game_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return g, nil
}

// Claims returns the winning claims of player in a resolved game, each
// checked against the game's root the way claimBet checks it. A zero
// player returns every winning claim.
func (s *ClaimService) Claims(ctx context.Context, id common.Hash, player common.Address) ([]ClaimCall, error) {
	g, err := s.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.RandomNumber == nil {
		return nil, fmt.Errorf("claim_service: game %s has no result yet: %w", id.Hex(), domain.ErrNotFound)
	}

	claims := gamelog.Claims(&g, player)
	out := make([]ClaimCall, 0, len(claims))
	for _, c := range claims {
		if err := gamelog.VerifyClaim(g.TicketsRoot, g.RandomNumber, c, s.ids); err != nil {
			return nil, fmt.Errorf("claim_service: %w", err)
		}
		data, err := s.exchange.PackClaimBet(c)
		if err != nil {
			return nil, fmt.Errorf("claim_service: %w", err)
		}
		out = append(out, ClaimCall{Claim: c, Calldata: data})
	}
	return out, nil
}

// TicketsByOwner lists a bettor's tickets across games.
func (s *ClaimService) TicketsByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.GameTicket, error) {
	ts, err := s.games.ListTicketsByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("claim_service: tickets of %s: %w", owner.Hex(), err)
	}
	return ts, nil
}

// RecentGames lists the latest settled games.
func (s *ClaimService) RecentGames(ctx context.Context, opts domain.ListOpts) ([]domain.Game, error) {
	gs, err := s.games.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("claim_service: recent games: %w", err)
	}
	return gs, nil
}
