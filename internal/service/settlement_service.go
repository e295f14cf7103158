package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
)

// Ledger is the read side of the exchange contract.
type Ledger interface {
	ReceiptLogs(ctx context.Context, txHash common.Hash) ([]types.Log, *big.Int, error)
	ResultLogs(ctx context.Context, gameID common.Hash, fromBlock *big.Int) ([]types.Log, error)
	StoredGame(ctx context.Context, gameID common.Hash) (chain.StoredGame, error)
}

// GameNotifier announces settled and resolved games.
type GameNotifier interface {
	GameSettled(ctx context.Context, game domain.Game) error
	GameResolved(ctx context.Context, game domain.Game) error
}

// SettlementDeps groups the collaborators of a SettlementService. Cache,
// Archive, Bus, Notifier and Audit are optional.
type SettlementDeps struct {
	Ledger   Ledger
	Decoder  *gamelog.Decoder
	Games    domain.GameStore
	Bets     domain.BetStore
	Cache    domain.GameCache
	Archive  domain.ProofArchive
	Bus      domain.SignalBus
	Notifier GameNotifier
	Audit    domain.AuditStore
}

// SettlementService rebuilds games from settlement transactions and
// records their oracle results.
type SettlementService struct {
	SettlementDeps
	ids    crypto.IDs
	logger *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps SettlementDeps, logger *slog.Logger) *SettlementService {
	return &SettlementService{SettlementDeps: deps, ids: crypto.DefaultIDs(), logger: logger}
}

// Ingest reconstructs the game settled by txHash and stores it with every
// ticket and proof. The rebuilt Merkle root must equal the one the ledger
// stored for the game.
func (s *SettlementService) Ingest(ctx context.Context, txHash common.Hash) (domain.Game, error) {
	logs, block, err := s.Ledger.ReceiptLogs(ctx, txHash)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: %w", err)
	}
	events, err := s.Decoder.Decode(logs)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: decode %s: %w", txHash.Hex(), err)
	}
	game, err := gamelog.Reconstruct(events, s.ids)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: reconstruct %s: %w", txHash.Hex(), err)
	}
	game.TxHash = txHash
	if block != nil {
		game.BlockNumber = block.Uint64()
	}

	stored, err := s.Ledger.StoredGame(ctx, game.ID)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: %w", err)
	}
	if stored.TicketsMerkleRoot != game.TicketsRoot {
		return domain.Game{}, fmt.Errorf("settlement_service: game %s root %s, ledger has %s: %w",
			game.ID.Hex(), game.TicketsRoot.Hex(), stored.TicketsMerkleRoot.Hex(), domain.ErrMalformedLog)
	}
	game.Token = stored.Token

	// A synchronous oracle can answer inside the settlement transaction.
	if r, ok := gamelog.FindResult(events, game.ID); ok {
		n := r.Number
		if n == nil {
			n = stored.GeneratedRandomNumber
		}
		if err := gamelog.ApplyResult(game, n); err != nil {
			return domain.Game{}, fmt.Errorf("settlement_service: %w", err)
		}
	}

	if err := s.Games.Save(ctx, *game); err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: save game %s: %w", game.ID.Hex(), err)
	}

	betIDs := make([]common.Hash, len(game.Bets))
	for i, b := range game.Bets {
		betIDs[i] = b.BetID
	}
	if s.Bets != nil {
		// Offers placed outside this book are unknown here.
		if err := s.Bets.MarkMatched(ctx, betIDs, game.ID); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: mark bets matched failed",
				slog.String("game_id", game.ID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.fanOut(ctx, *game, domain.ChannelGameSettled)
	if s.Notifier != nil {
		if err := s.Notifier.GameSettled(ctx, *game); err != nil {
			s.warn(ctx, "notify", game.ID, err)
		}
	}
	s.audit(ctx, "game.settled", map[string]any{
		"game_id": game.ID.Hex(),
		"tx_hash": txHash.Hex(),
		"bets":    len(game.Bets),
		"tickets": len(game.Tickets),
		"root":    game.TicketsRoot.Hex(),
	})

	s.logger.InfoContext(ctx, "settlement_service: game ingested",
		slog.String("game_id", game.ID.Hex()),
		slog.String("tx_hash", txHash.Hex()),
		slog.Int("tickets", len(game.Tickets)),
	)
	return *game, nil
}

// IngestResult looks up the oracle result of a stored game and records it.
// The number comes from the result event when it carries one and from the
// ledger's stored game otherwise. A game without a result yet is
// domain.ErrNotFound.
func (s *SettlementService) IngestResult(ctx context.Context, gameID common.Hash) (domain.Game, error) {
	game, err := s.Games.Get(ctx, gameID)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: get game %s: %w", gameID.Hex(), err)
	}
	if game.State == domain.GameStateResolved {
		return game, nil
	}

	number, err := s.findResult(ctx, game)
	if err != nil {
		return domain.Game{}, err
	}
	return s.resolve(ctx, game, number)
}

// SetResult records a number obtained out of band.
func (s *SettlementService) SetResult(ctx context.Context, gameID common.Hash, number *big.Int) (domain.Game, error) {
	game, err := s.Games.Get(ctx, gameID)
	if err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: get game %s: %w", gameID.Hex(), err)
	}
	return s.resolve(ctx, game, number)
}

func (s *SettlementService) findResult(ctx context.Context, game domain.Game) (*big.Int, error) {
	logs, err := s.Ledger.ResultLogs(ctx, game.ID, new(big.Int).SetUint64(game.BlockNumber))
	if err != nil {
		return nil, fmt.Errorf("settlement_service: %w", err)
	}
	events, err := s.Decoder.Decode(logs)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: decode results of %s: %w", game.ID.Hex(), err)
	}
	r, found := gamelog.FindResult(events, game.ID)
	if found && r.Number != nil {
		return r.Number, nil
	}
	if !found {
		return nil, fmt.Errorf("settlement_service: game %s has no result yet: %w", game.ID.Hex(), domain.ErrNotFound)
	}

	stored, err := s.Ledger.StoredGame(ctx, game.ID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: %w", err)
	}
	if stored.GeneratedRandomNumber == nil {
		return nil, fmt.Errorf("settlement_service: game %s result not stored: %w", game.ID.Hex(), domain.ErrNotFound)
	}
	return stored.GeneratedRandomNumber, nil
}

func (s *SettlementService) resolve(ctx context.Context, game domain.Game, number *big.Int) (domain.Game, error) {
	if err := gamelog.ApplyResult(&game, number); err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: %w", err)
	}
	if err := s.Games.SetResult(ctx, game.ID, game.RandomNumber); err != nil {
		return domain.Game{}, fmt.Errorf("settlement_service: set result %s: %w", game.ID.Hex(), err)
	}

	s.fanOut(ctx, game, domain.ChannelGameResult)
	if s.Notifier != nil {
		if err := s.Notifier.GameResolved(ctx, game); err != nil {
			s.warn(ctx, "notify", game.ID, err)
		}
	}
	winners := game.Winners()
	s.audit(ctx, "game.resolved", map[string]any{
		"game_id":       game.ID.Hex(),
		"random_number": game.RandomNumber.String(),
		"winners":       len(winners),
	})

	s.logger.InfoContext(ctx, "settlement_service: game resolved",
		slog.String("game_id", game.ID.Hex()),
		slog.String("random_number", game.RandomNumber.String()),
		slog.Int("winners", len(winners)),
	)
	return game, nil
}

// fanOut refreshes the cache and archive and publishes the game. Failures
// are logged; the database row is the record.
func (s *SettlementService) fanOut(ctx context.Context, game domain.Game, channel string) {
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, game); err != nil {
			s.warn(ctx, "cache set", game.ID, err)
		}
	}
	if s.Archive != nil {
		if _, err := s.Archive.ArchiveGame(ctx, game); err != nil {
			s.warn(ctx, "archive", game.ID, err)
		}
	}
	if s.Bus == nil {
		return
	}
	payload, err := json.Marshal(game)
	if err != nil {
		s.warn(ctx, "marshal", game.ID, err)
		return
	}
	if err := s.Bus.Publish(ctx, channel, payload); err != nil {
		s.warn(ctx, "publish", game.ID, err)
	}
	if err := s.Bus.StreamAppend(ctx, domain.StreamGames, payload); err != nil {
		s.warn(ctx, "stream append", game.ID, err)
	}
}

func (s *SettlementService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) warn(ctx context.Context, op string, gameID common.Hash, err error) {
	s.logger.WarnContext(ctx, "settlement_service: "+op+" failed",
		slog.String("game_id", gameID.Hex()),
		slog.String("error", err.Error()),
	)
}
