package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/service"
)

// MatchService forms settlements from stored offers.
type MatchService interface {
	Match(ctx context.Context, ids []common.Hash) (service.MatchResult, error)
}

// SettlementService ingests settlement transactions and oracle results.
type SettlementService interface {
	Ingest(ctx context.Context, txHash common.Hash) (domain.Game, error)
	IngestResult(ctx context.Context, gameID common.Hash) (domain.Game, error)
}

// ClaimService serves games and claims.
type ClaimService interface {
	Game(ctx context.Context, id common.Hash) (domain.Game, error)
	Claims(ctx context.Context, id common.Hash, player common.Address) ([]service.ClaimCall, error)
	TicketsByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.GameTicket, error)
	RecentGames(ctx context.Context, opts domain.ListOpts) ([]domain.Game, error)
}

// GameHandler serves matching, settlement ingestion and claims.
type GameHandler struct {
	matcher MatchService
	settler SettlementService
	claims  ClaimService
	logger  *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(matcher MatchService, settler SettlementService, claims ClaimService, logger *slog.Logger) *GameHandler {
	return &GameHandler{
		matcher: matcher,
		settler: settler,
		claims:  claims,
		logger:  logHandler(logger, "games"),
	}
}

type matchRequest struct {
	BetIDs []string `json:"betIds" validate:"required,min=1,max=256,dive,required"`
}

// MatchBets settles the listed offers together and returns the startGame
// payload for the submitter.
// POST /api/games
func (h *GameHandler) MatchBets(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := make([]common.Hash, len(req.BetIDs))
	for i, s := range req.BetIDs {
		id, err := parseHash(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bet id: "+err.Error())
			return
		}
		ids[i] = id
	}

	res, err := h.matcher.Match(r.Context(), ids)
	if err != nil {
		writeServiceError(w, r, h.logger, "match bets", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type ingestRequest struct {
	TxHash string `json:"txHash" validate:"required,hexadecimal,len=66"`
}

// IngestSettlement rebuilds the game settled by a mined transaction.
// POST /api/games/ingest
func (h *GameHandler) IngestSettlement(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := parseHash(req.TxHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "txHash: "+err.Error())
		return
	}

	game, err := h.settler.Ingest(r.Context(), tx)
	if err != nil {
		writeServiceError(w, r, h.logger, "ingest settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

// IngestResult records the oracle result of a game once the ledger has it.
// POST /api/games/{id}/result
func (h *GameHandler) IngestResult(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	game, err := h.settler.IngestResult(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "ingest result", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// GetGame returns a game with its tickets and proofs.
// GET /api/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	game, err := h.claims.Game(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get game", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// ListGames returns the most recent games.
// GET /api/games?limit=50&offset=0
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.claims.RecentGames(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list games", err)
		return
	}
	if games == nil {
		games = []domain.Game{}
	}
	writeJSON(w, http.StatusOK, games)
}

// ListClaims returns the winning claims of a game, optionally for one player.
// GET /api/games/{id}/claims?player=0x...
func (h *GameHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var player common.Address
	if p := r.URL.Query().Get("player"); p != "" {
		if player, err = parseAddress(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	claims, err := h.claims.Claims(r.Context(), id, player)
	if err != nil {
		writeServiceError(w, r, h.logger, "list claims", err)
		return
	}
	if claims == nil {
		claims = []service.ClaimCall{}
	}
	writeJSON(w, http.StatusOK, claims)
}

// ListTickets returns a player's tickets across games.
// GET /api/tickets?player=0x...
func (h *GameHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "player: "+err.Error())
		return
	}
	tickets, err := h.claims.TicketsByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list tickets", err)
		return
	}
	if tickets == nil {
		tickets = []domain.GameTicket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}
