package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/domain"
)

// BetService defines what the bet book handler needs from the service layer.
type BetService interface {
	Place(ctx context.Context, id common.Hash, bet domain.SignedBet) (domain.SignedBet, error)
	Get(ctx context.Context, id common.Hash) (domain.SignedBet, error)
	ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.SignedBet, error)
	ListOpen(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.SignedBet, error)
	Withdraw(ctx context.Context, id common.Hash, owner common.Address) error
	LedgerState(ctx context.Context, id common.Hash) (chain.BetInfo, error)
}

// BetHandler serves the off-chain bet book.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logHandler(logger, "bets")}
}

// putBetRequest is the flat form a wallet submits: the signed terms, the
// signer and the split signature. Integers are decimal or 0x hex strings.
type putBetRequest struct {
	Player      string `json:"player" validate:"required,eth_addr"`
	Token       string `json:"token" validate:"required,eth_addr"`
	Stake       string `json:"stake" validate:"required"`
	Payout      string `json:"payout" validate:"required"`
	Prob        string `json:"prob" validate:"required"`
	Expiry      string `json:"expiry" validate:"required"`
	Nonce       string `json:"nonce" validate:"required"`
	BetContract string `json:"betContract" validate:"required,eth_addr"`
	V           uint8  `json:"v" validate:"oneof=0 1 27 28"`
	R           string `json:"r" validate:"required,hexadecimal,len=66"`
	S           string `json:"s" validate:"required,hexadecimal,len=66"`
}

func (req putBetRequest) signedBet() (domain.SignedBet, string) {
	ints := map[string]*big.Int{}
	for name, raw := range map[string]string{
		"stake": req.Stake, "payout": req.Payout, "prob": req.Prob,
		"expiry": req.Expiry, "nonce": req.Nonce,
	} {
		n, ok := parseUint256(raw)
		if !ok {
			return domain.SignedBet{}, name + " is not an unsigned integer"
		}
		ints[name] = n
	}
	if !ints["prob"].IsUint64() {
		return domain.SignedBet{}, "prob is out of range"
	}
	r, err := parseHash(req.R)
	if err != nil {
		return domain.SignedBet{}, "r: " + err.Error()
	}
	s, err := parseHash(req.S)
	if err != nil {
		return domain.SignedBet{}, "s: " + err.Error()
	}
	v := req.V
	if v < 27 {
		v += 27
	}
	return domain.SignedBet{
		Owner: common.HexToAddress(req.Player),
		Offer: domain.BetOffer{
			Token:       common.HexToAddress(req.Token),
			Stake:       ints["stake"],
			Payout:      ints["payout"],
			Prob:        ints["prob"].Uint64(),
			Expiry:      ints["expiry"],
			Nonce:       ints["nonce"],
			BetContract: common.HexToAddress(req.BetContract),
		},
		Signature: domain.Signature{V: v, R: r, S: s},
	}, ""
}

// PutBet stores a signed offer under its id.
// PUT /api/bets/{id}
func (h *BetHandler) PutBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bet id: "+err.Error())
		return
	}
	var req putBetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bet, problem := req.signedBet()
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}

	stored, err := h.bets.Place(r.Context(), id, bet)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetBet returns one offer; with ?ledger=1 the ledger's view is attached.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bet id: "+err.Error())
		return
	}
	bet, err := h.bets.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get bet", err)
		return
	}
	if r.URL.Query().Get("ledger") == "" {
		writeJSON(w, http.StatusOK, bet)
		return
	}

	info, err := h.bets.LedgerState(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "ledger state", err)
		return
	}
	resp := map[string]any{"bet": bet, "ledgerState": info.State}
	if info.MatchedGameID != (common.Hash{}) {
		resp["ledgerGameId"] = info.MatchedGameID
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBets lists a player's offers, or the open offers in a token.
// GET /api/bets?player=0x...  |  GET /api/bets?token=0x...
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var (
		bets []domain.SignedBet
		err  error
	)
	switch {
	case q.Get("player") != "":
		owner, perr := parseAddress(q.Get("player"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		bets, err = h.bets.ListByOwner(r.Context(), owner, opts)
	case q.Get("token") != "":
		token, perr := parseAddress(q.Get("token"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		bets, err = h.bets.ListOpen(r.Context(), token, opts)
	default:
		writeError(w, http.StatusBadRequest, "player or token query parameter required")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.SignedBet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// DeleteBet withdraws an unmatched offer. The player must be the owner.
// DELETE /api/bets/{id}?player=0x...
func (h *BetHandler) DeleteBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bet id: "+err.Error())
		return
	}
	owner, err := parseAddress(r.URL.Query().Get("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "player: "+err.Error())
		return
	}
	if err := h.bets.Withdraw(r.Context(), id, owner); err != nil {
		writeServiceError(w, r, h.logger, "withdraw bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "withdrawn",
		"bet_id": id.Hex(),
	})
}
