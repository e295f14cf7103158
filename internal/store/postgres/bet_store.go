package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/johndpope/erc20bet/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `id, owner, token, bet_contract, stake, payout, prob, expiry, nonce,
	sig_v, sig_r, sig_s, state, game_id, created_at, updated_at`

// Put inserts a signed offer. Re-submitting an identical offer is a no-op;
// a different signature under an existing id is ErrAlreadyExists.
func (s *BetStore) Put(ctx context.Context, b domain.SignedBet) error {
	o := b.Offer
	var nums [4]decimal.Decimal
	for i, n := range []*big.Int{o.Stake, o.Payout, o.Expiry, o.Nonce} {
		d, err := numCol(n)
		if err != nil {
			return fmt.Errorf("postgres: put bet %s: %w", b.ID.Hex(), err)
		}
		nums[i] = d
	}
	state := b.State
	if state == "" {
		state = domain.BetStatePlacedNotMatched
	}

	const query = `
		INSERT INTO bets (
			id, owner, token, bet_contract, stake, payout, prob, expiry, nonce,
			sig_v, sig_r, sig_s, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, NOW(), NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		hashCol(b.ID), addrCol(b.Owner), addrCol(o.Token), addrCol(o.BetContract),
		nums[0], nums[1], int64(o.Prob), nums[2], nums[3],
		int16(b.Signature.V), hashCol(b.Signature.R), hashCol(b.Signature.S), string(state),
	)
	if err != nil {
		return fmt.Errorf("postgres: put bet %s: %w", b.ID.Hex(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, b.ID)
	if err != nil {
		return err
	}
	if existing.Owner != b.Owner || existing.Signature != b.Signature {
		return fmt.Errorf("postgres: put bet %s: %w", b.ID.Hex(), domain.ErrAlreadyExists)
	}
	return nil
}

func scanBet(row pgx.Row) (domain.SignedBet, error) {
	var (
		b                       domain.SignedBet
		id, owner, token, contr string
		stake, payout           decimal.Decimal
		expiry, nonce           decimal.Decimal
		prob                    int64
		v                       int16
		r, sv, state            string
		gameID                  *string
	)
	err := row.Scan(
		&id, &owner, &token, &contr, &stake, &payout, &prob, &expiry, &nonce,
		&v, &r, &sv, &state, &gameID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.SignedBet{}, err
	}

	if b.ID, err = parseHash(id); err != nil {
		return domain.SignedBet{}, err
	}
	if b.Owner, err = parseAddr(owner); err != nil {
		return domain.SignedBet{}, err
	}
	if b.Offer.Token, err = parseAddr(token); err != nil {
		return domain.SignedBet{}, err
	}
	if b.Offer.BetContract, err = parseAddr(contr); err != nil {
		return domain.SignedBet{}, err
	}
	b.Offer.Stake = parseNum(stake)
	b.Offer.Payout = parseNum(payout)
	b.Offer.Prob = uint64(prob)
	b.Offer.Expiry = parseNum(expiry)
	b.Offer.Nonce = parseNum(nonce)
	b.Signature = domain.Signature{V: uint8(v), R: common.HexToHash(r), S: common.HexToHash(sv)}
	b.State = domain.BetState(state)
	if gameID != nil {
		h, err := parseHash(*gameID)
		if err != nil {
			return domain.SignedBet{}, err
		}
		b.GameID = &h
	}
	return b, nil
}

func collectBets(rows pgx.Rows, what string) ([]domain.SignedBet, error) {
	defer rows.Close()
	var bets []domain.SignedBet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", what, err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return bets, nil
}

// Get retrieves one offer by bet id.
func (s *BetStore) Get(ctx context.Context, id common.Hash) (domain.SignedBet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, hashCol(id))
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SignedBet{}, fmt.Errorf("postgres: bet %s: %w", id.Hex(), domain.ErrNotFound)
		}
		return domain.SignedBet{}, fmt.Errorf("postgres: get bet %s: %w", id.Hex(), err)
	}
	return b, nil
}

// GetMany returns the offers in the order of ids. A missing id is
// ErrNotFound.
func (s *BetStore) GetMany(ctx context.Context, ids []common.Hash) ([]domain.SignedBet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = hashCol(id)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+betCols+` FROM bets WHERE id = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("postgres: get bets: %w", err)
	}
	found, err := collectBets(rows, "bets")
	if err != nil {
		return nil, err
	}

	byID := make(map[common.Hash]domain.SignedBet, len(found))
	for _, b := range found {
		byID[b.ID] = b
	}
	out := make([]domain.SignedBet, len(ids))
	for i, id := range ids {
		b, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("postgres: bet %s: %w", id.Hex(), domain.ErrNotFound)
		}
		out[i] = b
	}
	return out, nil
}

// ListByOwner returns a bettor's offers, newest first.
func (s *BetStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.SignedBet, error) {
	query, args := pageClause(`SELECT `+betCols+` FROM bets WHERE owner = $1`,
		[]any{addrCol(owner)}, opts, "created_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets of %s: %w", owner.Hex(), err)
	}
	return collectBets(rows, "owner bets")
}

// ListOpen returns unmatched offers in a token, newest first.
func (s *BetStore) ListOpen(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.SignedBet, error) {
	query, args := pageClause(`SELECT `+betCols+` FROM bets WHERE token = $1 AND state = $2`,
		[]any{addrCol(token), string(domain.BetStatePlacedNotMatched)}, opts, "created_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open bets: %w", err)
	}
	return collectBets(rows, "open bets")
}

// Delete withdraws an offer. Matched offers stay.
func (s *BetStore) Delete(ctx context.Context, id common.Hash) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bets WHERE id = $1 AND state = $2`,
		hashCol(id), string(domain.BetStatePlacedNotMatched))
	if err != nil {
		return fmt.Errorf("postgres: delete bet %s: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: delete bet %s: %w", id.Hex(), domain.ErrBetMatched)
}

// MarkMatched moves all ids to the matched state in one statement. A zero
// gameID marks a batch handed to the submitter whose game id the ledger has
// not assigned yet; a later call with the id fills it in. Nothing changes
// if any of the bets is missing or already bound to a game.
func (s *BetStore) MarkMatched(ctx context.Context, ids []common.Hash, gameID common.Hash) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = hashCol(id)
	}
	var game *string
	if gameID != (common.Hash{}) {
		g := hashCol(gameID)
		game = &g
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin mark matched: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE bets SET state = $1, game_id = $2, updated_at = NOW()
		WHERE id = ANY($3) AND (state = $4 OR (state = $1 AND game_id IS NULL))`,
		string(domain.BetStateMatched), game, keys, string(domain.BetStatePlacedNotMatched))
	if err != nil {
		return fmt.Errorf("postgres: mark matched: %w", err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("postgres: mark matched: %d of %d bets available: %w", tag.RowsAffected(), len(ids), domain.ErrBetMatched)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit mark matched: %w", err)
	}
	return nil
}
