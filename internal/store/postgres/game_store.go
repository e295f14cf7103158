package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/johndpope/erc20bet/internal/domain"
)

// GameStore implements domain.GameStore using PostgreSQL. Ranges and the
// bet grouping are small and always read whole, so they live in JSONB
// columns; tickets get their own table for the per-owner lookup.
type GameStore struct {
	pool *pgxpool.Pool
}

// NewGameStore creates a new GameStore backed by the given connection pool.
func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

const gameCols = `id, token, tx_hash, block_number, tickets_root, ranges, bets, random_number, state, created_at`

const ticketCols = `game_id, idx, owner, bet_id, payout, outcome, min_result, max_result, leaf, proof`

// Save writes the game and replaces its tickets in one transaction.
// Re-ingesting a transaction overwrites the reconstruction but keeps an
// already stored result.
func (s *GameStore) Save(ctx context.Context, g domain.Game) error {
	ranges, err := json.Marshal(g.Ranges)
	if err != nil {
		return fmt.Errorf("postgres: marshal ranges: %w", err)
	}
	bets, err := json.Marshal(g.Bets)
	if err != nil {
		return fmt.Errorf("postgres: marshal matched bets: %w", err)
	}
	var number *decimal.Decimal
	if g.RandomNumber != nil {
		d, err := numCol(g.RandomNumber)
		if err != nil {
			return fmt.Errorf("postgres: save game %s: %w", g.ID.Hex(), err)
		}
		number = &d
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save game: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO games (`+gameCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			token         = EXCLUDED.token,
			tx_hash       = EXCLUDED.tx_hash,
			block_number  = EXCLUDED.block_number,
			tickets_root  = EXCLUDED.tickets_root,
			ranges        = EXCLUDED.ranges,
			bets          = EXCLUDED.bets,
			random_number = COALESCE(games.random_number, EXCLUDED.random_number),
			state         = CASE WHEN games.random_number IS NULL THEN EXCLUDED.state ELSE games.state END`,
		hashCol(g.ID), addrCol(g.Token), hashCol(g.TxHash), int64(g.BlockNumber), hashCol(g.TicketsRoot),
		ranges, bets, number, string(g.State), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save game %s: %w", g.ID.Hex(), err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tickets WHERE game_id = $1`, hashCol(g.ID)); err != nil {
		return fmt.Errorf("postgres: clear tickets of %s: %w", g.ID.Hex(), err)
	}

	batch := &pgx.Batch{}
	for _, t := range g.Tickets {
		payout, err := numCol(t.Payout)
		if err != nil {
			return fmt.Errorf("postgres: ticket %d of %s: %w", t.Index, g.ID.Hex(), err)
		}
		proof, err := json.Marshal(t.Proof)
		if err != nil {
			return fmt.Errorf("postgres: marshal proof: %w", err)
		}
		batch.Queue(`INSERT INTO tickets (`+ticketCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			hashCol(g.ID), t.Index, addrCol(t.Owner), hashCol(t.BetID), payout,
			t.Outcome, int64(t.MinResult), int64(t.MaxResult), hashCol(t.Leaf), proof,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range g.Tickets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert ticket %d of %s: %w", i, g.ID.Hex(), err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close ticket batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit game %s: %w", g.ID.Hex(), err)
	}
	return nil
}

func scanGame(row pgx.Row) (domain.Game, error) {
	var (
		g                    domain.Game
		id, token, txh, root string
		ranges, bets         []byte
		number               *decimal.Decimal
		state                string
		block                int64
	)
	if err := row.Scan(&id, &token, &txh, &block, &root, &ranges, &bets, &number, &state, &g.CreatedAt); err != nil {
		return domain.Game{}, err
	}
	var err error
	if g.ID, err = parseHash(id); err != nil {
		return domain.Game{}, err
	}
	if token != "" {
		if g.Token, err = parseAddr(token); err != nil {
			return domain.Game{}, err
		}
	}
	if g.TxHash, err = parseHash(txh); err != nil {
		return domain.Game{}, err
	}
	if g.TicketsRoot, err = parseHash(root); err != nil {
		return domain.Game{}, err
	}
	if err := json.Unmarshal(ranges, &g.Ranges); err != nil {
		return domain.Game{}, fmt.Errorf("postgres: unmarshal ranges: %w", err)
	}
	if err := json.Unmarshal(bets, &g.Bets); err != nil {
		return domain.Game{}, fmt.Errorf("postgres: unmarshal matched bets: %w", err)
	}
	if number != nil {
		g.RandomNumber = parseNum(*number)
	}
	g.State = domain.GameState(state)
	g.BlockNumber = uint64(block)
	return g, nil
}

func scanTicket(row pgx.Row) (domain.Ticket, common.Hash, error) {
	var (
		t                          domain.Ticket
		gameID, owner, betID, leaf string
		payout                     decimal.Decimal
		minResult, maxResult       int64
		proof                      []byte
	)
	err := row.Scan(&gameID, &t.Index, &owner, &betID, &payout, &t.Outcome, &minResult, &maxResult, &leaf, &proof)
	if err != nil {
		return domain.Ticket{}, common.Hash{}, err
	}
	game, err := parseHash(gameID)
	if err != nil {
		return domain.Ticket{}, common.Hash{}, err
	}
	if t.Owner, err = parseAddr(owner); err != nil {
		return domain.Ticket{}, common.Hash{}, err
	}
	if t.BetID, err = parseHash(betID); err != nil {
		return domain.Ticket{}, common.Hash{}, err
	}
	if t.Leaf, err = parseHash(leaf); err != nil {
		return domain.Ticket{}, common.Hash{}, err
	}
	if err := json.Unmarshal(proof, &t.Proof); err != nil {
		return domain.Ticket{}, common.Hash{}, fmt.Errorf("postgres: unmarshal proof: %w", err)
	}
	t.Payout = parseNum(payout)
	t.MinResult = uint32(minResult)
	t.MaxResult = uint32(maxResult)
	return t, game, nil
}

// Get loads a game with its tickets in emission order.
func (s *GameStore) Get(ctx context.Context, id common.Hash) (domain.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, `SELECT `+gameCols+` FROM games WHERE id = $1`, hashCol(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Game{}, fmt.Errorf("postgres: game %s: %w", id.Hex(), domain.ErrNotFound)
		}
		return domain.Game{}, fmt.Errorf("postgres: get game %s: %w", id.Hex(), err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE game_id = $1 ORDER BY idx`, hashCol(id))
	if err != nil {
		return domain.Game{}, fmt.Errorf("postgres: list tickets of %s: %w", id.Hex(), err)
	}
	defer rows.Close()
	for rows.Next() {
		t, _, err := scanTicket(rows)
		if err != nil {
			return domain.Game{}, fmt.Errorf("postgres: scan ticket: %w", err)
		}
		g.Tickets = append(g.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Game{}, fmt.Errorf("postgres: tickets rows: %w", err)
	}
	return g, nil
}

// SetResult records the oracle's random number and resolves the game.
func (s *GameStore) SetResult(ctx context.Context, id common.Hash, number *big.Int) error {
	d, err := numCol(number)
	if err != nil {
		return fmt.Errorf("postgres: set result of %s: %w", id.Hex(), err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET random_number = $1, state = $2 WHERE id = $3`,
		d, string(domain.GameStateResolved), hashCol(id))
	if err != nil {
		return fmt.Errorf("postgres: set result of %s: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: game %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns games without their tickets, newest first.
func (s *GameStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Game, error) {
	query, args := pageClause(`SELECT `+gameCols+` FROM games WHERE 1=1`, nil, opts, "created_at")
	return s.listGames(ctx, query, args)
}

// ListByState returns games in state without their tickets, newest first.
func (s *GameStore) ListByState(ctx context.Context, state domain.GameState, opts domain.ListOpts) ([]domain.Game, error) {
	query, args := pageClause(`SELECT `+gameCols+` FROM games WHERE state = $1`,
		[]any{string(state)}, opts, "created_at")
	return s.listGames(ctx, query, args)
}

func (s *GameStore) listGames(ctx context.Context, query string, args []any) ([]domain.Game, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list games: %w", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list games rows: %w", err)
	}
	return games, nil
}

// ListTicketsByOwner returns a bettor's tickets across games, newest game
// first.
func (s *GameStore) ListTicketsByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.GameTicket, error) {
	query, args := pageClause(`
		SELECT t.game_id, t.idx, t.owner, t.bet_id, t.payout, t.outcome,
			t.min_result, t.max_result, t.leaf, t.proof
		FROM tickets t JOIN games g ON g.id = t.game_id
		WHERE t.owner = $1`,
		[]any{addrCol(owner)}, opts, "g.created_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tickets of %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var tickets []domain.GameTicket
	for rows.Next() {
		t, gameID, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ticket: %w", err)
		}
		tickets = append(tickets, domain.GameTicket{GameID: gameID, Ticket: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tickets rows: %w", err)
	}
	return tickets, nil
}
