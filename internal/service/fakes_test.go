package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
)

var (
	token       = common.HexToAddress("0x7070707070707070707070707070707070707070")
	betContract = common.HexToAddress("0xbebebebebebebebebebebebebebebebebebebebe")
	ether       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	fixedNow    = time.Unix(1_800_000_000, 0)
)

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exchange(t *testing.T) *chain.Exchange {
	t.Helper()
	x, err := chain.LoadExchange()
	require.NoError(t, err)
	return x
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSignerFromKey(pk)
}

// signedBet builds an offer for prob/stake signed by s, with its id.
func signedBet(t *testing.T, s *crypto.Signer, prob uint64, stake int64) domain.SignedBet {
	t.Helper()
	o := domain.BetOffer{
		Token:       token,
		Stake:       tokens(stake),
		Payout:      tokens(12),
		Prob:        prob,
		Expiry:      big.NewInt(2_000_000_000),
		Nonce:       big.NewInt(int64(prob) + stake),
		BetContract: betContract,
	}
	sig, err := s.SignOffer(o)
	require.NoError(t, err)
	id, err := crypto.DefaultIDs().BetID(s.Address(), o)
	require.NoError(t, err)
	return domain.SignedBet{ID: id, Owner: s.Address(), Offer: o, Signature: sig}
}

// memBets is an in-memory domain.BetStore.
type memBets struct {
	mu   sync.Mutex
	bets map[common.Hash]domain.SignedBet
}

func newMemBets(bets ...domain.SignedBet) *memBets {
	m := &memBets{bets: map[common.Hash]domain.SignedBet{}}
	for _, b := range bets {
		b.State = domain.BetStatePlacedNotMatched
		m.bets[b.ID] = b
	}
	return m
}

func (m *memBets) Put(_ context.Context, bet domain.SignedBet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.bets[bet.ID]; ok {
		if old.Owner != bet.Owner || old.Signature != bet.Signature {
			return domain.ErrAlreadyExists
		}
		return nil
	}
	bet.CreatedAt = fixedNow
	m.bets[bet.ID] = bet
	return nil
}

func (m *memBets) Get(_ context.Context, id common.Hash) (domain.SignedBet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return domain.SignedBet{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBets) GetMany(ctx context.Context, ids []common.Hash) ([]domain.SignedBet, error) {
	out := make([]domain.SignedBet, 0, len(ids))
	for _, id := range ids {
		b, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBets) ListByOwner(_ context.Context, owner common.Address, _ domain.ListOpts) ([]domain.SignedBet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SignedBet
	for _, b := range m.bets {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBets) ListOpen(_ context.Context, tok common.Address, _ domain.ListOpts) ([]domain.SignedBet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SignedBet
	for _, b := range m.bets {
		if b.Offer.Token == tok && b.State == domain.BetStatePlacedNotMatched {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBets) Delete(_ context.Context, id common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.State != domain.BetStatePlacedNotMatched {
		return domain.ErrBetMatched
	}
	delete(m.bets, id)
	return nil
}

func (m *memBets) MarkMatched(_ context.Context, ids []common.Hash, gameID common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		b, ok := m.bets[id]
		if !ok {
			return domain.ErrNotFound
		}
		if b.State != domain.BetStatePlacedNotMatched && (b.GameID != nil || gameID == (common.Hash{})) {
			return domain.ErrBetMatched
		}
	}
	for _, id := range ids {
		b := m.bets[id]
		b.State = domain.BetStateMatched
		if gameID != (common.Hash{}) {
			g := gameID
			b.GameID = &g
		}
		m.bets[id] = b
	}
	return nil
}

// memGames is an in-memory domain.GameStore.
type memGames struct {
	mu    sync.Mutex
	games map[common.Hash]domain.Game
	pages []domain.ListOpts
}

func newMemGames() *memGames { return &memGames{games: map[common.Hash]domain.Game{}} }

func (m *memGames) Save(_ context.Context, g domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

func (m *memGames) Get(_ context.Context, id common.Hash) (domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	return g, nil
}

func (m *memGames) SetResult(_ context.Context, id common.Hash, n *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return domain.ErrNotFound
	}
	g.RandomNumber = n
	g.State = domain.GameStateResolved
	m.games[id] = g
	return nil
}

func (m *memGames) ListRecent(context.Context, domain.ListOpts) ([]domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Game
	for _, g := range m.games {
		out = append(out, g)
	}
	return out, nil
}

// ListByState orders by creation time, newest first, then by id.
func (m *memGames) ListByState(_ context.Context, state domain.GameState, opts domain.ListOpts) ([]domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Game
	for _, g := range m.games {
		if g.State == state {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Big().Cmp(out[j].ID.Big()) < 0
	})
	m.pages = append(m.pages, opts)
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memGames) ListTicketsByOwner(_ context.Context, owner common.Address, _ domain.ListOpts) ([]domain.GameTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GameTicket
	for _, g := range m.games {
		for _, t := range g.Tickets {
			if t.Owner == owner {
				out = append(out, domain.GameTicket{GameID: g.ID, Ticket: t})
			}
		}
	}
	return out, nil
}

// memLocks is an in-process domain.LockManager.
type memLocks struct {
	mu    sync.Mutex
	held  map[string]bool
	taken []string
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	l.taken = append(l.taken, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// countingLimiter allows limit calls per key.
type countingLimiter struct {
	calls map[string]int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[key]++
	return c.calls[key] <= limit, nil
}

func (c *countingLimiter) Wait(context.Context, string) error { return nil }

// memCache is an in-memory domain.GameCache.
type memCache struct {
	games map[common.Hash]domain.Game
	sets  int
}

func newMemCache() *memCache { return &memCache{games: map[common.Hash]domain.Game{}} }

func (c *memCache) Set(_ context.Context, g domain.Game) error {
	c.games[g.ID] = g
	c.sets++
	return nil
}

func (c *memCache) Get(_ context.Context, id common.Hash) (domain.Game, error) {
	g, ok := c.games[id]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	return g, nil
}

func (c *memCache) Invalidate(_ context.Context, id common.Hash) error {
	delete(c.games, id)
	return nil
}

// memArchive is an in-memory domain.ProofArchive.
type memArchive struct{ games map[common.Hash]domain.Game }

func newMemArchive() *memArchive { return &memArchive{games: map[common.Hash]domain.Game{}} }

func (a *memArchive) ArchiveGame(_ context.Context, g domain.Game) (string, error) {
	a.games[g.ID] = g
	return "games/" + g.ID.Hex() + ".json", nil
}

func (a *memArchive) LoadGame(_ context.Context, id common.Hash) (domain.Game, error) {
	g, ok := a.games[id]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	return g, nil
}

// memBus records published payloads per channel.
type memBus struct {
	published map[string]int
	streamed  map[string]int
}

func newMemBus() *memBus { return &memBus{published: map[string]int{}, streamed: map[string]int{}} }

func (b *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.published[channel]++
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.streamed[stream]++
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// recordingNotifier remembers which games were announced.
type recordingNotifier struct {
	settled, resolved []common.Hash
	err               error
}

func (n *recordingNotifier) GameSettled(_ context.Context, g domain.Game) error {
	n.settled = append(n.settled, g.ID)
	return n.err
}

func (n *recordingNotifier) GameResolved(_ context.Context, g domain.Game) error {
	n.resolved = append(n.resolved, g.ID)
	return n.err
}

// fakeLedger serves canned receipts, result logs and stored games.
type fakeLedger struct {
	receipts map[common.Hash][]types.Log
	block    *big.Int
	results  []types.Log
	stored   chain.StoredGame
	info     chain.BetInfo
}

func (f *fakeLedger) ReceiptLogs(_ context.Context, tx common.Hash) ([]types.Log, *big.Int, error) {
	logs, ok := f.receipts[tx]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	return logs, f.block, nil
}

func (f *fakeLedger) ResultLogs(context.Context, common.Hash, *big.Int) ([]types.Log, error) {
	return f.results, nil
}

func (f *fakeLedger) StoredGame(context.Context, common.Hash) (chain.StoredGame, error) {
	return f.stored, nil
}

func (f *fakeLedger) BetInfo(context.Context, common.Address, common.Hash) (chain.BetInfo, error) {
	return f.info, nil
}

// eventWith finds the event named raw that has an input called input.
func eventWith(t *testing.T, x *chain.Exchange, raw, input string) abi.Event {
	t.Helper()
	for _, ev := range x.ABI().Events {
		if ev.RawName != raw {
			continue
		}
		for _, in := range ev.Inputs {
			if in.Name == input {
				return ev
			}
		}
	}
	t.Fatalf("no %s event with input %s", raw, input)
	return abi.Event{}
}

func makeLog(t *testing.T, ev abi.Event, index uint, topics []common.Hash, data ...any) types.Log {
	t.Helper()
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Topics: append([]common.Hash{ev.ID}, topics...),
		Data:   packed,
		Index:  index,
	}
}
