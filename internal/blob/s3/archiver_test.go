package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
)

// memBucket is an in-memory BlobWriter and BlobReader.
type memBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
}

func newMemBucket() *memBucket { return &memBucket{objects: map[string][]byte{}} }

func (m *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBucket) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledGame(t *testing.T) *domain.Game {
	t.Helper()
	p1 := common.HexToAddress("0x1000000000000000000000000000000000000001")
	p2 := common.HexToAddress("0x2000000000000000000000000000000000000002")
	payout := new(big.Int).Mul(big.NewInt(12), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	game, err := gamelog.Reconstruct([]gamelog.Event{
		gamelog.BetMatched{BetOwner: p1, BetID: common.HexToHash("0xb1"), Payout: payout, OutcomeSubscripts: []byte{0}},
		gamelog.BetMatched{BetOwner: p2, BetID: common.HexToHash("0xb2"), Payout: payout, OutcomeSubscripts: []byte{1}},
		gamelog.GameOpened{Name: "GameStarted", GameID: common.BigToHash(big.NewInt(7)), OutcomeProbs: []uint32{0x40000000, 0xC0000000}},
	}, crypto.DefaultIDs())
	require.NoError(t, err)
	return game
}

func TestArchiveOpenGame(t *testing.T) {
	bucket := newMemBucket()
	audit := &memAudit{}
	a := NewArchiver(bucket, bucket, audit)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	game := settledGame(t)
	path, err := a.ArchiveGame(context.Background(), *game)
	require.NoError(t, err)
	assert.Equal(t, "games/0x0000000000000000000000000000000000000000000000000000000000000007.json", path)
	assert.Equal(t, []string{"archive.game"}, audit.events)

	ok, err := bucket.Exists(context.Background(), claimsPath(game.ID))
	require.NoError(t, err)
	assert.False(t, ok, "no claims before the result")

	loaded, err := a.LoadGame(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, game.TicketsRoot, loaded.TicketsRoot)
	require.Len(t, loaded.Tickets, 2)
	assert.Equal(t, game.Tickets[1].Proof, loaded.Tickets[1].Proof)
	assert.Equal(t, 0, game.Tickets[1].Payout.Cmp(loaded.Tickets[1].Payout))
}

func TestArchiveResolvedGameWritesClaims(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, nil)

	game := settledGame(t)
	require.NoError(t, gamelog.ApplyResult(game, big.NewInt(0x7fffffff)))
	_, err := a.ArchiveGame(context.Background(), *game)
	require.NoError(t, err)

	rc, err := bucket.Get(context.Background(), claimsPath(game.ID))
	require.NoError(t, err)
	defer rc.Close()

	var claims []domain.Claim
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var c domain.Claim
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		claims = append(claims, c)
	}
	require.Len(t, claims, 1)
	assert.Equal(t, game.Tickets[1].Owner, claims[0].Player)
	require.NoError(t, gamelog.VerifyClaim(game.TicketsRoot, game.RandomNumber, claims[0], crypto.DefaultIDs()))
}

func TestLoadGameMissing(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, nil)
	_, err := a.LoadGame(context.Background(), common.HexToHash("0x01"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadGameWrongBundle(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, nil)
	game := settledGame(t)
	_, err := a.ArchiveGame(context.Background(), *game)
	require.NoError(t, err)

	other := common.HexToHash("0x08")
	bucket.objects[gamePath(other)] = bucket.objects[gamePath(game.ID)]
	_, err = a.LoadGame(context.Background(), other)
	require.ErrorIs(t, err, domain.ErrMalformedLog)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
