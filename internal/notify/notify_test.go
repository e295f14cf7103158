package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/domain"
)

type recorder struct {
	name string
	err  error
	sent []string
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg.Title+"|"+msg.Text())
	return r.err
}

func (r *recorder) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resolvedGame() domain.Game {
	payout, _ := new(big.Int).SetString("12000000000000000000", 10)
	return domain.Game{
		ID:           common.BigToHash(big.NewInt(7)),
		RandomNumber: big.NewInt(0x7fffffff),
		Tickets: []domain.Ticket{
			{Owner: common.HexToAddress("0x1000000000000000000000000000000000000001"), Payout: payout, MinResult: 0, MaxResult: 0x3FFFFFFF},
			{Owner: common.HexToAddress("0x2000000000000000000000000000000000000002"), Payout: payout, MinResult: 0x40000000, MaxResult: 0xFFFFFFFF},
		},
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	r := &recorder{name: "rec"}
	n := NewNotifier([]Sender{r}, []string{EventGameResult}, quietLogger())

	require.NoError(t, n.GameSettled(context.Background(), resolvedGame()))
	assert.Empty(t, r.sent)

	require.NoError(t, n.GameResolved(context.Background(), resolvedGame()))
	require.Len(t, r.sent, 1)
	assert.Equal(t, "Game resolved|game 7\nrandom number 2147483647\nwinner 0x2000000000000000000000000000000000000002 wins 12", r.sent[0])
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	r := &recorder{name: "rec"}
	n := NewNotifier([]Sender{r}, nil, quietLogger())
	require.NoError(t, n.GameSettled(context.Background(), resolvedGame()))
	assert.Len(t, r.sent, 1)
}

func TestNotifierCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recorder{name: "bad", err: boom}
	good := &recorder{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), Message{Event: EventGameSettled, Title: "t"})
	require.ErrorIs(t, err, boom)
	assert.Len(t, good.sent, 1, "later senders still run")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	msg := Message{Title: "Title", Fields: []Field{{Name: "game", Value: "7"}, {Name: "tx", Value: "0xab"}}}
	require.NoError(t, s.Send(context.Background(), msg))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\ngame 7\ntx 0xab", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDiscordSenderGameEmbed(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, d.Send(context.Background(), resolvedMessage(resolvedGame())))

	assert.Equal(t, "betx", got.Username)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "Game resolved", e.Title)
	assert.Equal(t, 0x2ECC71, e.Color)
	assert.Equal(t, "2024-05-01T12:00:00Z", e.Timestamp)
	require.NotNil(t, e.Footer)
	assert.Equal(t, EventGameResult+" · game 7", e.Footer.Text)
	assert.Equal(t, []discordField{
		{Name: "game", Value: "7"},
		{Name: "random number", Value: "2147483647"},
		{Name: "winner", Value: "0x2000000000000000000000000000000000000002 wins 12"},
	}, e.Fields)
}

func TestDiscordEmbedFieldLimit(t *testing.T) {
	g := resolvedGame()
	g.RandomNumber = big.NewInt(5)
	g.Tickets = nil
	for i := range 30 {
		g.Tickets = append(g.Tickets, domain.Ticket{
			Owner:     common.BigToAddress(big.NewInt(int64(i + 1))),
			Payout:    big.NewInt(1),
			MaxResult: 0xFFFFFFFF,
		})
	}

	e := NewDiscordSender("http://unused").embed(resolvedMessage(g))
	require.Len(t, e.Fields, discordMaxFields)
	// game + random number + 30 winners, 24 shown
	assert.Equal(t, discordField{Name: "more", Value: "8 more not shown"}, e.Fields[discordMaxFields-1])

	settled := NewDiscordSender("http://unused").embed(settledMessage(g))
	assert.Equal(t, 0x3498DB, settled.Color)
	assert.True(t, settled.Fields[2].Inline)
}

func TestFormatAmount(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatAmount(v))
	assert.Equal(t, "0", FormatAmount(nil))
}
