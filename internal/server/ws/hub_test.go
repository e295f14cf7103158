package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/domain"
)

type chanBus struct {
	channels map[string]chan []byte
}

func newChanBus() *chanBus {
	b := &chanBus{channels: map[string]chan []byte{}}
	for _, ch := range Channels {
		b.channels[ch] = make(chan []byte, 4)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.channels[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.channels[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func dialHub(t *testing.T) (*chanBus, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := newChanBus()
	hub := NewHub(bus, Config{Mode: "server", Exchange: "0xabc"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return bus, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysGameEvents(t *testing.T) {
	bus, conn := dialHub(t)

	status := readFrame(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Payload), `"exchange":"0xabc"`)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelGameSettled, []byte(`{"id":"0x07"}`)))
	got := readFrame(t, conn)
	assert.Equal(t, domain.ChannelGameSettled, got.Type)
	assert.JSONEq(t, `{"id":"0x07"}`, string(got.Payload))
}

func TestHubUnsubscribe(t *testing.T) {
	bus, conn := dialHub(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelGameSettled}}))
	// Give the read pump time to apply the change.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelGameSettled, []byte(`{"id":"0x01"}`)))
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelGameResult, []byte(`{"id":"0x02"}`)))

	got := readFrame(t, conn)
	assert.Equal(t, domain.ChannelGameResult, got.Type)
	assert.JSONEq(t, `{"id":"0x02"}`, string(got.Payload))
}
