package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/config"
)

const twoPartyLog = `[
  {"event": "BetMatched", "args": {
    "betOwner": "0x1000000000000000000000000000000000000001",
    "betId": "0x00000000000000000000000000000000000000000000000000000000000000b1",
    "payout": "12000000000000000000",
    "outcomeSubscripts": "0x00"}},
  {"event": "BetMatched", "args": {
    "betOwner": "0x2000000000000000000000000000000000000002",
    "betId": "0x00000000000000000000000000000000000000000000000000000000000000b2",
    "payout": "12000000000000000000",
    "outcomeSubscripts": "0x01"}},
  {"event": "GameStarted", "args": {"gameId": 7, "outcomeProbs": [1073741824, 3221225472]}}
]`

type report struct {
	Game struct {
		State   string `json:"state"`
		Tickets []struct {
			Owner string `json:"owner"`
		} `json:"tickets"`
	} `json:"game"`
	Winners []struct {
		Owner  string `json:"owner"`
		Payout string `json:"payout"`
	} `json:"winners"`
	Claims []struct {
		Calldata string `json:"calldata"`
	} `json:"claims"`
}

func runReconstruct(t *testing.T, events, random string) (report, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(events), 0o600))

	cfg := config.Defaults()
	cfg.Mode = "reconstruct"
	var out bytes.Buffer
	a := New(&cfg, Options{EventsPath: path, RandomNumber: random, Out: &out},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	var r report
	if err := a.Run(context.Background()); err != nil {
		return r, err
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	return r, nil
}

func TestReconstructWithoutResult(t *testing.T) {
	r, err := runReconstruct(t, twoPartyLog, "")
	require.NoError(t, err)
	assert.Equal(t, "opened", r.Game.State)
	assert.Len(t, r.Game.Tickets, 2)
	assert.Empty(t, r.Winners)
	assert.Empty(t, r.Claims)
}

func TestReconstructWithRandomOverride(t *testing.T) {
	r, err := runReconstruct(t, twoPartyLog, "0x7fffffff")
	require.NoError(t, err)
	assert.Equal(t, "resolved", r.Game.State)
	require.Len(t, r.Winners, 1)
	assert.Equal(t, "0x2000000000000000000000000000000000000002", r.Winners[0].Owner)
	assert.Equal(t, "12", r.Winners[0].Payout)
	require.Len(t, r.Claims, 1)
	assert.NotEmpty(t, r.Claims[0].Calldata)
}

func TestReconstructResultFromLog(t *testing.T) {
	withResult := twoPartyLog[:len(twoPartyLog)-1] +
		`, {"event": "GameEndedOk", "args": {"gameId": "7", "generatedRandomNumber": "5"}}]`
	r, err := runReconstruct(t, withResult, "")
	require.NoError(t, err)
	require.Len(t, r.Winners, 1)
	assert.Equal(t, "0x1000000000000000000000000000000000000001", r.Winners[0].Owner)
}

func TestReconstructErrors(t *testing.T) {
	_, err := runReconstruct(t, twoPartyLog, "soon")
	assert.ErrorContains(t, err, "-random")

	_, err = runReconstruct(t, `{"not": "a list"}`, "")
	assert.Error(t, err)

	cfg := config.Defaults()
	cfg.Mode = "reconstruct"
	a := New(&cfg, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, a.Run(context.Background()), "-events is required")
}
