package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
	"github.com/johndpope/erc20bet/internal/matching"
	"github.com/johndpope/erc20bet/internal/notify"
	"github.com/johndpope/erc20bet/internal/pipeline"
	"github.com/johndpope/erc20bet/internal/server"
	"github.com/johndpope/erc20bet/internal/server/handler"
	"github.com/johndpope/erc20bet/internal/server/ws"
	"github.com/johndpope/erc20bet/internal/service"
)

// ServerMode runs the bet book and settlement API, the settlement scanner
// and the result tracker until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	bets := service.NewBetService(
		deps.BetStore, deps.RateLimiter, deps.Ledger,
		service.BetLimits{
			PerOwner: a.cfg.Matching.BetsPerOwner,
			Window:   a.cfg.Matching.BetRateWindow.Duration,
		},
		a.component("bet_service"),
	)

	// Without a house key every offer must arrive signed.
	var src matching.SignatureSource
	if deps.House != nil {
		bets.WithHouse(deps.House.Address())
		src = deps.House
	}
	matcher := service.NewMatchService(
		deps.BetStore, deps.LockManager, deps.Exchange, src,
		service.MatchConfig{
			LockTTL:    a.cfg.Matching.LockTTL.Duration,
			GameExpiry: a.cfg.Matching.GameExpiry.Duration,
		},
		a.component("match_service"),
	)
	settler := service.NewSettlementService(service.SettlementDeps{
		Ledger:   deps.Ledger,
		Decoder:  gamelog.NewDecoder(deps.Exchange),
		Games:    deps.GameStore,
		Bets:     deps.BetStore,
		Cache:    deps.GameCache,
		Archive:  deps.Archive,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Audit:    deps.AuditStore,
	}, a.component("settlement_service"))
	claims := service.NewClaimService(
		deps.GameStore, deps.GameCache, deps.Archive, deps.Exchange,
		a.component("claim_service"),
	)

	running := false

	if poll := a.cfg.Matching.ResultPoll.Duration; poll > 0 {
		tracker := service.NewResultTracker(deps.GameStore, settler, poll, a.base)
		g.Go(func() error {
			return tracker.Run(ctx)
		})
		running = true
	}

	if sc := a.cfg.Scanner; sc.Enabled {
		scanner := pipeline.NewSettlementScanner(deps.Ledger, settler, deps.Cursors, pipeline.ScannerConfig{
			StartBlock:    sc.StartBlock,
			Confirmations: sc.Confirmations,
			MaxRange:      sc.MaxRange,
			Interval:      sc.Interval.Duration,
		}, a.base)
		g.Go(func() error {
			return scanner.RunLoop(ctx)
		})
		running = true
	}

	if a.cfg.Server.Enabled {
		httpLog := a.component("http")
		exchange := common.HexToAddress(a.cfg.Chain.ExchangeAddress)
		hub := ws.NewHub(deps.SignalBus, ws.Config{
			Mode:     a.cfg.Mode,
			Exchange: exchange.Hex(),
		}, a.component("ws"))
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, server.Handlers{
			Health: handler.NewHealthHandler(deps.Health, httpLog),
			Status: handler.NewStatusHandler(a.cfg.Mode, exchange, a.cfg.Chain.ChainID),
			Bets:   handler.NewBetHandler(bets, httpLog),
			Games:  handler.NewGameHandler(matcher, settler, claims, httpLog),
			Feed:   hub,
		})
		running = true
	}

	if !running {
		a.logger.WarnContext(ctx, "server, scanner and result polling are all off; waiting for shutdown")
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server to g and shuts it down gracefully
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.component("server"))

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; matching and ingestion routes are open")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// reconstructReport is what reconstruct mode prints.
type reconstructReport struct {
	Game    *domain.Game        `json:"game"`
	Winners []winnerLine        `json:"winners,omitempty"`
	Claims  []service.ClaimCall `json:"claims,omitempty"`
}

type winnerLine struct {
	Owner  common.Address `json:"owner"`
	BetID  common.Hash    `json:"betId"`
	Payout string         `json:"payout"` // whole tokens
}

// ReconstructMode rebuilds a game offline from a JSON event log and prints
// its tickets, and the winning claims when the result is known.
func (a *App) ReconstructMode(ctx context.Context) error {
	if a.opts.EventsPath == "" {
		return errors.New("reconstruct mode: -events is required")
	}

	var in io.Reader = os.Stdin
	if a.opts.EventsPath != "-" {
		f, err := os.Open(a.opts.EventsPath)
		if err != nil {
			return fmt.Errorf("reconstruct mode: %w", err)
		}
		defer f.Close()
		in = f
	}

	x, err := chain.LoadExchange()
	if err != nil {
		return fmt.Errorf("reconstruct mode: %w", err)
	}
	events, err := gamelog.ParseJSON(in, x)
	if err != nil {
		return fmt.Errorf("reconstruct mode: %w", err)
	}
	ids := crypto.DefaultIDs()
	game, err := gamelog.Reconstruct(events, ids)
	if err != nil {
		return fmt.Errorf("reconstruct mode: %w", err)
	}

	number, err := a.resultFor(events, game.ID)
	if err != nil {
		return err
	}

	report := reconstructReport{Game: game}
	if number != nil {
		if err := gamelog.ApplyResult(game, number); err != nil {
			return fmt.Errorf("reconstruct mode: %w", err)
		}
		for _, t := range game.Winners() {
			report.Winners = append(report.Winners, winnerLine{
				Owner:  t.Owner,
				BetID:  t.BetID,
				Payout: notify.FormatAmount(t.Payout),
			})
		}
		for _, c := range gamelog.Claims(game, common.Address{}) {
			if err := gamelog.VerifyClaim(game.TicketsRoot, number, c, ids); err != nil {
				return fmt.Errorf("reconstruct mode: %w", err)
			}
			data, err := x.PackClaimBet(c)
			if err != nil {
				return fmt.Errorf("reconstruct mode: %w", err)
			}
			report.Claims = append(report.Claims, service.ClaimCall{Claim: c, Calldata: data})
		}
	}

	a.logger.InfoContext(ctx, "game reconstructed",
		slog.String("game_id", game.ID.Hex()),
		slog.Int("tickets", len(game.Tickets)),
		slog.String("root", game.TicketsRoot.Hex()),
		slog.Bool("resolved", number != nil),
	)

	enc := json.NewEncoder(a.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// resultFor returns the -random override, else the number carried by the
// log's result event, else nil.
func (a *App) resultFor(events []gamelog.Event, gameID common.Hash) (*big.Int, error) {
	if a.opts.RandomNumber != "" {
		n, ok := crypto.ParseInteger(a.opts.RandomNumber)
		if !ok {
			return nil, fmt.Errorf("reconstruct mode: -random %q is not an unsigned integer", a.opts.RandomNumber)
		}
		return n, nil
	}
	if r, ok := gamelog.FindResult(events, gameID); ok && r.Number != nil {
		return r.Number, nil
	}
	return nil, nil
}

func (a *App) component(name string) *slog.Logger {
	return a.base.With(slog.String("component", name))
}
