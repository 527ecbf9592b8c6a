package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"futures_go/internal/app"
	"futures_go/internal/engine"
	"futures_go/pkg/money"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Clearing Session
	cfg := bootstrap.Config
	sim := cfg.Simulation
	session, err := engine.NewSession(bootstrap.Store, bootstrap.Logger, bootstrap.Metrics, engine.Config{
		MarginRate:    money.FromPercent(sim.MarginRatePct),
		PriceLimit:    money.FromPercent(sim.PriceLimitPct),
		DeliveryRound: sim.DeliveryRound,
		TurnsPerRound: sim.TurnsPerRound,
		InitPrice:     sim.InitPrice,
		InitSpotPrice: sim.InitSpotPrice,
		Inventory:     sim.Inventory,
		ReserveFunds:  sim.ReserveFunds,
	})
	if err != nil {
		slog.Error("Failed to create session", slog.Any("error", err))
		os.Exit(1)
	}

	// Fresh database: create the contract and every configured account.
	if !session.Initialized() {
		seeds := make([]engine.AccountSeed, 0, len(cfg.Accounts))
		for _, a := range cfg.Accounts {
			seeds = append(seeds, engine.AccountSeed{
				Name:    a.Name,
				Kind:    a.Kind,
				Capital: a.Capital,
				Profile: a.Profile,
			})
		}
		if err := session.Init(ctx, seeds); err != nil {
			slog.Error("Failed to initialize session", slog.Any("error", err))
			os.Exit(1)
		}
	}

	snapshot, err := session.MarketSnapshot(ctx)
	if err != nil {
		slog.Error("Failed to read market snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	slog.InfoContext(ctx, "Clearing core ready",
		slog.Int("round", session.Round()),
		slog.String("settlement_price", snapshot.SettlementPrice.String()),
		slog.String("inventory", snapshot.Inventory.String()))

	// The round/turn driver lives outside this binary; it feeds intents
	// through engine.Session. Nothing else to do here.
	metrics := bootstrap.Metrics.Snapshot()
	slog.InfoContext(ctx, "Session state",
		slog.Uint64("orders_admitted", metrics.OrdersAdmitted),
		slog.Uint64("deals_matched", metrics.DealsMatched),
		slog.Uint64("rounds_settled", metrics.RoundsSettled))
}
