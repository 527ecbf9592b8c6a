package app

import (
	"log/slog"

	"futures_go/internal/infra"
	"futures_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Store   *storage.Store
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("Bootstrapping clearing core...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.Logger = logger

	// 3. Initialize Storage (DB)
	store, err := storage.Open(cfg.Simulation.DBPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("Database initialized", slog.String("path", cfg.Simulation.DBPath))

	// 4. Metrics
	b.Metrics = &infra.Metrics{}

	return nil
}
