package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/agentworkforce/geoqueue/internal/config"
	"github.com/agentworkforce/geoqueue/internal/featurehttp"
	"github.com/agentworkforce/geoqueue/internal/geoqueue"
	"github.com/agentworkforce/geoqueue/internal/httpapi"
)

func main() {
	configPath := flag.String("config", os.Getenv("GEOQUEUE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	store, err := geoqueue.BuildRecordStoreFromDSN(cfg.Store.DSN)
	if err != nil {
		logger.Error("initialize record store", "dsn", cfg.Store.DSN, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = geoqueue.CloseRecordStore(store)
	}()

	monitor, closeMonitor, err := buildMonitor(cfg, logger)
	if err != nil {
		logger.Error("initialize connectivity monitor", "mode", cfg.Connectivity.Mode, "error", err)
		os.Exit(1)
	}
	defer closeMonitor()

	features := featurehttp.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, nil)
	bus := geoqueue.NewBus()
	queue := geoqueue.NewPendingQueue(store, bus, logger)
	outcomes := geoqueue.NewOutcomeIndex(store, bus)
	engine := geoqueue.NewSyncEngine(geoqueue.EngineOptions{
		Queue:          queue,
		Outcomes:       outcomes,
		Features:       features,
		Monitor:        monitor,
		Bus:            bus,
		Logger:         logger,
		StrictOutcomes: cfg.Engine.StrictOutcomes,
	})
	defer engine.Close()

	// Mutations may be waiting from a previous run; arm immediately so
	// the first up-transition replays them.
	engine.Arm()

	admission := geoqueue.NewAdmissionController(geoqueue.AdmissionOptions{
		Store:    store,
		Queue:    queue,
		Engine:   engine,
		Features: features,
		Monitor:  monitor,
		Logger:   logger,
		BudgetMB: cfg.Store.BudgetMB,
	})

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Admission: admission,
		Queue:     queue,
		Outcomes:  outcomes,
		Engine:    engine,
		Monitor:   monitor,
		Bus:       bus,
		Logger:    logger,
		AuthToken: cfg.Listen.AuthToken,
	})
	if err != nil {
		logger.Error("initialize http server", "error", err)
		os.Exit(1)
	}

	logger.Info("geoqueue listening",
		"addr", cfg.Listen.Addr, "store", cfg.Store.DSN,
		"budgetMb", cfg.Store.BudgetMB, "connectivity", cfg.Connectivity.Mode)
	if err := http.ListenAndServe(cfg.Listen.Addr, server); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildMonitor(cfg config.Config, logger *slog.Logger) (geoqueue.ConnectivityMonitor, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Connectivity.Mode)) {
	case "manual":
		return geoqueue.NewManualMonitor(false), func() {}, nil
	case "file":
		monitor, err := geoqueue.NewFileMonitor(cfg.Connectivity.MarkerPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return monitor, func() { _ = monitor.Close() }, nil
	default:
		monitor := geoqueue.NewProbeMonitor(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval, nil, logger)
		return monitor, func() { _ = monitor.Close() }, nil
	}
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
