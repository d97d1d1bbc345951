package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wifi_provisioner/internal/backend"
	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/ble/bluez"
	"wifi_provisioner/internal/config"
	"wifi_provisioner/internal/confirm"
	"wifi_provisioner/internal/handlers"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/repository"
	"wifi_provisioner/internal/repository/db"
	"wifi_provisioner/internal/server"
	"wifi_provisioner/internal/service"
	"wifi_provisioner/internal/tracer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load("config", "configs", ".")
	if err != nil {
		logger.Get(logger.InfoLevel, logger.ConsoleFormat).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalw("failed to init tracing", "err", err)
	}

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	radio, err := bluez.New(cfg.BLE.Adapter, cfg.BLE.ConnectTimeout, log)
	if err != nil {
		log.Fatalw("failed to open bluetooth adapter", "adapter", cfg.BLE.Adapter, "err", err)
	}
	defer func() { _ = radio.Close() }()

	client := newBackendClient(ctx, cfg, log)

	var perms ble.Permissions = radio
	if cfg.BLE.SkipPreflight {
		perms = ble.SkipPreflight
	}
	scanner := ble.NewScanner(radio, perms, log)
	channel := ble.NewChannel(scanner, radio, ble.ChannelOptions{
		ScanTimeout:     cfg.BLE.ScanTimeout,
		NotifyTimeout:   cfg.BLE.NotifyTimeout,
		DiscoverTimeout: cfg.BLE.DiscoverTimeout,
		GATTTimeout:     cfg.BLE.GATTTimeout,
		NegotiateLink:   cfg.BLE.NegotiateLink,
		MTU:             cfg.BLE.MTU,
	}, log)
	arbiter := confirm.NewArbiter(client, confirm.Options{
		PollInterval:       cfg.Confirm.PollInterval,
		PollDeadline:       cfg.Confirm.PollDeadline,
		CredentialKeywords: cfg.Confirm.CredentialKeywords,
		WifiFailureMessage: cfg.Confirm.WifiFailureMessage,
	}, log)

	repos := repository.NewRepository(sqlDB)
	services := service.NewService(repos, service.Radio{
		Channel:  channel,
		Probe:    scanner,
		Confirm:  arbiter,
		Resolver: client,
	}, cfg, log)
	apiHandler := handlers.NewHandler(services, log)

	go func() {
		if err := services.Retention.Run(ctx); err != nil {
			log.Errorw("retention_stopped", "err", err)
		}
	}()

	srv := server.New(cfg.Port, apiHandler.InitRoutes(), cfg.WriteTimeout)
	runHTTPServer(srv, log)
	log.Infow("gateway_started", "port", cfg.Port, "adapter", cfg.BLE.Adapter, "backend", client.BaseURL())

	waitForShutdown(cancel, srv, shutdownTracing, log)
}

// newBackendClient uses the configured base URL, or finds the backend over
// mDNS when none is set.
func newBackendClient(ctx context.Context, cfg *config.Config, log *logger.Logger) *backend.Client {
	base := cfg.Backend.BaseURL
	if base == "" {
		found, err := backend.Discover(ctx, cfg.Backend.MDNSService, cfg.Backend.MDNSTimeout)
		if err != nil {
			if errors.Is(err, backend.ErrNotDiscovered) {
				log.Fatalw("backend.base_url not set and no backend announced over mdns", "service", cfg.Backend.MDNSService)
			}
			log.Fatalw("backend discovery failed", "err", err)
		}
		log.Infow("backend_discovered", "base_url", found)
		base = found
	}
	return backend.NewClient(base, cfg.Backend, log)
}

func runHTTPServer(srv *server.Server, log *logger.Logger) {
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown blocks until SIGINT/SIGTERM and then stops everything.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, shutdownTracing func(context.Context) error, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Errorw("tracer shutdown failed", "err", err)
	}
}
