package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"

	"mailwatch/internal/config"
	"mailwatch/internal/logging"
	"mailwatch/internal/pipeline"
	"mailwatch/internal/protocol"
	"mailwatch/internal/transport"
	"mailwatch/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Log.Fatalf("Error reading configuration file: %v", err)
	}

	password, err := config.Password(&cfg.Server)
	if err != nil {
		logging.Log.Fatalf("Error obtaining password: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan protocol.ChangeEvent, 1)
	dispatcher := pipeline.NewDispatcher(events, pipeline.NewStages(cfg))

	sup := watcher.New(watcher.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Credentials:     protocol.Credentials{User: cfg.Server.Login, Password: password},
		Mailbox:         cfg.Server.Mailbox,
		PollTimeout:     cfg.Timing.PollTimeout,
		RenewInterval:   cfg.Timing.RenewInterval,
		BackoffBase:     cfg.Timing.BackoffBase,
		BackoffCap:      cfg.Timing.BackoffCap,
		MaxAuthFailures: cfg.Timing.MaxAuthFailures,
	}, transport.Dial, events)

	logging.Log.Infof("Starting mail watcher for %s on %s:%d", cfg.Server.Mailbox, cfg.Server.Host, cfg.Server.Port)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Loop(ctx)
	}()

	runErr := sup.Run(ctx)

	stop()
	wg.Wait()

	if runErr != nil {
		logging.Log.Fatalf("Watcher terminated: %v", runErr)
	}
	logging.Log.Info("Shutdown complete")
}
