package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microlink/wabridge/config"
	"github.com/microlink/wabridge/internal/adminapi"
	"github.com/microlink/wabridge/internal/app"
	"github.com/microlink/wabridge/internal/messenger"
	"github.com/microlink/wabridge/internal/webserver"
	"go.uber.org/zap"
)

var (
	h        bool
	x        bool
	initdb   bool
	conffile string
)

func init() {
	flag.StringVar(&conffile, "c", "/etc/wabridge.yml", "config file")
	flag.BoolVar(&h, "h", false, "help usage")
	flag.BoolVar(&x, "x", false, "debug mode")
	flag.BoolVar(&initdb, "initdb", false, "drop and recreate database tables")
}

func printHelp() {
	if h {
		ustr := fmt.Sprintf("wabridge version: %s, Usage: wabridged -h\nOptions:", "latest")
		fmt.Fprintf(os.Stderr, "%s\n", ustr)
		flag.PrintDefaults()
		os.Exit(0)
	}
}

func main() {
	flag.Parse()
	printHelp()

	cfg, err := config.LoadConfig(conffile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if x {
		cfg.System.Debug = true
		cfg.Logger.Mode = "development"
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if initdb {
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory, err := messenger.NewWameowFactory(ctx, application.DB(), cfg.Database.Type)
	if err != nil {
		zap.S().Fatalf("init protocol factory: %v", err)
	}
	store := messenger.NewGormSessionStore(application.DB())
	svc, err := messenger.NewService(application.DB(), store, factory,
		application.Bus(), cfg.System.NodeId, cfg.Messenger)
	if err != nil {
		zap.S().Fatalf("init messenger service: %v", err)
	}

	// Crash-only recovery: reconcile persisted session state before serving.
	if err := svc.Restore(ctx); err != nil {
		zap.S().Errorf("session restore: %v", err)
	}

	if err := application.StartBackgroundJobs(ctx, svc); err != nil {
		zap.S().Fatalf("start background jobs: %v", err)
	}

	ws := webserver.Init(application)
	adminapi.Init(svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		zap.S().Errorf("webserver stopped: %v", err)
	case sig := <-sigCh:
		zap.S().Infof("received signal %s, shutting down", sig)
	}

	cancel()
	svc.Shutdown()
}
