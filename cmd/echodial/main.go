package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/echodial/echodial/pkg/agent"
	"github.com/echodial/echodial/pkg/carrier"
	"github.com/echodial/echodial/pkg/config"
	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/memory"
	"github.com/echodial/echodial/pkg/numberpool"
	"github.com/echodial/echodial/pkg/providers"
	"github.com/echodial/echodial/pkg/queue"
	"github.com/echodial/echodial/pkg/relay"
	"github.com/echodial/echodial/pkg/session"
	"github.com/echodial/echodial/pkg/status"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.RotationEnabled, cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.FatalCF("main", "Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	convProvider, err := providers.CreateProviderForModel(cfg, cfg.Agent.Model)
	if err != nil {
		logger.FatalCF("main", "Conversation provider unavailable", map[string]interface{}{"error": err.Error()})
	}
	extractionProvider, err := providers.CreateProviderForModel(cfg, cfg.Agent.ExtractionModel)
	if err != nil {
		logger.WarnCF("main", "Extraction provider unavailable, reusing conversation provider", map[string]interface{}{
			"error": err.Error(),
		})
		extractionProvider = convProvider
	}

	pool := numberpool.New(cfg.Carrier.Numbers)
	registry := session.NewRegistry()
	reconciler := status.NewReconciler()
	responder := agent.New(convProvider, cfg.Agent.Model, cfg.Agent.MaxTokens, cfg.Agent.Temperature)
	extractor := memory.NewExtractor(extractionProvider, cfg.Agent.ExtractionModel)
	dialer := carrier.NewRESTDialer(cfg.Carrier.AccountSid, cfg.Carrier.AuthToken, cfg.Carrier.APIBase)

	store := queue.NewStore(cfg.DataDirPath())
	worker := queue.NewWorker(store, pool, registry, dialer, extractor, queue.Options{
		Workers:            cfg.Queue.Workers,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffBase:        time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		SetupTimeout:       time.Duration(cfg.Queue.SetupTimeoutSeconds) * time.Second,
		CallTimeout:        time.Duration(cfg.Queue.CallTimeoutSeconds) * time.Second,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
		MaintenanceCron:    cfg.Queue.MaintenanceCron,
		RelayURL:           cfg.Carrier.RelayURL,
		StatusCallbackURL:  cfg.Carrier.StatusCallbackURL,
	})

	relayServer := relay.NewServer(registry, pool, responder, time.Duration(cfg.Queue.SetupTimeoutSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", relayServer.HandleRelay)
	mux.Handle("/status", status.NewCallbackHandler(reconciler))
	callsHandler := queue.NewHandler(worker, store)
	mux.Handle("/calls", callsHandler)
	mux.Handle("/calls/", callsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.InfoCF("main", "EchoDial listening", map[string]interface{}{
			"addr": addr, "numbers": pool.Size(), "workers": cfg.Queue.Workers,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCF("main", "HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	worker.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	logger.InfoC("main", "EchoDial stopped")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".echodial", "config.json")
}
