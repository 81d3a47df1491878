package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmarket/config"
	"nftmarket/core"
	"nftmarket/observability/logging"
	"nftmarket/rpc"
	"nftmarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	logger := logging.Setup("marketd", os.Getenv("MARKET_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	var db storage.Database
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, using in-memory storage")
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
			os.Exit(1)
		}
	}
	defer db.Close()

	node, err := core.NewNode(db, cfg, logger)
	if err != nil {
		logger.Error("failed to start node", "err", err)
		os.Exit(1)
	}

	server := rpc.NewServer(node, cfg.RPCToken, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("rpc listening", "addr", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	logger.Info("shutdown complete")
}
