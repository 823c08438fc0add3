// Package main provides the Warp proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/account/strategies"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/dispatcher"
	"github.com/poemonsense/warp-proxy-go/internal/server"
	"github.com/poemonsense/warp-proxy-go/internal/stats"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

const version = "1.0.0"

func main() {
	var (
		debugMode    bool
		strategyName string
		port         int
		host         string
		settingsPath string
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	flag.StringVar(&strategyName, "strategy", "", "Account selection strategy (round_robin/random/least_used/quota_aware)")
	flag.IntVar(&port, "port", 0, "Server port (default: 9980)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.StringVar(&settingsPath, "config", "", "Settings file path")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" {
		debugMode = true
	}
	utils.SetDebug(debugMode)

	cfg, err := config.Load(settingsPath)
	if err != nil {
		utils.Error("[Startup] Failed to load settings: %v", err)
		os.Exit(1)
	}

	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			fmt.Sscanf(envPort, "%d", &port)
		}
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if host == "" {
		host = os.Getenv("HOST")
	}
	if host != "" {
		cfg.Server.Host = host
	}

	if strategyName != "" {
		if !strategies.IsValidStrategy(strategyName) {
			utils.Warn("[Startup] Invalid strategy %q, using %q from settings", strategyName, cfg.AccountStrategy)
		} else {
			cfg.AccountStrategy = strategyName
		}
	}

	utils.Header(fmt.Sprintf("Warp Proxy v%s", version))

	store, err := openStore(cfg)
	if err != nil {
		utils.Error("[Startup] Failed to open account store: %v", err)
		os.Exit(1)
	}

	strategy := strategies.NewStrategy(cfg.AccountStrategy)
	utils.Info("[Startup] Account strategy: %s", strategies.GetStrategyLabel(strategy.Name()))

	manager := account.NewManager(store, strategy, cfg.Retry429Interval, cfg.AutoSaveTokens)
	if err := manager.Initialize(); err != nil {
		utils.Error("[Startup] Failed to load accounts: %v", err)
		os.Exit(1)
	}
	utils.Success("[Startup] Loaded %d account(s), %d available", manager.Count(), manager.AvailableCount())

	client := warp.NewClient(cfg.InsecureTLS)
	client.SetPersistSink(manager)

	recorder, err := stats.Open(cfg.Stats.Database)
	if err != nil {
		utils.Warn("[Startup] Stats disabled: %v", err)
		recorder = nil
	}

	if cfg.ShowLoginInfo {
		warmUpAccounts(client, manager)
	}

	d := dispatcher.New(manager, client, cfg, recorder)
	srv := server.New(cfg, manager, client, d, recorder, server.Options{Debug: debugMode})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: chat streams stay open for minutes.
	}

	go func() {
		utils.Success("[Server] Listening on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("[Server] Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Warn("[Server] Forced shutdown: %v", err)
	}
	if recorder != nil {
		recorder.Close()
	}
	utils.Info("[Server] Bye")
}

// openStore builds the configured account store backend
func openStore(cfg *config.Config) (account.Store, error) {
	if cfg.AccountStore == "redis" {
		return account.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}
	return account.NewFileStore(cfg.AccountsDir)
}

// warmUpAccounts refreshes every account serially at startup and prints
// its identity and quota, so misconfigured tokens surface immediately.
func warmUpAccounts(client *warp.Client, manager *account.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	refreshed := client.RefreshAll(ctx, manager.Accounts(), func(acc *account.Account, err error) {
		if ue, ok := warp.AsUpstreamError(err); ok {
			switch {
			case ue.IsQuotaExhausted():
				manager.MarkQuotaExhausted(acc)
			case ue.IsBlocked():
				manager.MarkBlocked(acc)
			case ue.IsRateLimited():
				manager.MarkRateLimited(acc)
			}
		}
	})
	utils.Info("[Startup] Refreshed %d account token(s)", refreshed)

	for _, acc := range manager.Accounts() {
		if !acc.TokenValid(0) {
			continue
		}
		if err := client.Login(ctx, acc); err != nil {
			utils.Warn("[Startup] Login failed for %s: %v", acc.Name, err)
			continue
		}
		if _, err := client.FetchRequestLimitInfo(ctx, acc); err != nil {
			utils.Warn("[Startup] Usage query failed for %s: %v", acc.Name, err)
		}
		manager.Persist(acc)
	}
}
