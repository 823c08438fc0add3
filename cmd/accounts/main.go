// Package main provides the account pool management CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/account/strategies"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: accounts <command> [arguments]

Commands:
  list                       Show all accounts and their status
  add <name> <refresh_token> Add an account to the pool
  remove <name>              Remove an account from the pool
  refresh [name]             Refresh tokens (all accounts, or one)

Flags:
  -config <path>             Settings file path`)
	os.Exit(2)
}

func main() {
	settingsPath := flag.String("config", "", "Settings file path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		fatal("load settings: %v", err)
	}

	manager, err := openManager(cfg)
	if err != nil {
		fatal("open account store: %v", err)
	}

	switch args[0] {
	case "list":
		cmdList(manager)
	case "add":
		if len(args) != 3 {
			usage()
		}
		cmdAdd(manager, args[1], args[2])
	case "remove":
		if len(args) != 2 {
			usage()
		}
		cmdRemove(manager, args[1])
	case "refresh":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		cmdRefresh(cfg, manager, name)
	default:
		usage()
	}
}

func openManager(cfg *config.Config) (*account.Manager, error) {
	var store account.Store
	var err error
	if cfg.AccountStore == "redis" {
		store, err = account.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	} else {
		store, err = account.NewFileStore(cfg.AccountsDir)
	}
	if err != nil {
		return nil, err
	}

	manager := account.NewManager(store, strategies.NewStrategy(cfg.AccountStrategy), cfg.Retry429Interval, cfg.AutoSaveTokens)
	if err := manager.Initialize(); err != nil {
		return nil, err
	}
	return manager, nil
}

func cmdList(manager *account.Manager) {
	snapshots := manager.Snapshots()
	if len(snapshots) == 0 {
		fmt.Println("No accounts configured")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEMAIL\tENABLED\tAVAILABLE\tSTATUS\tREQUESTS\tQUOTA")
	for _, s := range snapshots {
		quota := fmt.Sprintf("%d", s.QuotaUsed)
		if s.QuotaLimit > 0 {
			quota = fmt.Sprintf("%d/%d", s.QuotaUsed, s.QuotaLimit)
		}
		status := s.StatusCode
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\t%d\t%s\n",
			s.Name, s.Email, s.Enabled, s.Available, status, s.RequestCount, quota)
	}
	w.Flush()
}

func cmdAdd(manager *account.Manager, name, refreshToken string) {
	acc, err := manager.Add(name, refreshToken)
	if err != nil {
		fatal("add account: %v", err)
	}
	fmt.Printf("Added account %s\n", acc.Name)
}

func cmdRemove(manager *account.Manager, name string) {
	if err := manager.Remove(name); err != nil {
		fatal("remove account: %v", err)
	}
	fmt.Printf("Removed account %s\n", name)
}

func cmdRefresh(cfg *config.Config, manager *account.Manager, name string) {
	client := warp.NewClient(cfg.InsecureTLS)
	client.SetPersistSink(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	accounts := manager.Accounts()
	if name != "" {
		acc := manager.Get(name)
		if acc == nil {
			fatal("unknown account %q", name)
		}
		accounts = []*account.Account{acc}
	}

	for _, acc := range accounts {
		if err := client.RefreshToken(ctx, acc); err != nil {
			utils.Warn("Refresh failed for %s: %v", acc.Name, err)
			continue
		}
		if info, err := client.FetchRequestLimitInfo(ctx, acc); err == nil && !info.IsUnlimited {
			fmt.Printf("%s: %s, %d/%d requests used\n", acc.Name, acc.Email, info.RequestsUsedSinceLastRefresh, info.RequestLimit)
		} else {
			fmt.Printf("%s: %s\n", acc.Name, acc.Email)
		}
		manager.Persist(acc)
		if len(accounts) > 1 {
			time.Sleep(warp.RefreshDelay)
		}
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "accounts: "+format+"\n", args...)
	os.Exit(1)
}
