// Package strategies provides account selection strategies for the pool.
package strategies

import (
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// Strategy names
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyLeastUsed  = "least_used"
	StrategyQuotaAware = "quota_aware"
)

// StrategyLabels maps strategy names to display labels
var StrategyLabels = map[string]string{
	StrategyRoundRobin: "Round-Robin (Load-Balanced)",
	StrategyRandom:     "Random (Uniform)",
	StrategyLeastUsed:  "Least-Used (Request Count)",
	StrategyQuotaAware: "Quota-Aware (Remaining Quota)",
}

// Strategy picks the next eligible account. Select is called with the
// pool lock held, so implementations see a coherent availability snapshot.
type Strategy interface {
	// Select returns an available account or nil when none qualifies
	Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account

	// Name returns the strategy's configuration name
	Name() string
}

// NewStrategy creates a strategy instance by name, defaulting to round-robin
func NewStrategy(name string) Strategy {
	switch name {
	case StrategyRoundRobin, "roundrobin", "":
		return NewRoundRobinStrategy()
	case StrategyRandom:
		return NewRandomStrategy()
	case StrategyLeastUsed:
		return NewLeastUsedStrategy()
	case StrategyQuotaAware:
		return NewQuotaAwareStrategy()
	default:
		utils.Warn("[Strategy] Unknown strategy %q, falling back to %s", name, StrategyRoundRobin)
		return NewRoundRobinStrategy()
	}
}

// IsValidStrategy checks if a strategy name is valid
func IsValidStrategy(name string) bool {
	switch name {
	case StrategyRoundRobin, "roundrobin", StrategyRandom, StrategyLeastUsed, StrategyQuotaAware:
		return true
	default:
		return false
	}
}

// GetStrategyLabel returns the display label for a strategy
func GetStrategyLabel(name string) string {
	if name == "roundrobin" {
		name = StrategyRoundRobin
	}
	if label, ok := StrategyLabels[name]; ok {
		return label
	}
	return StrategyLabels[StrategyRoundRobin]
}
