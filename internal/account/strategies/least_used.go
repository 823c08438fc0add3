package strategies

import (
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
)

// LeastUsedStrategy prefers the account with the lowest request count.
type LeastUsedStrategy struct{}

// NewLeastUsedStrategy creates a new LeastUsedStrategy
func NewLeastUsedStrategy() *LeastUsedStrategy {
	return &LeastUsedStrategy{}
}

// Name returns the strategy's configuration name
func (s *LeastUsedStrategy) Name() string { return StrategyLeastUsed }

// Select returns the available account with the fewest requests so far.
// Ties keep the earliest account in pool order.
func (s *LeastUsedStrategy) Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account {
	var best *account.Account
	for _, acc := range accounts {
		if !acc.IsAvailable(retry429Interval) {
			continue
		}
		if best == nil || acc.RequestCount < best.RequestCount {
			best = acc
		}
	}
	return best
}
