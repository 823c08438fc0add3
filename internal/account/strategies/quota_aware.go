package strategies

import (
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
)

// QuotaAwareStrategy prefers the account with the most remaining quota.
type QuotaAwareStrategy struct{}

// NewQuotaAwareStrategy creates a new QuotaAwareStrategy
func NewQuotaAwareStrategy() *QuotaAwareStrategy {
	return &QuotaAwareStrategy{}
}

// Name returns the strategy's configuration name
func (s *QuotaAwareStrategy) Name() string { return StrategyQuotaAware }

// Select returns the available account maximizing remaining quota.
// Ties keep the earliest account in pool order.
func (s *QuotaAwareStrategy) Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account {
	var best *account.Account
	var bestRemaining int64 = -1
	for _, acc := range accounts {
		if !acc.IsAvailable(retry429Interval) {
			continue
		}
		if remaining := acc.QuotaRemaining(); remaining > bestRemaining {
			best = acc
			bestRemaining = remaining
		}
	}
	return best
}
