package strategies

import (
	"math/rand"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
)

// RandomStrategy picks uniformly over the available subset.
type RandomStrategy struct{}

// NewRandomStrategy creates a new RandomStrategy
func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{}
}

// Name returns the strategy's configuration name
func (s *RandomStrategy) Name() string { return StrategyRandom }

// Select returns a uniformly random available account
func (s *RandomStrategy) Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account {
	available := make([]*account.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc.IsAvailable(retry429Interval) {
			available = append(available, acc)
		}
	}
	if len(available) == 0 {
		return nil
	}
	return available[rand.Intn(len(available))]
}
