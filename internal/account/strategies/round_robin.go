package strategies

import (
	"sync"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// RoundRobinStrategy rotates to the next available account on every request.
type RoundRobinStrategy struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobinStrategy creates a new RoundRobinStrategy
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Name returns the strategy's configuration name
func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

// Select advances the shared cursor, skipping unavailable accounts. Every
// account is checked at most twice per call: availability is lazily
// recovered inside IsAvailable, so the second sweep can observe accounts
// whose 429/quota hold expired during the first.
func (s *RoundRobinStrategy) Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(accounts) == 0 {
		return nil
	}
	if s.cursor >= len(accounts) {
		s.cursor = 0
	}

	start := (s.cursor + 1) % len(accounts)
	for i := 0; i < 2*len(accounts); i++ {
		idx := (start + i) % len(accounts)
		acc := accounts[idx]
		if acc.IsAvailable(retry429Interval) {
			s.cursor = idx
			utils.Debug("[RoundRobinStrategy] Using account: %s (%d/%d)", acc.Name, idx+1, len(accounts))
			return acc
		}
	}

	return nil
}

// ResetCursor resets the cursor position
func (s *RoundRobinStrategy) ResetCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}
