package strategies

import (
	"testing"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
)

const interval = 10 * time.Minute

func pool(names ...string) []*account.Account {
	accounts := make([]*account.Account, 0, len(names))
	for _, name := range names {
		accounts = append(accounts, account.New(name, "rt-"+name))
	}
	return accounts
}

func TestRoundRobinRotates(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := pool("a", "b", "c")

	want := []string{"b", "c", "a", "b", "c", "a"}
	for i, name := range want {
		acc := s.Select(accounts, interval)
		if acc == nil || acc.Name != name {
			t.Fatalf("pick %d: got %v, want %s", i, acc, name)
		}
	}
}

func TestRoundRobinFairness(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := pool("a", "b", "c")

	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		acc := s.Select(accounts, interval)
		if acc == nil {
			t.Fatal("unexpected nil pick")
		}
		counts[acc.Name]++
	}
	for name, n := range counts {
		if n != 100 {
			t.Fatalf("account %s picked %d times, want 100", name, n)
		}
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := pool("a", "b", "c")
	accounts[1].MarkBlocked()

	for i := 0; i < 10; i++ {
		acc := s.Select(accounts, interval)
		if acc == nil {
			t.Fatal("unexpected nil pick")
		}
		if acc.Name == "b" {
			t.Fatal("blocked account was selected")
		}
	}
}

func TestRoundRobinExhaustedPool(t *testing.T) {
	s := NewRoundRobinStrategy()
	accounts := pool("a", "b")
	accounts[0].MarkBlocked()
	accounts[1].MarkBlocked()

	if acc := s.Select(accounts, interval); acc != nil {
		t.Fatalf("expected nil from fully blocked pool, got %s", acc.Name)
	}
}

func TestRandomPicksOnlyAvailable(t *testing.T) {
	s := NewRandomStrategy()
	accounts := pool("a", "b", "c")
	accounts[0].MarkBlocked()
	accounts[2].MarkBlocked()

	for i := 0; i < 50; i++ {
		acc := s.Select(accounts, interval)
		if acc == nil || acc.Name != "b" {
			t.Fatalf("got %v, want b", acc)
		}
	}
}

func TestLeastUsedPrefersColdAccount(t *testing.T) {
	s := NewLeastUsedStrategy()
	accounts := pool("a", "b", "c")
	accounts[0].RequestCount = 5
	accounts[1].RequestCount = 1
	accounts[2].RequestCount = 3

	if acc := s.Select(accounts, interval); acc.Name != "b" {
		t.Fatalf("got %s, want b", acc.Name)
	}
}

func TestQuotaAwarePrefersMostRemaining(t *testing.T) {
	s := NewQuotaAwareStrategy()
	accounts := pool("a", "b", "c")
	accounts[0].SetQuota(100, 90) // 10 left
	accounts[1].SetQuota(100, 20) // 80 left
	accounts[2].SetQuota(100, 50) // 50 left

	if acc := s.Select(accounts, interval); acc.Name != "b" {
		t.Fatalf("got %s, want b", acc.Name)
	}
}

func TestQuotaAwareUnknownQuotaNotStarved(t *testing.T) {
	s := NewQuotaAwareStrategy()
	accounts := pool("limited", "unknown")
	accounts[0].SetQuota(100, 10)

	if acc := s.Select(accounts, interval); acc.Name != "unknown" {
		t.Fatalf("got %s, want unknown (no quota info counts as plenty)", acc.Name)
	}
}

func TestNewStrategyFactory(t *testing.T) {
	cases := map[string]string{
		"round_robin": StrategyRoundRobin,
		"random":      StrategyRandom,
		"least_used":  StrategyLeastUsed,
		"quota_aware": StrategyQuotaAware,
		"":            StrategyRoundRobin,
		"bogus":       StrategyRoundRobin,
	}
	for in, want := range cases {
		if got := NewStrategy(in).Name(); got != want {
			t.Errorf("NewStrategy(%q).Name() = %q, want %q", in, got, want)
		}
	}
}

func TestIsValidStrategy(t *testing.T) {
	for _, name := range []string{StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyQuotaAware} {
		if !IsValidStrategy(name) {
			t.Errorf("IsValidStrategy(%q) = false", name)
		}
	}
	if IsValidStrategy("sticky") {
		t.Error("unknown strategy reported valid")
	}
}
