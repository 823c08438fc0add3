package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// Strategy picks the next eligible account. Implementations live in the
// strategies subpackage; the manager only depends on this interface.
type Strategy interface {
	Select(accounts []*Account, retry429Interval time.Duration) *Account
	Name() string
}

// NoAccountsError indicates no account could serve the request
type NoAccountsError struct {
	Message        string
	AllRateLimited bool
}

func (e *NoAccountsError) Error() string {
	return e.Message
}

// NotInitializedError indicates the manager was used before Initialize
type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "account manager not initialized"
}

// Manager owns the account pool: load, selection, status marks, and
// persistence of durable state changes.
type Manager struct {
	mu          sync.RWMutex
	accounts    []*Account
	store       Store
	strategy    Strategy
	autoSave    bool
	retry429    time.Duration
	initialized bool
}

// NewManager creates a manager over the given store and strategy.
// retry429Interval is in minutes.
func NewManager(store Store, strategy Strategy, retry429IntervalMinutes int, autoSave bool) *Manager {
	return &Manager{
		store:    store,
		strategy: strategy,
		autoSave: autoSave,
		retry429: time.Duration(retry429IntervalMinutes) * time.Minute,
	}
}

// Initialize loads the pool from the store
func (m *Manager) Initialize() error {
	accounts, err := m.store.LoadAll()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.accounts = accounts
	m.initialized = true
	m.mu.Unlock()

	utils.Info("[AccountManager] Loaded %d account(s), strategy: %s", len(accounts), m.strategy.Name())
	return nil
}

// Reload re-reads the store and rebuilds the pool
func (m *Manager) Reload() error {
	return m.Initialize()
}

// SetStrategy swaps the selection strategy
func (m *Manager) SetStrategy(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
}

// Retry429Interval returns the configured 429 hold time
func (m *Manager) Retry429Interval() time.Duration {
	return m.retry429
}

// SelectAccount picks the next eligible account under the pool lock
func (m *Manager) SelectAccount() (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, &NotInitializedError{}
	}
	if len(m.accounts) == 0 {
		return nil, &NoAccountsError{Message: "no accounts configured"}
	}

	acc := m.strategy.Select(m.accounts, m.retry429)
	if acc == nil {
		allRateLimited := true
		for _, a := range m.accounts {
			if a.Enabled && a.StatusCode != StatusRateLimited {
				allRateLimited = false
				break
			}
		}
		return nil, &NoAccountsError{
			Message:        "no available accounts",
			AllRateLimited: allRateLimited,
		}
	}

	return acc, nil
}

// Accounts returns a copy of the pool slice
func (m *Manager) Accounts() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// Get returns the account with the given name, or nil
func (m *Manager) Get(name string) *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Count returns the pool size
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// AvailableCount returns the number of currently available accounts
func (m *Manager) AvailableCount() int {
	m.mu.RLock()
	accounts := make([]*Account, len(m.accounts))
	copy(accounts, m.accounts)
	m.mu.RUnlock()

	n := 0
	for _, a := range accounts {
		if a.IsAvailable(m.retry429) {
			n++
		}
	}
	return n
}

// MarkBlocked records a 403 and persists the account
func (m *Manager) MarkBlocked(a *Account) {
	a.MarkBlocked()
	utils.Warn("[AccountManager] Account %s blocked (403)", a.Name)
	m.persist(a)
}

// MarkRateLimited records a 429 and persists the account
func (m *Manager) MarkRateLimited(a *Account) {
	a.MarkRateLimited()
	utils.Warn("[AccountManager] Account %s rate-limited (429), retry after %s", a.Name, m.retry429)
	m.persist(a)
}

// MarkQuotaExhausted records quota exhaustion and persists the account
func (m *Manager) MarkQuotaExhausted(a *Account) {
	a.MarkQuotaExhausted()
	utils.Warn("[AccountManager] Account %s quota exhausted, resets %s", a.Name, a.QuotaResetDate.Format(time.RFC3339))
	m.persist(a)
}

// Persist writes the account's durable fields through the store
func (m *Manager) Persist(a *Account) {
	m.persist(a)
}

// persist writes the durable subset; a failure is logged and does not
// roll back the in-memory state.
func (m *Manager) persist(a *Account) {
	if !m.autoSave {
		return
	}
	if err := m.store.Save(a); err != nil {
		utils.Error("[AccountManager] Failed to persist account %s: %v", a.Name, err)
	}
}

// Add appends one account and persists it. Duplicate names are rejected.
func (m *Manager) Add(name, refreshToken string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Name == name {
			return nil, fmt.Errorf("account %q already exists", name)
		}
	}

	acc := New(name, refreshToken)
	if err := m.store.Save(acc); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}
	m.accounts = append(m.accounts, acc)
	utils.Success("[AccountManager] Added account %s (%d total)", name, len(m.accounts))
	return acc, nil
}

// Remove deletes one account from memory and the store
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.accounts {
		if a.Name == name {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return m.store.Delete(name)
		}
	}
	return fmt.Errorf("account %q not found", name)
}

// DeleteBlocked removes every 403-marked account from memory and the
// store, returning the removed names.
func (m *Manager) DeleteBlocked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	kept := m.accounts[:0]
	for _, a := range m.accounts {
		if a.StatusCode == StatusBlocked {
			if err := m.store.Delete(a.Name); err != nil {
				utils.Error("[AccountManager] Failed to delete account file %s: %v", a.Name, err)
			}
			removed = append(removed, a.Name)
			continue
		}
		kept = append(kept, a)
	}
	m.accounts = kept

	if len(removed) > 0 {
		utils.Info("[AccountManager] Removed %d blocked account(s): %v", len(removed), removed)
	}
	return removed
}

// Snapshots returns the secret-free view of every account
func (m *Manager) Snapshots() []Snapshot {
	accounts := m.Accounts()
	out := make([]Snapshot, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ToSnapshot(m.retry429))
	}
	return out
}
