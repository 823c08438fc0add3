package account

import (
	"errors"
	"testing"
	"time"
)

// firstAvailable is a minimal deterministic strategy for manager tests
type firstAvailable struct{}

func (firstAvailable) Name() string { return "first_available" }

func (firstAvailable) Select(accounts []*Account, retry429Interval time.Duration) *Account {
	for _, acc := range accounts {
		if acc.IsAvailable(retry429Interval) {
			return acc
		}
	}
	return nil
}

func newTestManager(t *testing.T, names ...string) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := store.Save(New(name, "rt-"+name)); err != nil {
			t.Fatal(err)
		}
	}
	m := NewManager(store, firstAvailable{}, 10, true)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSelectBeforeInitialize(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, firstAvailable{}, 10, true)

	_, err = m.SelectAccount()
	var notInit *NotInitializedError
	if !errors.As(err, &notInit) {
		t.Fatalf("expected NotInitializedError, got %v", err)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	m := newTestManager(t)

	_, err := m.SelectAccount()
	var noAccounts *NoAccountsError
	if !errors.As(err, &noAccounts) {
		t.Fatalf("expected NoAccountsError, got %v", err)
	}
	if noAccounts.AllRateLimited {
		t.Fatal("empty pool is not an all-rate-limited condition")
	}
}

func TestSelectAllRateLimited(t *testing.T) {
	m := newTestManager(t, "alice", "bob")
	for _, acc := range m.Accounts() {
		m.MarkRateLimited(acc)
	}

	_, err := m.SelectAccount()
	var noAccounts *NoAccountsError
	if !errors.As(err, &noAccounts) {
		t.Fatalf("expected NoAccountsError, got %v", err)
	}
	if !noAccounts.AllRateLimited {
		t.Fatal("AllRateLimited should be set when every account is held on 429")
	}
}

func TestSelectSkipsMarkedAccounts(t *testing.T) {
	m := newTestManager(t, "alice", "bob")
	m.MarkBlocked(m.Get("alice"))

	acc, err := m.SelectAccount()
	if err != nil {
		t.Fatal(err)
	}
	if acc.Name != "bob" {
		t.Fatalf("selected %s, want bob", acc.Name)
	}
}

func TestMarkPersistsStatus(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(New("alice", "rt-alice")); err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, firstAvailable{}, 10, true)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}

	m.MarkBlocked(m.Get("alice"))

	reloaded, err := store.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded[0].StatusCode != StatusBlocked {
		t.Fatalf("persisted status = %q, want %q", reloaded[0].StatusCode, StatusBlocked)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	m := newTestManager(t, "alice")

	if _, err := m.Add("alice", "rt-other"); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
	if _, err := m.Add("bob", "rt-bob"); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 2 {
		t.Fatalf("Count = %d, want 2", m.Count())
	}
}

func TestRemove(t *testing.T) {
	m := newTestManager(t, "alice", "bob")

	if err := m.Remove("alice"); err != nil {
		t.Fatal(err)
	}
	if m.Get("alice") != nil {
		t.Fatal("removed account still present")
	}
	if err := m.Remove("ghost"); err == nil {
		t.Fatal("removing an unknown account should error")
	}
}

func TestDeleteBlocked(t *testing.T) {
	m := newTestManager(t, "alice", "bob", "carol")
	m.MarkBlocked(m.Get("alice"))
	m.MarkBlocked(m.Get("carol"))

	removed := m.DeleteBlocked()
	if len(removed) != 2 {
		t.Fatalf("removed %v, want 2 accounts", removed)
	}
	if m.Count() != 1 || m.Get("bob") == nil {
		t.Fatal("only bob should remain")
	}
}

func TestAvailableCount(t *testing.T) {
	m := newTestManager(t, "alice", "bob", "carol")
	m.MarkRateLimited(m.Get("bob"))

	if got := m.AvailableCount(); got != 2 {
		t.Fatalf("AvailableCount = %d, want 2", got)
	}
}
