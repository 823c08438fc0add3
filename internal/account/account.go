// Package account provides the account pool with durable per-account state
// and configurable selection strategies.
package account

import (
	"strings"
	"sync"
	"time"
)

// Status tags persisted in the account file
const (
	StatusBlocked       = "403"
	StatusRateLimited   = "429"
	StatusQuotaExceeded = "quota_exceeded"
)

// Account is one upstream credential plus its health and quota state.
// Durable fields round-trip through the store; everything else is
// per-process only.
type Account struct {
	mu sync.Mutex

	// Durable fields
	Name          string
	RefreshToken  string
	Enabled       bool
	StatusCode    string // "", "403", "429", "quota_exceeded"
	LastRefreshed time.Time
	LastAttempt   time.Time

	// Volatile session state
	AccessToken  string
	TokenExpiry  time.Time
	LoggedIn     bool
	ActiveTaskID string

	// Volatile counters and quota
	RequestCount   int64
	ErrorCount     int64
	QuotaLimit     int64
	QuotaUsed      int64
	QuotaResetDate time.Time
	LastUsed       time.Time
	LastError      string

	// Email extracted from the access token claims, for display only
	Email string
}

// New creates an enabled account with the given name and refresh token
func New(name, refreshToken string) *Account {
	return &Account{
		Name:         name,
		RefreshToken: refreshToken,
		Enabled:      true,
	}
}

// IsAvailable reports whether the account can serve a request right now.
// Recovery from the 429 and quota states is lazy: the status is cleared
// here once its hold time has elapsed.
func (a *Account) IsAvailable(retry429Interval time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isAvailableLocked(time.Now(), retry429Interval)
}

// IsAvailableAt is IsAvailable against an explicit clock
func (a *Account) IsAvailableAt(now time.Time, retry429Interval time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isAvailableLocked(now, retry429Interval)
}

func (a *Account) isAvailableLocked(now time.Time, retry429Interval time.Duration) bool {
	if !a.Enabled {
		return false
	}

	switch a.StatusCode {
	case "":
		if a.QuotaLimit > 0 && a.QuotaUsed >= a.QuotaLimit {
			a.StatusCode = StatusQuotaExceeded
			a.QuotaResetDate = nextMonthStart(now)
			return false
		}
		return true
	case StatusBlocked:
		return false
	case StatusRateLimited:
		if !a.LastAttempt.IsZero() && now.Sub(a.LastAttempt) >= retry429Interval {
			a.StatusCode = ""
			a.LastAttempt = time.Time{}
			return true
		}
		return false
	case StatusQuotaExceeded:
		if !a.QuotaResetDate.IsZero() && !now.Before(a.QuotaResetDate) {
			a.StatusCode = ""
			a.QuotaUsed = 0
			a.QuotaResetDate = time.Time{}
			return true
		}
		return false
	}
	return false
}

// MarkBlocked records an upstream 403
func (a *Account) MarkBlocked() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusCode = StatusBlocked
}

// MarkRateLimited records an upstream 429 at now
func (a *Account) MarkRateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusCode = StatusRateLimited
	a.LastAttempt = time.Now()
}

// MarkQuotaExhausted records a quota exhaustion; availability returns at
// the first instant of the next calendar month (local time).
func (a *Account) MarkQuotaExhausted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusCode = StatusQuotaExceeded
	a.QuotaResetDate = nextMonthStart(time.Now())
}

// ClearStatus removes any status mark
func (a *Account) ClearStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusCode = ""
	a.LastAttempt = time.Time{}
	a.QuotaResetDate = time.Time{}
}

// RecordSuccess bumps the usage counters after a successful upstream call
func (a *Account) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RequestCount++
	a.QuotaUsed++
	a.LastUsed = time.Now()
}

// RecordError bumps the error counter and remembers the message
func (a *Account) RecordError(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ErrorCount++
	a.LastError = message
}

// QuotaRemaining returns limit-used, or a large value when no limit is known
// so that quota-aware selection does not starve accounts without quota info.
func (a *Account) QuotaRemaining() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.QuotaLimit <= 0 {
		return 1 << 30
	}
	return a.QuotaLimit - a.QuotaUsed
}

// SetQuota updates the known quota limit and usage
func (a *Account) SetQuota(limit, used int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.QuotaLimit = limit
	a.QuotaUsed = used
}

// TokenValid reports whether the access token exists and is not within
// the expiry safety buffer.
func (a *Account) TokenValid(buffer time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.AccessToken == "" || a.TokenExpiry.IsZero() {
		return false
	}
	return time.Until(a.TokenExpiry) >= buffer
}

// SetActiveTaskID stores the conversation id captured from an init event
// (last writer wins across concurrent streams).
func (a *Account) SetActiveTaskID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ActiveTaskID = id
}

// GetActiveTaskID returns the current conversation id
func (a *Account) GetActiveTaskID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ActiveTaskID
}

// Snapshot is the secret-free view of an account used by /stats
type Snapshot struct {
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Enabled        bool   `json:"enabled"`
	StatusCode     string `json:"status_code,omitempty"`
	Available      bool   `json:"available"`
	RequestCount   int64  `json:"request_count"`
	ErrorCount     int64  `json:"error_count"`
	QuotaLimit     int64  `json:"quota_limit,omitempty"`
	QuotaUsed      int64  `json:"quota_used"`
	QuotaResetDate string `json:"quota_reset_date,omitempty"`
	LastRefreshed  string `json:"last_refreshed,omitempty"`
	LastUsed       string `json:"last_used,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// ToSnapshot builds the secret-free view; refresh and access tokens are
// deliberately excluded.
func (a *Account) ToSnapshot(retry429Interval time.Duration) Snapshot {
	available := a.IsAvailable(retry429Interval)
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		Name:         a.Name,
		Email:        a.Email,
		Enabled:      a.Enabled,
		StatusCode:   a.StatusCode,
		Available:    available,
		RequestCount: a.RequestCount,
		ErrorCount:   a.ErrorCount,
		QuotaLimit:   a.QuotaLimit,
		QuotaUsed:    a.QuotaUsed,
		LastError:    a.LastError,
	}
	if !a.QuotaResetDate.IsZero() {
		s.QuotaResetDate = a.QuotaResetDate.Format(time.RFC3339)
	}
	if !a.LastRefreshed.IsZero() {
		s.LastRefreshed = a.LastRefreshed.Format(time.RFC3339)
	}
	if !a.LastUsed.IsZero() {
		s.LastUsed = a.LastUsed.Format(time.RFC3339)
	}
	return s
}

// SanitizeName makes an account name safe to use as a file name
func SanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(name)
}

// nextMonthStart returns the first instant of the month after t, local time
func nextMonthStart(t time.Time) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}
