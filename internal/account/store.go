package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// accountFile is the durable subset written to disk, one file per account
type accountFile struct {
	Name          string `json:"name"`
	RefreshToken  string `json:"refresh_token"`
	Enabled       bool   `json:"enabled"`
	StatusCode    string `json:"status_code,omitempty"`
	LastRefreshed string `json:"last_refreshed,omitempty"`
	LastAttempt   string `json:"last_attempt,omitempty"`
}

// Store persists the durable subset of accounts
type Store interface {
	// LoadAll reconstructs the pool in deterministic (lexicographic) order
	LoadAll() ([]*Account, error)
	// Save writes one account's durable fields
	Save(a *Account) error
	// Delete removes one account's durable record
	Delete(name string) error
}

// FileStore keeps one JSON file per account under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if absent
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create accounts dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadAll scans *.json in sorted order. Malformed files are logged and
// skipped so one bad file cannot take the pool down.
func (s *FileStore) LoadAll() ([]*Account, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read accounts dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, fileName := range names {
		path := filepath.Join(s.dir, fileName)
		data, err := os.ReadFile(path)
		if err != nil {
			utils.Warn("[Store] Skipping unreadable account file %s: %v", fileName, err)
			continue
		}

		var af accountFile
		if err := json.Unmarshal(data, &af); err != nil || af.Name == "" {
			utils.Warn("[Store] Skipping malformed account file %s: %v", fileName, err)
			continue
		}

		accounts = append(accounts, af.toAccount())
	}

	return accounts, nil
}

// Save writes the durable subset to <dir>/<sanitized(name)>.json
func (s *FileStore) Save(a *Account) error {
	af := fromAccount(a)
	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, SanitizeName(a.Name)+".json")
	return os.WriteFile(path, data, 0o600)
}

// Delete removes the account file if present
func (s *FileStore) Delete(name string) error {
	path := filepath.Join(s.dir, SanitizeName(name)+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (af *accountFile) toAccount() *Account {
	a := &Account{
		Name:         af.Name,
		RefreshToken: af.RefreshToken,
		Enabled:      af.Enabled,
		StatusCode:   af.StatusCode,
	}
	if af.LastRefreshed != "" {
		if t, err := time.Parse(time.RFC3339, af.LastRefreshed); err == nil {
			a.LastRefreshed = t
		}
	}
	if af.LastAttempt != "" {
		if t, err := time.Parse(time.RFC3339, af.LastAttempt); err == nil {
			a.LastAttempt = t
		}
	}
	// A persisted quota mark recomputes its reset instant from the mark's
	// month so a restart inside the same month stays exhausted.
	if a.StatusCode == StatusQuotaExceeded {
		a.QuotaResetDate = nextMonthStart(a.LastRefreshed)
		if a.LastRefreshed.IsZero() {
			a.QuotaResetDate = nextMonthStart(time.Now())
		}
	}
	return a
}

func fromAccount(a *Account) accountFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	af := accountFile{
		Name:         a.Name,
		RefreshToken: a.RefreshToken,
		Enabled:      a.Enabled,
		StatusCode:   a.StatusCode,
	}
	if !a.LastRefreshed.IsZero() {
		af.LastRefreshed = a.LastRefreshed.Format(time.RFC3339)
	}
	if !a.LastAttempt.IsZero() {
		af.LastAttempt = a.LastAttempt.Format(time.RFC3339)
	}
	return af
}
