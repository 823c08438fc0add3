package stats

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndSummarize(t *testing.T) {
	r := openTestRecorder(t)

	r.Record(Entry{Account: "alice", Model: "claude-4.5-sonnet", Endpoint: "openai", Status: "ok", Duration: 100 * time.Millisecond, PromptTokens: 10, CompletionTokens: 5})
	r.Record(Entry{Account: "alice", Model: "claude-4.5-sonnet", Endpoint: "anthropic", Status: "ok", Duration: 300 * time.Millisecond, PromptTokens: 20, CompletionTokens: 15})
	r.Record(Entry{Account: "bob", Model: "gpt-5", Endpoint: "openai", Status: "blocked", Duration: 50 * time.Millisecond})

	s, err := r.Summarize()
	if err != nil {
		t.Fatal(err)
	}

	if s.TotalRequests != 3 || s.TotalErrors != 1 {
		t.Fatalf("totals = %d requests / %d errors, want 3 / 1", s.TotalRequests, s.TotalErrors)
	}
	if s.PromptTokens != 30 || s.CompletionTokens != 20 {
		t.Fatalf("tokens = %d / %d, want 30 / 20", s.PromptTokens, s.CompletionTokens)
	}
	if s.AvgDurationMs != 150 {
		t.Fatalf("avg duration = %v, want 150", s.AvgDurationMs)
	}

	if len(s.ByAccount) != 2 {
		t.Fatalf("by_account = %d entries, want 2", len(s.ByAccount))
	}
	// Ordered by account name.
	if s.ByAccount[0].Account != "alice" || s.ByAccount[0].Requests != 2 || s.ByAccount[0].Errors != 0 {
		t.Fatalf("alice totals: %+v", s.ByAccount[0])
	}
	if s.ByAccount[1].Account != "bob" || s.ByAccount[1].Requests != 1 || s.ByAccount[1].Errors != 1 {
		t.Fatalf("bob totals: %+v", s.ByAccount[1])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	r := openTestRecorder(t)

	s, err := r.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalRequests != 0 || len(s.ByAccount) != 0 {
		t.Fatalf("empty db summary: %+v", s)
	}
	if s.ByAccount == nil {
		t.Fatal("ByAccount should serialize as [], not null")
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder

	r.Record(Entry{Account: "alice", Status: "ok"})

	s, err := r.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalRequests != 0 || s.ByAccount == nil {
		t.Fatalf("nil recorder summary: %+v", s)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "stats.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.Record(Entry{Account: "alice", Status: "ok"})
	s, err := r.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalRequests != 1 {
		t.Fatalf("total = %d, want 1", s.TotalRequests)
	}
}
