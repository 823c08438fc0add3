package dispatcher

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

// firstAvailable keeps dispatcher tests deterministic
type firstAvailable struct{}

func (firstAvailable) Name() string { return "first_available" }

func (firstAvailable) Select(accounts []*account.Account, retry429Interval time.Duration) *account.Account {
	for _, acc := range accounts {
		if acc.IsAvailable(retry429Interval) {
			return acc
		}
	}
	return nil
}

// fakeUpstream scripts per-account send outcomes
type fakeUpstream struct {
	sendErr   map[string]error
	body      string
	sendCalls []string
}

func (f *fakeUpstream) EnsureReady(ctx context.Context, acc *account.Account) error {
	return nil
}

func (f *fakeUpstream) SendRequest(ctx context.Context, acc *account.Account, payload []byte) (io.ReadCloser, error) {
	f.sendCalls = append(f.sendCalls, acc.Name)
	if err := f.sendErr[acc.Name]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func sseBody(events ...*warp.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("data: ")
		b.WriteString(base64.URLEncoding.EncodeToString(warp.EncodeResponseEvent(ev)))
		b.WriteString("\n\n")
	}
	return b.String()
}

func newTestPool(t *testing.T, names ...string) *account.Manager {
	t.Helper()
	store, err := account.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := store.Save(account.New(name, "rt-"+name)); err != nil {
			t.Fatal(err)
		}
	}
	m := account.NewManager(store, firstAvailable{}, 10, false)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	return m
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MaxHistoryMessages = 20
	cfg.MaxToolResults = 10
	return cfg
}

func drain(t *testing.T, res *Result) []*warp.StreamEvent {
	t.Helper()
	var events []*warp.StreamEvent
	for ev := range res.Events {
		events = append(events, ev)
	}
	if err := <-res.Errs; err != nil {
		t.Fatal(err)
	}
	return events
}

func TestDispatchSuccess(t *testing.T) {
	manager := newTestPool(t, "alice")
	upstream := &fakeUpstream{
		body: sseBody(
			&warp.StreamEvent{Init: &warp.InitEvent{ConversationID: "conv-1"}},
			&warp.StreamEvent{Finished: &warp.FinishedEvent{}},
		),
	}

	d := New(manager, upstream, testConfig(), nil)
	res, err := d.Dispatch(context.Background(), &Request{Query: "hi", Endpoint: "openai"})
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, res)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if res.Account.Name != "alice" {
		t.Fatalf("served by %s, want alice", res.Account.Name)
	}
	if res.Account.RequestCount != 1 {
		t.Fatalf("RequestCount = %d, want 1", res.Account.RequestCount)
	}
	if got := res.Account.GetActiveTaskID(); got != "conv-1" {
		t.Fatalf("active task id = %q, want conv-1", got)
	}
}

func TestDispatchFailsOverOn403(t *testing.T) {
	manager := newTestPool(t, "alice", "bob")
	upstream := &fakeUpstream{
		sendErr: map[string]error{
			"alice": &warp.UpstreamError{StatusCode: 403, Body: "forbidden"},
		},
		body: sseBody(&warp.StreamEvent{Finished: &warp.FinishedEvent{}}),
	}

	d := New(manager, upstream, testConfig(), nil)
	res, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, res)

	if res.Account.Name != "bob" {
		t.Fatalf("served by %s, want bob", res.Account.Name)
	}
	if manager.Get("alice").StatusCode != account.StatusBlocked {
		t.Fatal("alice should be marked blocked")
	}
	if len(upstream.sendCalls) != 2 {
		t.Fatalf("send calls = %v, want [alice bob]", upstream.sendCalls)
	}
}

func TestDispatchMarksRateLimited(t *testing.T) {
	manager := newTestPool(t, "alice", "bob")
	upstream := &fakeUpstream{
		sendErr: map[string]error{
			"alice": &warp.UpstreamError{StatusCode: 429, Body: "slow down"},
		},
		body: sseBody(&warp.StreamEvent{Finished: &warp.FinishedEvent{}}),
	}

	d := New(manager, upstream, testConfig(), nil)
	res, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, res)

	if manager.Get("alice").StatusCode != account.StatusRateLimited {
		t.Fatal("alice should be marked rate limited")
	}
	if res.Account.Name != "bob" {
		t.Fatalf("served by %s, want bob", res.Account.Name)
	}
}

func TestDispatchMarksQuotaExhaustedFromBody(t *testing.T) {
	manager := newTestPool(t, "alice", "bob")
	upstream := &fakeUpstream{
		sendErr: map[string]error{
			"alice": &warp.UpstreamError{StatusCode: 429, Body: "No AI requests remaining"},
		},
		body: sseBody(&warp.StreamEvent{Finished: &warp.FinishedEvent{}}),
	}

	d := New(manager, upstream, testConfig(), nil)
	res, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, res)

	// The quota phrase wins over the status code.
	if manager.Get("alice").StatusCode != account.StatusQuotaExceeded {
		t.Fatalf("alice status = %q, want quota_exceeded", manager.Get("alice").StatusCode)
	}
}

func TestDispatchAttemptBound(t *testing.T) {
	manager := newTestPool(t, "alice", "bob", "carol", "dave")
	upstream := &fakeUpstream{
		sendErr: map[string]error{
			"alice": errors.New("dial tcp: connection refused"),
			"bob":   errors.New("dial tcp: connection refused"),
			"carol": errors.New("dial tcp: connection refused"),
			"dave":  errors.New("dial tcp: connection refused"),
		},
	}

	d := New(manager, upstream, testConfig(), nil)
	_, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	if err == nil {
		t.Fatal("expected an error when every attempt fails")
	}
	if len(upstream.sendCalls) != config.MaxRetries {
		t.Fatalf("made %d attempts, want %d", len(upstream.sendCalls), config.MaxRetries)
	}

	// Transient failures never mutate account status.
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		if manager.Get(name).StatusCode != "" {
			t.Fatalf("%s status = %q, want clean", name, manager.Get(name).StatusCode)
		}
	}
}

func TestDispatchNoAccounts(t *testing.T) {
	manager := newTestPool(t)
	d := New(manager, &fakeUpstream{}, testConfig(), nil)

	_, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	var noAccounts *account.NoAccountsError
	if !errors.As(err, &noAccounts) {
		t.Fatalf("expected NoAccountsError, got %v", err)
	}
}

func TestDispatchAllBlockedAfterFailover(t *testing.T) {
	manager := newTestPool(t, "alice", "bob")
	upstream := &fakeUpstream{
		sendErr: map[string]error{
			"alice": &warp.UpstreamError{StatusCode: 403, Body: "forbidden"},
			"bob":   &warp.UpstreamError{StatusCode: 403, Body: "forbidden"},
		},
	}

	d := New(manager, upstream, testConfig(), nil)
	_, err := d.Dispatch(context.Background(), &Request{Query: "hi"})
	if err == nil {
		t.Fatal("expected an error")
	}
	ue, ok := warp.AsUpstreamError(err)
	if !ok || ue.StatusCode != 403 {
		t.Fatalf("expected the last upstream error, got %v", err)
	}
}

func TestDispatchClientGoneStopsPump(t *testing.T) {
	// More events than the pump buffer holds, so an unread stream would
	// block the pump forever without cancellation handling.
	events := make([]*warp.StreamEvent, 0, 301)
	for i := 0; i < 300; i++ {
		events = append(events, &warp.StreamEvent{
			ClientActions: &warp.ClientActions{Actions: []warp.Action{{
				AppendToMessageContent: &warp.AppendToMessageContent{
					Message: warp.TaskMessage{AgentOutput: &warp.AgentOutput{Text: "x"}},
				},
			}}},
		})
	}
	events = append(events, &warp.StreamEvent{Finished: &warp.FinishedEvent{}})

	manager := newTestPool(t, "alice")
	upstream := &fakeUpstream{body: sseBody(events...)}
	d := New(manager, upstream, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := d.Dispatch(ctx, &Request{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	<-res.Events // the client reads one event, then goes away
	cancel()

	done := make(chan struct{})
	go func() {
		for range res.Events {
		}
		<-res.Errs
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream pump did not stop after the client went away")
	}
}

func TestDispatchSplitToolResults(t *testing.T) {
	manager := newTestPool(t, "alice")
	upstream := &fakeUpstream{
		body: sseBody(&warp.StreamEvent{Finished: &warp.FinishedEvent{}}),
	}
	cfg := testConfig()
	cfg.SplitToolcallResult = true

	d := New(manager, upstream, cfg, nil)
	res, err := d.Dispatch(context.Background(), &Request{
		Query: "",
		ToolResults: []warp.ToolResult{
			{ToolCallID: "call-1", Content: "a"},
			{ToolCallID: "call-2", Content: "b"},
			{ToolCallID: "call-3", Content: "c"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, res)

	// One request per tool result.
	if len(upstream.sendCalls) != 3 {
		t.Fatalf("send calls = %d, want 3", len(upstream.sendCalls))
	}
}
