// Package dispatcher routes chat turns to pool accounts, retrying across
// accounts on upstream denials and recording per-request accounting.
package dispatcher

import (
	"context"
	"io"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/stats"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

// Upstream is the slice of the warp client the dispatcher drives
type Upstream interface {
	EnsureReady(ctx context.Context, acc *account.Account) error
	SendRequest(ctx context.Context, acc *account.Account, payload []byte) (io.ReadCloser, error)
}

// Request is one chat turn to proxy upstream
type Request struct {
	Query       string
	Model       string
	History     []warp.HistoryMessage
	ToolResults []warp.ToolResult
	Tools       []warp.MCPTool
	Endpoint    string // accounting label: "openai" or "anthropic"
}

// Result is an accepted turn: the decoded event stream plus the account
// that serves it.
type Result struct {
	Events  <-chan *warp.StreamEvent
	Errs    <-chan error
	Account *account.Account
}

// Dispatcher owns the retry loop over the account pool
type Dispatcher struct {
	manager  *account.Manager
	upstream Upstream
	cfg      *config.Config
	recorder *stats.Recorder
}

// New creates a dispatcher. recorder may be nil when stats are disabled.
func New(manager *account.Manager, upstream Upstream, cfg *config.Config, recorder *stats.Recorder) *Dispatcher {
	return &Dispatcher{manager: manager, upstream: upstream, cfg: cfg, recorder: recorder}
}

// Dispatch selects an account, prepares it, and sends the turn. On an
// upstream denial the account is marked and the next one is tried, up to
// the attempt limit. The returned stream is already flowing.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		acc, err := d.manager.SelectAccount()
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 1 {
			utils.Info("[Dispatcher] Attempt %d/%d with account %s", attempt, config.MaxRetries, acc.Name)
		}

		start := time.Now()
		body, err := d.sendTurn(ctx, acc, req)
		if err != nil {
			d.markFailure(acc, req, err, time.Since(start))
			lastErr = err
			continue
		}

		acc.RecordSuccess()
		return d.stream(ctx, acc, req, body, start), nil
	}

	return nil, lastErr
}

// sendTurn readies the account and sends the request, splitting tool
// results into one request each when split mode is on.
func (d *Dispatcher) sendTurn(ctx context.Context, acc *account.Account, req *Request) (io.ReadCloser, error) {
	if err := d.upstream.EnsureReady(ctx, acc); err != nil {
		return nil, err
	}

	if d.cfg.SplitToolcallResult && len(req.ToolResults) > 1 {
		return d.sendSplit(ctx, acc, req)
	}

	payload, err := warp.BuildRequest(d.buildOptions(acc, req, req.Query, req.ToolResults))
	if err != nil {
		return nil, err
	}
	return d.upstream.SendRequest(ctx, acc, payload)
}

// sendSplit sends one request per tool result. Intermediate responses
// are drained just far enough to track the active task; only the final
// response streams back to the client.
func (d *Dispatcher) sendSplit(ctx context.Context, acc *account.Account, req *Request) (io.ReadCloser, error) {
	results := req.ToolResults
	for i, tr := range results[:len(results)-1] {
		payload, err := warp.BuildRequest(d.buildOptions(acc, req, "", []warp.ToolResult{tr}))
		if err != nil {
			return nil, err
		}
		body, err := d.upstream.SendRequest(ctx, acc, payload)
		if err != nil {
			return nil, err
		}
		drainForTaskID(acc, body)
		utils.Debug("[Dispatcher] Split tool result %d/%d forwarded", i+1, len(results))
	}

	payload, err := warp.BuildRequest(d.buildOptions(acc, req, req.Query, results[len(results)-1:]))
	if err != nil {
		return nil, err
	}
	return d.upstream.SendRequest(ctx, acc, payload)
}

func (d *Dispatcher) buildOptions(acc *account.Account, req *Request, query string, toolResults []warp.ToolResult) warp.BuildOptions {
	return warp.BuildOptions{
		Query:              query,
		Model:              req.Model,
		History:            req.History,
		TaskID:             acc.GetActiveTaskID(),
		Tools:              req.Tools,
		ToolResults:        toolResults,
		DisableWarpTools:   d.cfg.DisableWarpTools,
		MaxHistoryMessages: d.cfg.MaxHistoryMessages,
		MaxToolResults:     d.cfg.MaxToolResults,
	}
}

// stream decodes the response body, tracking task ids and usage, and
// records the accounting row when the stream ends. Cancellation of ctx
// (the client going away) closes the upstream body so the decoder
// unblocks; the pump never outlives an abandoned request.
func (d *Dispatcher) stream(ctx context.Context, acc *account.Account, req *Request, body io.ReadCloser, start time.Time) *Result {
	upstream, upstreamErrs := warp.DecodeStream(body)
	events := make(chan *warp.StreamEvent, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer body.Close()

		var usage *warp.TokenUsage
		canceled := false
		for ev := range upstream {
			trackTaskID(acc, ev)
			if ev.Finished != nil && ev.Finished.TokenUsage != nil {
				usage = ev.Finished.TokenUsage
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				canceled = true
			}
			if canceled {
				break
			}
		}
		if canceled {
			// Abandon the upstream read, then drain the decoder so it
			// can exit too.
			body.Close()
			for range upstream {
			}
		}
		err := <-upstreamErrs

		entry := stats.Entry{
			Account:  acc.Name,
			Model:    req.Model,
			Endpoint: req.Endpoint,
			Status:   "ok",
			Duration: time.Since(start),
		}
		if usage != nil {
			entry.PromptTokens = int(usage.TotalInputTokens)
			entry.CompletionTokens = int(usage.TotalOutputTokens)
		}
		switch {
		case canceled:
			entry.Status = "canceled"
		case err != nil:
			entry.Status = "stream_error"
			acc.RecordError(err.Error())
			errs <- err
		}
		d.recorder.Record(entry)
	}()

	return &Result{Events: events, Errs: errs, Account: acc}
}

// markFailure classifies an attempt failure and updates account status.
// Transient network errors leave status untouched.
func (d *Dispatcher) markFailure(acc *account.Account, req *Request, err error, elapsed time.Duration) {
	status := "error"
	if ue, ok := warp.AsUpstreamError(err); ok {
		switch {
		case ue.IsQuotaExhausted():
			status = "quota_exhausted"
			d.manager.MarkQuotaExhausted(acc)
		case ue.IsBlocked():
			status = "blocked"
			d.manager.MarkBlocked(acc)
		case ue.IsRateLimited():
			status = "rate_limited"
			d.manager.MarkRateLimited(acc)
		default:
			acc.RecordError(err.Error())
		}
	} else if warp.IsTransient(err) {
		status = "transient"
		acc.RecordError(err.Error())
	} else {
		acc.RecordError(err.Error())
	}

	d.recorder.Record(stats.Entry{
		Account:  acc.Name,
		Model:    req.Model,
		Endpoint: req.Endpoint,
		Status:   status,
		Duration: elapsed,
	})
}

// trackTaskID captures upstream conversation/task ids for continuity
func trackTaskID(acc *account.Account, ev *warp.StreamEvent) {
	if ev.Init != nil && ev.Init.ConversationID != "" {
		acc.SetActiveTaskID(ev.Init.ConversationID)
	}
	if ev.ClientActions != nil {
		for _, action := range ev.ClientActions.Actions {
			if action.CreateTask != nil && action.CreateTask.Task.ID != "" {
				acc.SetActiveTaskID(action.CreateTask.Task.ID)
			}
		}
	}
}

// drainForTaskID consumes an intermediate response only for its ids
func drainForTaskID(acc *account.Account, body io.ReadCloser) {
	defer body.Close()
	events, errs := warp.DecodeStream(body)
	for ev := range events {
		trackTaskID(acc, ev)
	}
	if err := <-errs; err != nil {
		utils.Warn("[Dispatcher] Intermediate stream error: %v", err)
	}
}
