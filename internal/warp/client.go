package warp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// session is the per-account upstream HTTP state: cookie jar, experiment
// identifiers, and the streaming transport.
type session struct {
	client           *http.Client
	streamClient     *http.Client
	experimentID     string
	experimentBucket string
}

// PersistSink receives accounts whose durable fields changed so the
// store stays in sync. *account.Manager satisfies it.
type PersistSink interface {
	Persist(acc *account.Account)
}

// Client talks to the Warp upstream on behalf of pool accounts. One
// session (cookie jar + experiment ids) is kept per account; sessions are
// built lazily and rebuilt when the jar cannot be created.
type Client struct {
	mu          sync.Mutex
	sessions    map[string]*session
	insecureTLS bool
	persist     PersistSink
}

// SetPersistSink installs the sink notified after durable-field changes
// such as a token refresh.
func (c *Client) SetPersistSink(sink PersistSink) {
	c.persist = sink
}

func (c *Client) persistAccount(acc *account.Account) {
	if c.persist != nil {
		c.persist.Persist(acc)
	}
}

// NewClient creates an upstream client
func NewClient(insecureTLS bool) *Client {
	if insecureTLS {
		utils.Warn("[Warp] TLS verification disabled via WARP_INSECURE_TLS")
	}
	return &Client{
		sessions:    make(map[string]*session),
		insecureTLS: insecureTLS,
	}
}

// sessionFor returns (creating if needed) the account's session
func (c *Client) sessionFor(acc *account.Account) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[acc.Name]; ok {
		return s, nil
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: c.insecureTLS}

	// The streaming transport disables HTTP/2 and compression: h2
	// flow-control and gzip both buffer small SSE events.
	streamTransport := &http.Transport{
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		DisableCompression:    true,
		ResponseHeaderTimeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
	}

	s := &session{
		client: &http.Client{
			Jar:       jar,
			Timeout:   time.Duration(config.RequestTimeoutSeconds) * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		streamClient: &http.Client{
			Jar:       jar,
			Transport: streamTransport,
		},
		experimentID:     uuid.New().String(),
		experimentBucket: newExperimentBucket(),
	}
	c.sessions[acc.Name] = s
	return s, nil
}

// DropSession discards an account's session so the next call rebuilds it
func (c *Client) DropSession(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, name)
}

// newExperimentBucket returns the sha256 hex of 32 random bytes
func newExperimentBucket() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	sum := sha256.Sum256(b[:])
	return hex.EncodeToString(sum[:])
}

// Login performs the client login handshake: POST with bearer and
// experiment headers, empty body, expecting 204 plus session cookies.
func (c *Client) Login(ctx context.Context, acc *account.Account) error {
	s, err := c.sessionFor(acc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.LoginURL, nil)
	if err != nil {
		return err
	}
	for k, v := range config.WarpHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("x-warp-experiment-id", s.experimentID)
	req.Header.Set("x-warp-experiment-bucket", s.experimentBucket)
	req.Header.Set("accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	acc.LoggedIn = true
	utils.Success("[Warp] Client login for %s (experiment %s)", acc.Name, s.experimentID)
	return nil
}

// SendRequest POSTs the binary request to the AI endpoint and returns the
// SSE body for streaming. The caller owns the body.
func (c *Client) SendRequest(ctx context.Context, acc *account.Account, payload []byte) (io.ReadCloser, error) {
	s, err := c.sessionFor(acc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.AIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range config.WarpHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("x-warp-experiment-id", s.experimentID)
	req.Header.Set("x-warp-experiment-bucket", s.experimentBucket)
	req.Header.Set("content-type", "application/x-protobuf")
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("accept-encoding", "identity")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp.Body, nil
}

// InitializeSession sends a one-off seed chat so the account captures a
// conversation id from the stream's init event.
func (c *Client) InitializeSession(ctx context.Context, acc *account.Account, disableWarpTools bool) error {
	payload, err := BuildFromTemplate("Hello", disableWarpTools, nil)
	if err != nil {
		return err
	}

	body, err := c.SendRequest(ctx, acc, payload)
	if err != nil {
		return err
	}
	defer body.Close()

	return decodeSSE(body, func(ev *StreamEvent) error {
		if ev.Init != nil && ev.Init.ConversationID != "" {
			acc.SetActiveTaskID(ev.Init.ConversationID)
			utils.Info("[Warp] Session initialized for %s: %s", acc.Name, ev.Init.ConversationID)
		}
		if ev.ClientActions != nil {
			for _, action := range ev.ClientActions.Actions {
				if action.CreateTask != nil && action.CreateTask.Task.ID != "" {
					acc.SetActiveTaskID(action.CreateTask.Task.ID)
				}
			}
		}
		return nil
	})
}
