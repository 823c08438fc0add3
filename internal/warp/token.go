package warp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// tokenResponse tolerates both the snake_case and the Firebase-style
// field names of the token endpoint.
type tokenResponse struct {
	AccessToken   string      `json:"access_token"`
	IDToken       string      `json:"idToken"`
	ExpiresIn     json.Number `json:"expires_in"`
	RefreshToken  string      `json:"refresh_token"`
	RefreshToken2 string      `json:"refreshToken"`
}

// RefreshToken exchanges the account's refresh token for an access token.
// A rotated refresh token replaces the stored one. 403 and 429 surface as
// UpstreamError so callers can mark the account; transient network errors
// come back as plain errors and must not mutate status.
func (c *Client) RefreshToken(ctx context.Context, acc *account.Account) error {
	s, err := c.sessionFor(acc)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", acc.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	for k, v := range config.WarpHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("token response: %w", err)
	}

	token := tr.AccessToken
	if token == "" {
		token = tr.IDToken
	}
	if token == "" {
		return fmt.Errorf("token response missing access_token")
	}

	expiresIn := int64(3600)
	if v, err := tr.ExpiresIn.Int64(); err == nil && v > 0 {
		expiresIn = v
	} else if s := tr.ExpiresIn.String(); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			expiresIn = v
		}
	}

	acc.AccessToken = token
	acc.TokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	acc.LastRefreshed = time.Now()
	if rotated := firstNonEmpty(tr.RefreshToken, tr.RefreshToken2); rotated != "" && rotated != acc.RefreshToken {
		acc.RefreshToken = rotated
		utils.Info("[Warp] Refresh token rotated for %s", acc.Name)
	}
	if email := emailFromJWT(token); email != "" {
		acc.Email = email
	}
	// A rotated refresh token must survive a restart.
	c.persistAccount(acc)

	utils.Success("[Warp] Token refreshed for %s (expires in %ds)", acc.Name, expiresIn)
	return nil
}

// EnsureReady refreshes the token when absent or within the expiry
// buffer, then logs in if the session is not established yet.
func (c *Client) EnsureReady(ctx context.Context, acc *account.Account) error {
	buffer := time.Duration(config.TokenExpiryBufferSeconds) * time.Second
	if !acc.TokenValid(buffer) {
		if err := c.RefreshToken(ctx, acc); err != nil {
			return err
		}
	}
	if !acc.LoggedIn {
		if err := c.Login(ctx, acc); err != nil {
			return err
		}
	}
	return nil
}

// RefreshDelay is the pause between serial refreshes so the identity
// endpoint is not tripped by a burst.
const RefreshDelay = time.Second

// RefreshAll serially refreshes every account whose token is missing or
// near expiry, sleeping RefreshDelay between calls. onError receives
// per-account failures and decides the status marks; the loop goes on.
func (c *Client) RefreshAll(ctx context.Context, accounts []*account.Account, onError func(*account.Account, error)) int {
	buffer := time.Duration(config.TokenExpiryBufferSeconds) * time.Second
	refreshed := 0

	for i, acc := range accounts {
		if !acc.Enabled || acc.TokenValid(buffer) {
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return refreshed
			case <-time.After(RefreshDelay):
			}
		}
		if err := c.RefreshToken(ctx, acc); err != nil {
			utils.Warn("[Warp] Refresh failed for %s: %v", acc.Name, err)
			if onError != nil {
				onError(acc, err)
			}
			continue
		}
		refreshed++
	}

	return refreshed
}

// emailFromJWT pulls the email claim out of the access token without
// verifying the signature; it is display-only.
func emailFromJWT(token string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
