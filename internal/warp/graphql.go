package warp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

const requestLimitQuery = `query GetRequestLimitInfo($requestContext: RequestContext!) {
  user(requestContext: $requestContext) {
    __typename
    ... on UserOutput {
      user {
        requestLimitInfo {
          isUnlimited
          nextRefreshTime
          requestLimit
          requestsUsedSinceLastRefresh
          requestLimitRefreshDuration
        }
      }
    }
    ... on UserFacingError {
      error {
        message
      }
    }
  }
}`

// RequestLimitInfo is the subset of the usage query the proxy consumes
type RequestLimitInfo struct {
	IsUnlimited                  bool   `json:"isUnlimited"`
	NextRefreshTime              string `json:"nextRefreshTime"`
	RequestLimit                 int64  `json:"requestLimit"`
	RequestsUsedSinceLastRefresh int64  `json:"requestsUsedSinceLastRefresh"`
	RequestLimitRefreshDuration  string `json:"requestLimitRefreshDuration"`
}

// FetchRequestLimitInfo runs the usage GraphQL query for one account and
// feeds the result into its quota counters.
func (c *Client) FetchRequestLimitInfo(ctx context.Context, acc *account.Account) (*RequestLimitInfo, error) {
	s, err := c.sessionFor(acc)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"query":         requestLimitQuery,
		"operationName": "GetRequestLimitInfo",
		"variables": map[string]interface{}{
			"requestContext": map[string]interface{}{
				"clientContext": map[string]interface{}{
					"version": config.ClientVersion,
				},
				"osContext": map[string]interface{}{
					"category": config.OSCategory,
					"name":     config.OSName,
					"version":  config.OSVersion,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.GraphQLURL+"?op=GetRequestLimitInfo", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range config.WarpHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Data struct {
			User struct {
				User struct {
					RequestLimitInfo *RequestLimitInfo `json:"requestLimitInfo"`
				} `json:"user"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("usage response: %w", err)
	}

	info := parsed.Data.User.User.RequestLimitInfo
	if info == nil {
		return nil, fmt.Errorf("usage response missing requestLimitInfo")
	}

	if !info.IsUnlimited {
		acc.SetQuota(info.RequestLimit, info.RequestsUsedSinceLastRefresh)
	}
	utils.Info("[Warp] Usage for %s: %d/%d requests (next refresh %s)",
		acc.Name, info.RequestsUsedSinceLastRefresh, info.RequestLimit, info.NextRefreshTime)
	return info, nil
}
