// Package remote provides the HTTP implementation of the authority client.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jwlin/recallbox/internal/models"
)

// HTTPConfig holds authority connection configuration.
type HTTPConfig struct {
	// BaseURL is the authority endpoint, e.g. https://sync.example.com.
	BaseURL string

	// AccountID scopes all requests to one account.
	AccountID string

	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
}

// HTTPClient implements Authority against the Recallbox sync service.
type HTTPClient struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config *HTTPConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// FetchChangedSince implements Authority.
func (c *HTTPClient) FetchChangedSince(ctx context.Context, kind models.EntityKind, since int64) ([]models.EntityPayload, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/%s?since=%s",
		c.config.BaseURL, url.PathEscape(c.config.AccountID),
		url.PathEscape(string(kind)), strconv.FormatInt(since, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var items []models.EntityPayload
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to parse fetch response: %w", err)
	}

	return items, nil
}

// Upsert implements Authority.
func (c *HTTPClient) Upsert(ctx context.Context, kind models.EntityKind, items []models.EntityPayload) error {
	if len(items) == 0 {
		return nil
	}

	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode upsert batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/%s",
		c.config.BaseURL, url.PathEscape(c.config.AccountID), url.PathEscape(string(kind)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upsert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upsert failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// setHeaders applies shared headers to a request.
func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	req.Header.Set("Accept", "application/json")
}

// TestConnection verifies the authority is reachable for this account.
func (c *HTTPClient) TestConnection(ctx context.Context) error {
	_, err := c.FetchChangedSince(ctx, models.KindSetting, time.Now().UnixMilli())
	return err
}
