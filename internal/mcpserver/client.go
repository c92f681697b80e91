package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the dealdesk API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // Key accepted by the API's keyring
	AdminID string // Account the console acts as
}

// Client is a pure HTTP client for the dealdesk admin surface.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the dealdesk API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request as the admin and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	req.Header.Set("X-Actor-ID", c.cfg.AdminID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	raw, err := c.doRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Disputes returns the open dispute queue, oldest first.
func (c *Client) Disputes(ctx context.Context) ([]QueueItem, error) {
	var resp struct {
		Disputes []QueueItem `json:"disputes"`
	}
	if err := c.get(ctx, "/v1/admin/disputes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Disputes, nil
}

// Deal returns one deal.
func (c *Client) Deal(ctx context.Context, id string) (*Deal, error) {
	var resp struct {
		Deal *Deal `json:"deal"`
	}
	if err := c.get(ctx, "/v1/deals/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deal, nil
}

// Messages returns the dispute thread of a deal.
func (c *Client) Messages(ctx context.Context, dealID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "/v1/deals/"+url.PathEscape(dealID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Account returns one account.
func (c *Client) Account(ctx context.Context, id string) (*Account, error) {
	var resp struct {
		Account *Account `json:"account"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Account, nil
}

// Entries returns the newest journal entries of an account.
func (c *Client) Entries(ctx context.Context, id string, limit int) ([]Entry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(id)+"/entries", q, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// AccountDeals returns the deals an account took part in, newest first.
func (c *Client) AccountDeals(ctx context.Context, id string, limit int) ([]Deal, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Deals []Deal `json:"deals"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(id)+"/deals", q, &resp); err != nil {
		return nil, err
	}
	return resp.Deals, nil
}

// Reconcile runs a conservation check and returns its report.
func (c *Client) Reconcile(ctx context.Context) (*Report, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/v1/admin/reconcile", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Report *Report `json:"report"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Report, nil
}
