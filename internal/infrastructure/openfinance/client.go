package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout   = 60 * time.Second
	syncPath         = "/transactions/sync"
	transactionsPath = "/transactions/get"
	accountsPath     = "/accounts/get"
)

// Client handles communication with the provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a provider API client. Outgoing requests are traced
// through the otelhttp transport.
func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom proxies).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type syncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count,omitempty"`
}

type getTransactionsRequest struct {
	ClientID    string                 `json:"client_id"`
	Secret      string                 `json:"secret"`
	AccessToken string                 `json:"access_token"`
	StartDate   string                 `json:"start_date"`
	EndDate     string                 `json:"end_date"`
	Options     getTransactionsOptions `json:"options"`
}

type getTransactionsOptions struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type accountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

// SyncTransactions fetches one page of transaction deltas
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*SyncResponse, error) {
	var resp SyncResponse
	err := c.post(ctx, syncPath, syncRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       count,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransactions fetches one page of transactions dated within [start, end]
func (c *Client) GetTransactions(ctx context.Context, accessToken string, start, end time.Time, offset, count int) (*TransactionsResponse, error) {
	var resp TransactionsResponse
	err := c.post(ctx, transactionsPath, getTransactionsRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		StartDate:   start.Format(dateLayout),
		EndDate:     end.Format(dateLayout),
		Options:     getTransactionsOptions{Count: count, Offset: offset},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts fetches every account of the item behind accessToken
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	var resp AccountsResponse
	err := c.post(ctx, accountsPath, accountsRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		pe := &ProviderError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			pe.ErrorType = errResp.ErrorType
			pe.ErrorCode = errResp.ErrorCode
			pe.Message = errResp.ErrorMessage
			pe.RequestID = errResp.RequestID
		} else {
			pe.Message = string(respBody)
		}
		return pe
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			ErrorType:  "INVALID_RESPONSE",
			Err:        fmt.Errorf("failed to unmarshal response: %w", err),
		}
	}
	return nil
}
