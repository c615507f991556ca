package openfinance

import (
	"context"
	"time"
)

// ClientInterface defines the methods required from the provider API client
type ClientInterface interface {
	// SyncTransactions fetches one page of deltas after cursor. An empty
	// cursor starts from the beginning of the item's history.
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*SyncResponse, error)

	// GetTransactions fetches one offset page of the date-ranged feed.
	GetTransactions(ctx context.Context, accessToken string, start, end time.Time, offset, count int) (*TransactionsResponse, error)

	GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error)
}
