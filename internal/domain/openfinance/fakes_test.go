package openfinance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/transaction"
	ofclient "koffers/internal/infrastructure/openfinance"
)

// In-memory stand-ins for the postgres repositories.

type memConnections struct {
	mu    sync.Mutex
	conns map[string]*connection.Connection
}

func newMemConnections(conns ...*connection.Connection) *memConnections {
	m := &memConnections{conns: map[string]*connection.Connection{}}
	for _, c := range conns {
		cp := *c
		m.conns[c.ID] = &cp
	}
	return m
}

func (m *memConnections) Create(ctx context.Context, p connection.CreateParams) (*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &connection.Connection{ID: uuid.NewString(), UserID: p.UserID, ItemID: p.ItemID, AccessToken: p.AccessToken, Status: connection.StatusActive}
	m.conns[c.ID] = c
	return c, nil
}

func (m *memConnections) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, connection.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConnections) GetByItemID(ctx context.Context, itemID string) (*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.ItemID == itemID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, connection.ErrConnectionNotFound
}

func (m *memConnections) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*connection.Connection
	for _, c := range m.conns {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memConnections) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*connection.Connection
	for _, c := range m.conns {
		if c.Syncable() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConnections) UpdateStatus(ctx context.Context, id string, status connection.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	c.Status = status
	c.StatusReason = reason
	return nil
}

func (m *memConnections) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

func (m *memConnections) status(id string) connection.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[id].Status
}

type memAccounts struct {
	mu    sync.Mutex
	byExt map[string]*account.Account
}

func newMemAccounts(accts ...*account.Account) *memAccounts {
	m := &memAccounts{byExt: map[string]*account.Account{}}
	for _, a := range accts {
		m.byExt[a.ExternalID] = a
	}
	return m
}

func (m *memAccounts) Upsert(ctx context.Context, p account.UpsertParams) (*account.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byExt[p.ExternalID]
	if !ok {
		a = &account.Account{ID: uuid.NewString(), ExternalID: p.ExternalID}
		m.byExt[p.ExternalID] = a
	}
	a.UserID, a.ConnectionID, a.Name, a.Type, a.Currency = p.UserID, p.ConnectionID, p.Name, p.Type, p.Currency
	a.CurrentBalance, a.AvailableBalance = p.CurrentBalance, p.AvailableBalance
	return a, !ok, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byExt {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (m *memAccounts) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*account.Account
	for _, a := range m.byExt {
		if a.ConnectionID == connectionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAccounts) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*account.Account
	for _, a := range m.byExt {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memTransactions struct {
	mu      sync.Mutex
	rows    map[string]*transaction.Transaction // userID|externalID
	failFor map[string]error                    // externalID -> upsert error
	upserts int
}

func newMemTransactions() *memTransactions {
	return &memTransactions{rows: map[string]*transaction.Transaction{}, failFor: map[string]error{}}
}

func (m *memTransactions) Upsert(ctx context.Context, p transaction.UpsertParams) (*transaction.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if err, ok := m.failFor[p.ExternalID]; ok {
		return nil, false, err
	}
	key := p.UserID + "|" + p.ExternalID
	tx, ok := m.rows[key]
	if !ok {
		tx = &transaction.Transaction{ID: uuid.NewString(), UserID: p.UserID, ExternalID: p.ExternalID}
		m.rows[key] = tx
	}
	tx.AccountID, tx.ConnectionID = p.AccountID, p.ConnectionID
	tx.Amount, tx.Currency, tx.Date, tx.AuthorizedDate = p.Amount, p.Currency, p.Date, p.AuthorizedDate
	tx.Name, tx.MerchantName, tx.Categories = p.Name, p.MerchantName, p.Categories
	tx.Pending, tx.PendingExternalID, tx.RawPayload = p.Pending, p.PendingExternalID, p.RawPayload
	return tx, !ok, nil
}

func (m *memTransactions) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.rows {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

func (m *memTransactions) GetByExternalID(ctx context.Context, userID, externalID string) (*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[userID+"|"+externalID]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *memTransactions) DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + externalID
	if _, ok := m.rows[key]; !ok {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}

func (m *memTransactions) ListByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range m.rows {
		if tx.UserID == userID && !tx.Date.Before(from) && !tx.Date.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memCursors struct {
	mu       sync.Mutex
	cursors  map[string]connection.SyncCursor
	saveErr  error
	saveCall int
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: map[string]connection.SyncCursor{}}
}

func (m *memCursors) Get(ctx context.Context, connectionID string) (*connection.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[connectionID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCursors) Save(ctx context.Context, c connection.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCall++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cursors[c.ConnectionID] = c
	return nil
}

func (m *memCursors) Delete(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, connectionID)
	return nil
}

func (m *memCursors) cursor(connectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[connectionID].Cursor
}

// MockClient implements ofclient.ClientInterface
type MockClient struct {
	mu sync.Mutex

	SyncTransactionsFunc func(ctx context.Context, token, cursor string, count int) (*ofclient.SyncResponse, error)
	GetTransactionsFunc  func(ctx context.Context, token string, start, end time.Time, offset, count int) (*ofclient.TransactionsResponse, error)
	GetAccountsFunc      func(ctx context.Context, token string) (*ofclient.AccountsResponse, error)

	syncCalls   int
	cursorsSeen []string
}

func (m *MockClient) SyncTransactions(ctx context.Context, token, cursor string, count int) (*ofclient.SyncResponse, error) {
	m.mu.Lock()
	m.syncCalls++
	m.cursorsSeen = append(m.cursorsSeen, cursor)
	m.mu.Unlock()
	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, token, cursor, count)
	}
	return &ofclient.SyncResponse{NextCursor: cursor}, nil
}

func (m *MockClient) GetTransactions(ctx context.Context, token string, start, end time.Time, offset, count int) (*ofclient.TransactionsResponse, error) {
	if m.GetTransactionsFunc != nil {
		return m.GetTransactionsFunc(ctx, token, start, end, offset, count)
	}
	return &ofclient.TransactionsResponse{}, nil
}

func (m *MockClient) GetAccounts(ctx context.Context, token string) (*ofclient.AccountsResponse, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, token)
	}
	return &ofclient.AccountsResponse{}, nil
}

type countingNotifier struct {
	mu         sync.Mutex
	calls      int
	errorCalls int
}

func (n *countingNotifier) NotifyReauthRequired(ctx context.Context, conn *connection.Connection) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func (n *countingNotifier) NotifyConnectionError(ctx context.Context, conn *connection.Connection) error {
	n.mu.Lock()
	n.errorCalls++
	n.mu.Unlock()
	return nil
}

// fixture wires the sync services over in-memory stores for one user with
// one connection and one checking account.
type fixture struct {
	conn     *connection.Connection
	conns    *memConnections
	accounts *memAccounts
	txs      *memTransactions
	cursors  *memCursors
	client   *MockClient
	notifier *countingNotifier

	connService *connection.Service
	txSync      *TransactionSyncService
	acctSync    *AccountSyncService
	window      *WindowSyncService
	syncer      *ConnectionSyncService
	dispatcher  *WebhookDispatcher
}

func noSleepRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func newFixture() *fixture {
	conn := &connection.Connection{
		ID:              "conn-1",
		UserID:          "user-1",
		ItemID:          "item-1",
		AccessToken:     "access-sandbox-1",
		InstitutionName: "First Platypus Bank",
		Status:          connection.StatusActive,
	}
	f := &fixture{
		conn:     conn,
		conns:    newMemConnections(conn),
		accounts: newMemAccounts(&account.Account{ID: "acc-1", UserID: "user-1", ConnectionID: "conn-1", ExternalID: "ext-acc-1", Name: "Checking", Type: "depository", Currency: "USD"}),
		txs:      newMemTransactions(),
		cursors:  newMemCursors(),
		client:   &MockClient{},
		notifier: &countingNotifier{},
	}
	retry := noSleepRetry(3)
	f.connService = connection.NewService(f.conns, f.notifier, nil)
	f.txSync = NewTransactionSyncService(f.client, f.connService, f.accounts, f.txs, NewCursorStore(f.cursors), retry, 10, nil)
	f.acctSync = NewAccountSyncService(f.client, f.connService, account.NewService(f.accounts), retry, nil)
	f.window = NewWindowSyncService(f.client, f.connService, f.accounts, f.txs, retry, 10, nil)
	f.syncer = NewConnectionSyncService(f.connService, f.acctSync, f.txSync, nil)
	f.dispatcher = NewWebhookDispatcher(f.connService, f.syncer, f.window, nil)
	return f
}

func providerTx(id, amount, date string) ofclient.Transaction {
	amt := decimal.RequireFromString(amount)
	return ofclient.Transaction{
		TransactionID:   id,
		AccountID:       "ext-acc-1",
		Amount:          &amt,
		ISOCurrencyCode: "USD",
		Date:            date,
		Name:            "Purchase " + id,
	}
}

// pagedFeed serves pages[i] for cursor "" then "c1", "c2", ...
func pagedFeed(pages ...[]ofclient.Transaction) func(ctx context.Context, token, cursor string, count int) (*ofclient.SyncResponse, error) {
	return func(ctx context.Context, token, cursor string, count int) (*ofclient.SyncResponse, error) {
		idx := 0
		if cursor != "" {
			if _, err := fmt.Sscanf(cursor, "c%d", &idx); err != nil {
				return nil, err
			}
		}
		if idx >= len(pages) {
			return &ofclient.SyncResponse{NextCursor: cursor}, nil
		}
		return &ofclient.SyncResponse{
			Added:      pages[idx],
			NextCursor: fmt.Sprintf("c%d", idx+1),
			HasMore:    idx+1 < len(pages),
		}, nil
	}
}
