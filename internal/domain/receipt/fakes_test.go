package receipt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"koffers/internal/domain/transaction"
)

type memReceipts struct {
	mu    sync.Mutex
	files map[string]*ReceiptFile
	items map[string][]*Item // by file id
	seq   int

	linkErr error
}

func newMemReceipts(files ...*ReceiptFile) *memReceipts {
	m := &memReceipts{files: map[string]*ReceiptFile{}, items: map[string][]*Item{}}
	for _, f := range files {
		m.files[f.ID] = f
	}
	return m
}

func (m *memReceipts) Create(ctx context.Context, p CreateParams) (*ReceiptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	f := &ReceiptFile{ID: fmt.Sprintf("file-%d", m.seq), UserID: p.UserID, StorageRef: p.StorageRef, FileName: p.FileName, MimeType: p.MimeType, OCRStatus: OCRPending}
	m.files[f.ID] = f
	cp := *f
	return &cp, nil
}

func (m *memReceipts) GetByID(ctx context.Context, id string) (*ReceiptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memReceipts) ListByUserID(ctx context.Context, userID string) ([]*ReceiptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ReceiptFile
	for _, f := range m.files {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memReceipts) ListUnmatched(ctx context.Context, userID string) ([]*ReceiptFile, error) {
	all, _ := m.ListByUserID(ctx, userID)
	var out []*ReceiptFile
	for _, f := range all {
		if f.OCRStatus == OCRCompleted && !f.Linked() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memReceipts) ListUsersWithUnmatched(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, f := range m.files {
		if f.OCRStatus == OCRCompleted && !f.Linked() && !seen[f.UserID] {
			seen[f.UserID] = true
			out = append(out, f.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memReceipts) UpdateOCR(ctx context.Context, id string, status OCRStatus, extraction *Extraction, ocrError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrReceiptNotFound
	}
	f.OCRStatus, f.Extraction, f.OCRError = status, extraction, ocrError
	return nil
}

func (m *memReceipts) Link(ctx context.Context, id, transactionID string, fileType FileType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkErr != nil {
		return m.linkErr
	}
	f, ok := m.files[id]
	if !ok {
		return ErrReceiptNotFound
	}
	f.TransactionID, f.FileType, f.OCRStatus = transactionID, fileType, OCRCompleted
	return nil
}

func (m *memReceipts) LinkUnlinked(ctx context.Context, id, transactionID string, fileType FileType) error {
	m.mu.Lock()
	f, ok := m.files[id]
	linked := ok && f.TransactionID != ""
	m.mu.Unlock()
	if linked {
		return ErrAlreadyLinked
	}
	return m.Link(ctx, id, transactionID, fileType)
}

func (m *memReceipts) ListPending(ctx context.Context, olderThan time.Time) ([]*ReceiptFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ReceiptFile
	for _, f := range m.files {
		if f.OCRStatus == OCRPending && f.CreatedAt.Before(olderThan) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memReceipts) ReplaceItems(ctx context.Context, userID, fileID, transactionID string, params []ItemParams) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]*Item, 0, len(params))
	for i, p := range params {
		items = append(items, &Item{
			ID:            fmt.Sprintf("%s-item-%d", fileID, i),
			UserID:        userID,
			TransactionID: transactionID,
			ReceiptFileID: fileID,
			Name:          p.Name,
			Quantity:      p.Quantity,
			UnitPrice:     p.UnitPrice,
			TotalPrice:    p.TotalPrice,
			Category:      p.Category,
			Tags:          p.Tags,
		})
	}
	m.items[fileID] = items
	return items, nil
}

func (m *memReceipts) ListItemsByTransaction(ctx context.Context, transactionID string) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for _, items := range m.items {
		for _, it := range items {
			if it.TransactionID == transactionID {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func (m *memReceipts) file(id string) *ReceiptFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[id]
}

// MockTransactionRepo serves a fixed, store-ordered set of transactions.
type MockTransactionRepo struct {
	Transactions []*transaction.Transaction
	ListErr      error
}

func (m *MockTransactionRepo) Upsert(ctx context.Context, p transaction.UpsertParams) (*transaction.Transaction, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	for _, tx := range m.Transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

func (m *MockTransactionRepo) GetByExternalID(ctx context.Context, userID, externalID string) (*transaction.Transaction, error) {
	return nil, transaction.ErrTransactionNotFound
}

func (m *MockTransactionRepo) DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	return false, nil
}

func (m *MockTransactionRepo) ListByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]*transaction.Transaction, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []*transaction.Transaction
	for _, tx := range m.Transactions {
		if tx.UserID == userID && !tx.Date.Before(from) && !tx.Date.After(to) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type recordingNotifier struct {
	matched []string
	failed  []string
}

func (n *recordingNotifier) NotifyReceiptMatched(ctx context.Context, file *ReceiptFile, tx *transaction.Transaction) error {
	n.matched = append(n.matched, file.ID+"->"+tx.ID)
	return nil
}

func (n *recordingNotifier) NotifyReceiptFailed(ctx context.Context, file *ReceiptFile) error {
	n.failed = append(n.failed, file.ID)
	return nil
}

type stubBlobs struct {
	data map[string][]byte
	err  error
}

func (s *stubBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.data[ref]
	if !ok {
		return nil, errors.New("object not found")
	}
	return d, nil
}

type stubExtractor struct {
	result *Extraction
	err    error
	calls  int
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Extraction, error) {
	s.calls++
	return s.result, s.err
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func tx(id, amount, date, merchant string) *transaction.Transaction {
	return &transaction.Transaction{
		ID:           id,
		UserID:       "user-1",
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Date:         day(date),
		Name:         merchant,
		MerchantName: merchant,
	}
}

func completedFile(id, merchant, total, date string) *ReceiptFile {
	return &ReceiptFile{
		ID:        id,
		UserID:    "user-1",
		MimeType:  "image/jpeg",
		OCRStatus: OCRCompleted,
		Extraction: &Extraction{
			Merchant: merchant,
			Date:     date,
			Total:    dec(total),
		},
	}
}
