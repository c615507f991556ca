package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// Default match tolerances.
var (
	DefaultAmountTolerance   = decimal.RequireFromString("0.50")
	DefaultDateToleranceDays = 3
)

var (
	receiptMeter    = otel.Meter("koffers/receipt")
	matchCounter, _ = receiptMeter.Int64Counter("receipt.matches", metric.WithDescription("Receipt match attempts by outcome"))
)

// Notifier tells the owner about receipt outcomes.
type Notifier interface {
	NotifyReceiptMatched(ctx context.Context, file *ReceiptFile, tx *transaction.Transaction) error
	NotifyReceiptFailed(ctx context.Context, file *ReceiptFile) error
}

// Matcher links extracted receipts to synced transactions.
type Matcher struct {
	receipts     Repository
	transactions transaction.Repository
	notifier     Notifier

	AmountTolerance   decimal.Decimal
	DateToleranceDays int

	log *zap.Logger
}

// NewMatcher creates a matcher with the default tolerances. notifier may be nil.
func NewMatcher(receipts Repository, transactions transaction.Repository, notifier Notifier, log *zap.Logger) *Matcher {
	return &Matcher{
		receipts:          receipts,
		transactions:      transactions,
		notifier:          notifier,
		AmountTolerance:   DefaultAmountTolerance,
		DateToleranceDays: DefaultDateToleranceDays,
		log:               logger.OrNop(log),
	}
}

// FindMatch returns the user's transactions dated within [dateFrom, dateTo]
// whose absolute amount is within tolerance of amount. When merchantHint
// narrows the set without emptying it, only the narrowed set is returned.
// Order follows the store: date ascending, then id.
func (m *Matcher) FindMatch(ctx context.Context, userID string, amount decimal.Decimal, dateFrom, dateTo time.Time, merchantHint string) ([]*transaction.Transaction, error) {
	txs, err := m.transactions.ListByUserInRange(ctx, userID, truncateDay(dateFrom), truncateDay(dateTo))
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate transactions: %w", err)
	}

	target := amount.Abs()
	candidates := make([]*transaction.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Amount.Abs().Sub(target).Abs().LessThanOrEqual(m.AmountTolerance) {
			candidates = append(candidates, tx)
		}
	}

	if hint := normalizeMerchant(merchantHint); hint != "" && len(candidates) > 1 {
		narrowed := make([]*transaction.Transaction, 0, len(candidates))
		for _, tx := range candidates {
			if merchantMatches(hint, tx) {
				narrowed = append(narrowed, tx)
			}
		}
		if len(narrowed) > 0 {
			candidates = narrowed
		}
	}
	return candidates, nil
}

// Match links a completed, unlinked file to the first qualifying
// transaction. A nil transaction with a nil error means no match.
func (m *Matcher) Match(ctx context.Context, file *ReceiptFile) (*transaction.Transaction, error) {
	if file.Linked() {
		return nil, nil
	}
	if file.OCRStatus != OCRCompleted || file.Extraction == nil {
		return nil, apperr.New(apperr.CodeInvalidState, "receipt has no completed extraction")
	}

	log := m.log.With(zap.String("receipt_id", file.ID), zap.String("user_id", file.UserID))
	ext := file.Extraction
	if ext.Total == nil {
		log.Debug("receipt has no total, skipping match")
		m.count(ctx, "incomplete")
		return nil, nil
	}
	day, err := ext.TxDate()
	if err != nil {
		log.Debug("receipt has no usable date, skipping match", zap.Error(err))
		m.count(ctx, "incomplete")
		return nil, nil
	}

	from := day.AddDate(0, 0, -m.DateToleranceDays)
	to := day.AddDate(0, 0, m.DateToleranceDays)
	candidates, err := m.FindMatch(ctx, file.UserID, *ext.Total, from, to, ext.Merchant)
	if err != nil {
		return nil, err
	}

	var match *transaction.Transaction
	for _, tx := range candidates {
		if dayDistance(day, tx.Date) <= m.DateToleranceDays {
			match = tx
			break
		}
	}
	if match == nil {
		log.Info("no matching transaction for receipt",
			zap.String("merchant", ext.Merchant), zap.String("total", ext.Total.String()), zap.Time("date", day))
		m.count(ctx, "none")
		return nil, nil
	}

	if err := m.attach(ctx, file, match, m.receipts.LinkUnlinked); err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			log.Info("receipt was linked concurrently, leaving it as is")
			m.count(ctx, "already_linked")
			return nil, nil
		}
		return nil, err
	}
	m.count(ctx, "matched")
	log.Info("receipt matched", zap.String("transaction_id", match.ID), zap.Int("candidates", len(candidates)))

	if m.notifier != nil {
		if err := m.notifier.NotifyReceiptMatched(ctx, file, match); err != nil {
			log.Warn("failed to send receipt matched notification", zap.Error(err))
		}
	}
	return match, nil
}

// MatchSummary reports a batch matching pass.
type MatchSummary struct {
	UserID  string   `json:"userId"`
	Checked int      `json:"checked"`
	Matched int      `json:"matched"`
	Errors  []string `json:"errors"`
}

// MatchPending retries matching for every completed, unlinked file of the
// user. Run after syncs so receipts that arrived before their transaction
// still get linked.
func (m *Matcher) MatchPending(ctx context.Context, userID string) (*MatchSummary, error) {
	files, err := m.receipts.ListUnmatched(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched receipts: %w", err)
	}
	summary := &MatchSummary{UserID: userID, Errors: []string{}}
	for _, f := range files {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		tx, err := m.Match(ctx, f)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("receipt %s: %v", f.ID, err))
			continue
		}
		if tx != nil {
			summary.Matched++
		}
	}
	return summary, nil
}

// Link attaches a file to a transaction chosen by the user. Both must
// belong to userID and the file must have finished extraction.
func (m *Matcher) Link(ctx context.Context, userID, fileID, transactionID string) (*ReceiptFile, error) {
	file, err := m.receipts.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != userID {
		return nil, ErrForbidden
	}
	if file.OCRStatus != OCRCompleted {
		return nil, apperr.Wrap(apperr.CodeInvalidState,
			fmt.Errorf("%w: cannot link a %s file", ErrInvalidTransition, file.OCRStatus), "receipt is not ready to link")
	}

	tx, err := m.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, ErrForbidden
	}

	if err := m.attach(ctx, file, tx, m.receipts.Link); err != nil {
		return nil, err
	}
	m.count(ctx, "manual")
	return file, nil
}

type linkFunc func(ctx context.Context, id, transactionID string, fileType FileType) error

// attach writes the link and rebuilds the file's line items. Automatic
// matching passes a link that refuses already linked files so two passes
// never rebuild the same items.
func (m *Matcher) attach(ctx context.Context, file *ReceiptFile, tx *transaction.Transaction, link linkFunc) error {
	fileType := file.FileType
	if fileType == "" {
		fileType = FileTypeReceipt
	}
	if err := link(ctx, file.ID, tx.ID, fileType); err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			return err
		}
		return apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to link receipt")
	}
	file.TransactionID = tx.ID
	file.FileType = fileType
	file.OCRStatus = OCRCompleted

	if _, err := m.receipts.ReplaceItems(ctx, file.UserID, file.ID, tx.ID, itemParamsFrom(file.Extraction)); err != nil {
		// The link stands; items can be rebuilt by linking again.
		m.log.Warn("failed to create receipt items",
			zap.String("receipt_id", file.ID), zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return nil
}

func (m *Matcher) count(ctx context.Context, outcome string) {
	matchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// dayDistance is the absolute number of calendar days between a and b.
func dayDistance(a, b time.Time) int {
	d := int(truncateDay(a).Sub(truncateDay(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

func normalizeMerchant(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// merchantMatches is a case-insensitive substring test in either direction
// against the transaction's merchant and raw name.
func merchantMatches(hint string, tx *transaction.Transaction) bool {
	for _, s := range []string{tx.MerchantName, tx.Name} {
		n := normalizeMerchant(s)
		if n == "" {
			continue
		}
		if strings.Contains(n, hint) || strings.Contains(hint, n) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means a receipt or transaction is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReceiptNotFound) || errors.Is(err, transaction.ErrTransactionNotFound)
}
