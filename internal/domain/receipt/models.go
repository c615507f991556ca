package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OCRStatus is where a file is in the extraction lifecycle.
type OCRStatus string

const (
	OCRPending   OCRStatus = "pending"
	OCRCompleted OCRStatus = "completed"
	OCRFailed    OCRStatus = "failed"
)

// FileType classifies an uploaded document.
type FileType string

const (
	FileTypeReceipt FileType = "receipt"
	FileTypeInvoice FileType = "invoice"
	FileTypeOther   FileType = "other"
)

// Domain errors
var (
	ErrReceiptNotFound     = errors.New("receipt file not found")
	ErrForbidden           = errors.New("access forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid ocr status transition")
	ErrMalformedExtraction = errors.New("malformed extraction")
	ErrExtractionDisabled  = errors.New("receipt extraction is not configured")
	ErrAlreadyLinked       = errors.New("receipt file is already linked")
)

// ReceiptFile is one uploaded document and its OCR outcome.
type ReceiptFile struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	StorageRef    string      `json:"storageRef"`
	FileName      string      `json:"fileName"`
	MimeType      string      `json:"mimeType"`
	FileType      FileType    `json:"fileType,omitempty"`
	OCRStatus     OCRStatus   `json:"ocrStatus"`
	OCRError      string      `json:"ocrError,omitempty"`
	Extraction    *Extraction `json:"extraction,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Linked reports whether the file is attached to a transaction. Linked
// files are skipped by automatic matching.
func (f *ReceiptFile) Linked() bool {
	return f.TransactionID != ""
}

// Extraction is the structured OCR result for a receipt.
type Extraction struct {
	Merchant      string           `json:"merchant"`
	Date          string           `json:"date"`
	Items         []ExtractedItem  `json:"items"`
	Subtotal      *decimal.Decimal `json:"subtotal,omitempty"`
	Tax           *decimal.Decimal `json:"tax,omitempty"`
	Tip           *decimal.Decimal `json:"tip,omitempty"`
	Total         *decimal.Decimal `json:"total"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
}

type ExtractedItem struct {
	Name       string           `json:"name"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unitPrice,omitempty"`
	TotalPrice *decimal.Decimal `json:"totalPrice,omitempty"`
	Category   string           `json:"category,omitempty"`
}

// receiptDateLayouts are tried in order when reading an extracted date.
var receiptDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// TxDate parses the receipt date to a calendar day (UTC midnight).
func (e *Extraction) TxDate() (time.Time, error) {
	s := strings.TrimSpace(e.Date)
	if s == "" {
		return time.Time{}, errors.New("receipt date is missing")
	}
	if len(s) > 10 {
		// Drop any time-of-day suffix, e.g. "2025-10-30T14:02:00".
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return truncateDay(t), nil
		}
	}
	for _, layout := range receiptDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized receipt date %q", e.Date)
}

// Validate checks the minimum an extraction must carry to be stored.
func (e *Extraction) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: empty result", ErrMalformedExtraction)
	}
	if e.Total == nil && strings.TrimSpace(e.Merchant) == "" && strings.TrimSpace(e.Date) == "" {
		return fmt.Errorf("%w: no total, merchant or date", ErrMalformedExtraction)
	}
	if e.Total != nil && e.Total.IsNegative() {
		return fmt.Errorf("%w: negative total", ErrMalformedExtraction)
	}
	return nil
}

// Item is a line item attached to a linked transaction.
type Item struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	TransactionID string           `json:"transactionId"`
	ReceiptFileID string           `json:"receiptFileId,omitempty"`
	Name          string           `json:"name"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unitPrice,omitempty"`
	TotalPrice    decimal.Decimal  `json:"totalPrice"`
	Category      string           `json:"category,omitempty"`
	Tags          []string         `json:"tags"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// ItemParams describes a line item to create.
type ItemParams struct {
	Name       string
	Quantity   decimal.Decimal
	UnitPrice  *decimal.Decimal
	TotalPrice decimal.Decimal
	Category   string
	Tags       []string
}

// CreateParams registers an uploaded file. New files start pending.
type CreateParams struct {
	UserID     string
	StorageRef string
	FileName   string
	MimeType   string
}

func (p CreateParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.StorageRef == "" {
		return errors.New("storage reference is required")
	}
	if p.MimeType == "" {
		return errors.New("mime type is required")
	}
	return nil
}

// itemParamsFrom turns extracted lines into item rows. Lines without a name
// or any price are dropped.
func itemParamsFrom(e *Extraction) []ItemParams {
	if e == nil {
		return nil
	}
	out := make([]ItemParams, 0, len(e.Items))
	for _, it := range e.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		qty := decimal.NewFromInt(1)
		if it.Quantity != nil && it.Quantity.IsPositive() {
			qty = *it.Quantity
		}
		var total decimal.Decimal
		switch {
		case it.TotalPrice != nil:
			total = *it.TotalPrice
		case it.UnitPrice != nil:
			total = it.UnitPrice.Mul(qty)
		default:
			continue
		}
		p := ItemParams{
			Name:       name,
			Quantity:   qty,
			UnitPrice:  it.UnitPrice,
			TotalPrice: total,
			Category:   strings.TrimSpace(it.Category),
			Tags:       []string{},
		}
		out = append(out, p)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
