package receipt

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

var tracer = otel.Tracer("koffers/receipt")

// BlobStore reads uploaded files.
type BlobStore interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Extractor turns document bytes into structured receipt data.
// Unparseable output must be reported as ErrMalformedExtraction.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*Extraction, error)
}

// ProcessResult is the outcome of one pipeline run.
type ProcessResult struct {
	File        *ReceiptFile             `json:"file"`
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
}

// Pipeline drives a file through extraction and matching.
type Pipeline struct {
	receipts  Repository
	blobs     BlobStore
	extractor Extractor
	matcher   *Matcher
	notifier  Notifier
	log       *zap.Logger
}

// NewPipeline creates the OCR pipeline. notifier may be nil.
func NewPipeline(receipts Repository, blobs BlobStore, extractor Extractor, matcher *Matcher, notifier Notifier, log *zap.Logger) *Pipeline {
	return &Pipeline{
		receipts:  receipts,
		blobs:     blobs,
		extractor: extractor,
		matcher:   matcher,
		notifier:  notifier,
		log:       logger.OrNop(log),
	}
}

// Register records a newly uploaded file as pending.
func (p *Pipeline) Register(ctx context.Context, params CreateParams) (*ReceiptFile, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return p.receipts.Create(ctx, params)
}

// Get loads a file owned by userID.
func (p *Pipeline) Get(ctx context.Context, userID, fileID string) (*ReceiptFile, error) {
	file, err := p.receipts.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != userID {
		return nil, ErrForbidden
	}
	return file, nil
}

// List returns the user's files, newest first.
func (p *Pipeline) List(ctx context.Context, userID string) ([]*ReceiptFile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}
	return p.receipts.ListByUserID(ctx, userID)
}

// Process extracts a pending file and then tries to match it. An extraction
// failure leaves the file failed and is reported through the result, not
// the error; errors are reserved for state and persistence problems.
func (p *Pipeline) Process(ctx context.Context, fileID string) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "receipt.process", trace.WithAttributes(attribute.String("receipt.id", fileID)))
	defer span.End()

	file, err := p.receipts.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OCRStatus != OCRPending {
		return &ProcessResult{File: file}, apperr.Wrap(apperr.CodeInvalidState,
			fmt.Errorf("%w: file is %s", ErrInvalidTransition, file.OCRStatus), "receipt is not pending")
	}
	// Without storage or a model the file stays pending for a later run.
	if p.blobs == nil || p.extractor == nil {
		return &ProcessResult{File: file}, apperr.Wrap(apperr.CodeProviderUnavailable, ErrExtractionDisabled, "receipt extraction is unavailable")
	}
	log := p.log.With(zap.String("receipt_id", file.ID), zap.String("user_id", file.UserID))

	extraction, err := p.extract(ctx, file)
	if err != nil {
		span.RecordError(err)
		if ferr := p.fail(ctx, file, err); ferr != nil {
			return &ProcessResult{File: file}, ferr
		}
		log.Warn("receipt extraction failed", zap.Error(err))
		return &ProcessResult{File: file}, nil
	}

	if err := checkTransition(file.OCRStatus, OCRCompleted); err != nil {
		return &ProcessResult{File: file}, err
	}
	if err := p.receipts.UpdateOCR(ctx, file.ID, OCRCompleted, extraction, ""); err != nil {
		return &ProcessResult{File: file}, apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to store extraction")
	}
	file.OCRStatus = OCRCompleted
	file.OCRError = ""
	file.Extraction = extraction
	log.Info("receipt extracted", zap.String("merchant", extraction.Merchant), zap.Int("items", len(extraction.Items)))

	tx, err := p.matcher.Match(ctx, file)
	if err != nil {
		return &ProcessResult{File: file}, fmt.Errorf("failed to match receipt: %w", err)
	}
	return &ProcessResult{File: file, Transaction: tx}, nil
}

// Retry moves a failed file owned by userID back to pending and processes
// it again. Failed files are never retried automatically.
func (p *Pipeline) Retry(ctx context.Context, userID, fileID string) (*ProcessResult, error) {
	file, err := p.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(file.OCRStatus, OCRPending); err != nil {
		return &ProcessResult{File: file}, apperr.Wrap(apperr.CodeInvalidState, err, "only failed receipts can be retried")
	}
	if err := p.receipts.UpdateOCR(ctx, file.ID, OCRPending, nil, ""); err != nil {
		return &ProcessResult{File: file}, apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to reset receipt")
	}
	return p.Process(ctx, file.ID)
}

func (p *Pipeline) extract(ctx context.Context, file *ReceiptFile) (*Extraction, error) {
	data, err := p.blobs.Download(ctx, file.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	extraction, err := p.extractor.Extract(ctx, data, file.MimeType)
	if err != nil {
		return nil, err
	}
	if err := extraction.Validate(); err != nil {
		return nil, err
	}
	return extraction, nil
}

func (p *Pipeline) fail(ctx context.Context, file *ReceiptFile, cause error) error {
	if err := checkTransition(file.OCRStatus, OCRFailed); err != nil {
		return err
	}
	msg := cause.Error()
	if err := p.receipts.UpdateOCR(ctx, file.ID, OCRFailed, nil, msg); err != nil {
		return apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to record extraction failure")
	}
	file.OCRStatus = OCRFailed
	file.OCRError = msg

	if p.notifier != nil {
		if err := p.notifier.NotifyReceiptFailed(ctx, file); err != nil {
			p.log.Warn("failed to send receipt failed notification", zap.String("receipt_id", file.ID), zap.Error(err))
		}
	}
	return nil
}
