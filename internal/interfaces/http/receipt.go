package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"koffers/internal/domain/receipt"
	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

type ReceiptPipeline interface {
	Register(ctx context.Context, params receipt.CreateParams) (*receipt.ReceiptFile, error)
	List(ctx context.Context, userID string) ([]*receipt.ReceiptFile, error)
	Get(ctx context.Context, userID, fileID string) (*receipt.ReceiptFile, error)
	Process(ctx context.Context, fileID string) (*receipt.ProcessResult, error)
	Retry(ctx context.Context, userID, fileID string) (*receipt.ProcessResult, error)
}

type ReceiptMatcher interface {
	Match(ctx context.Context, file *receipt.ReceiptFile) (*transaction.Transaction, error)
	Link(ctx context.Context, userID, fileID, transactionID string) (*receipt.ReceiptFile, error)
}

type ReceiptHandler struct {
	pipeline ReceiptPipeline
	matcher  ReceiptMatcher
	log      *zap.Logger
}

func NewReceiptHandler(pipeline ReceiptPipeline, matcher ReceiptMatcher, log *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{pipeline: pipeline, matcher: matcher, log: logger.OrNop(log)}
}

type RegisterReceiptRequest struct {
	StorageRef string `json:"storageRef"`
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType"`
}

type LinkReceiptRequest struct {
	TransactionID string `json:"transactionId"`
}

type MatchResponse struct {
	Matched     bool                     `json:"matched"`
	File        *receipt.ReceiptFile     `json:"file"`
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
}

// HandleRegister handles POST /api/receipts. Processing starts when the
// database announces the new row.
func (h *ReceiptHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req RegisterReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	file, err := h.pipeline.Register(r.Context(), receipt.CreateParams{
		UserID:     userID,
		StorageRef: req.StorageRef,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
	})
	if err != nil {
		writeDomainError(w, h.log, err, "failed to register receipt")
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// HandleList handles GET /api/receipts
func (h *ReceiptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	files, err := h.pipeline.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to list receipts")
		return
	}
	if files == nil {
		files = []*receipt.ReceiptFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

// HandleGet handles GET /api/receipts/{id}
func (h *ReceiptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	file, ok := h.ownedFile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// HandleProcess handles POST /api/receipts/{id}/process. Extraction
// failures come back as 200 with the file in the failed state.
func (h *ReceiptHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	file, ok := h.ownedFile(w, r)
	if !ok {
		return
	}
	res, err := h.pipeline.Process(r.Context(), file.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to process receipt")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRetry handles POST /api/receipts/{id}/retry. Only failed files can
// be retried.
func (h *ReceiptHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.pipeline.Retry(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to retry receipt")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleMatch handles POST /api/receipts/{id}/match. No match is a 200 with
// matched=false.
func (h *ReceiptHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	file, ok := h.ownedFile(w, r)
	if !ok {
		return
	}
	if file.Linked() {
		writeError(w, http.StatusConflict, apperr.CodeInvalidState, "receipt is already linked; use link to change it")
		return
	}
	tx, err := h.matcher.Match(r.Context(), file)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to match receipt")
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Matched: tx != nil, File: file, Transaction: tx})
}

// HandleLink handles PUT /api/receipts/{id}/link
func (h *ReceiptHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req LinkReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "transactionId is required")
		return
	}
	file, err := h.matcher.Link(r.Context(), userID, chi.URLParam(r, "id"), req.TransactionID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to link receipt")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *ReceiptHandler) ownedFile(w http.ResponseWriter, r *http.Request) (*receipt.ReceiptFile, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	file, err := h.pipeline.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to load receipt")
		return nil, false
	}
	return file, true
}
