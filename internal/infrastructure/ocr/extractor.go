// Package ocr extracts structured receipt data with a Gemini model.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"koffers/internal/domain/receipt"
	"koffers/internal/shared/logger"
)

const DefaultModel = "gemini-2.5-flash"

const prompt = `You read photos and PDFs of shopping receipts and invoices.
Return only a JSON object with these fields:
  "merchant": store name as printed,
  "date": purchase date as YYYY-MM-DD,
  "items": [{"name", "quantity", "unitPrice", "totalPrice", "category"}],
  "subtotal", "tax", "tip", "total": numbers without currency symbols,
  "paymentMethod": e.g. "VISA 4242", or "" if not printed.
Use null for any number you cannot read. Do not invent line items.`

// generator is the subset of *genai.Models the extractor calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor implements receipt.Extractor.
type Extractor struct {
	models generator
	model  string
	log    *zap.Logger
}

// NewExtractor builds a Gemini API client.
func NewExtractor(ctx context.Context, apiKey, model string, log *zap.Logger) (*Extractor, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newExtractor(client.Models, model, log), nil
}

func newExtractor(models generator, model string, log *zap.Logger) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{models: models, model: model, log: logger.OrNop(log)}
}

// Extract sends the document to the model and decodes its JSON answer.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (*receipt.Extraction, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", e.model, err)
	}
	text := resp.Text()
	e.log.Debug("ocr response", zap.String("model", e.model), zap.Int("bytes", len(text)))
	return Parse(text)
}

// Parse decodes a model answer. Code fences around the JSON are tolerated;
// anything else that is not a usable JSON object is ErrMalformedExtraction.
func Parse(text string) (*receipt.Extraction, error) {
	body := stripFences(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", receipt.ErrMalformedExtraction)
	}
	if body == "null" {
		return nil, fmt.Errorf("%w: null response", receipt.ErrMalformedExtraction)
	}
	var out receipt.Extraction
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrMalformedExtraction, err)
	}
	out.Merchant = strings.TrimSpace(out.Merchant)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag such as ```json.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
