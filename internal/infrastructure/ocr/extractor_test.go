package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"koffers/internal/domain/receipt"
)

type fakeModels struct {
	text  string
	err   error
	model string
	parts []*genai.Part
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.parts = contents[0].Parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

const wholeFoods = `{
  "merchant": "Whole Foods Market ",
  "date": "2025-10-30",
  "items": [
    {"name": "Organic Bananas", "quantity": 2, "unitPrice": 0.29, "totalPrice": 0.58, "category": "produce"},
    {"name": "Olive Oil", "quantity": null, "unitPrice": null, "totalPrice": "12.99"}
  ],
  "subtotal": 44.30,
  "tax": 3.52,
  "tip": null,
  "total": 47.82,
  "paymentMethod": "VISA 4242"
}`

func TestParse(t *testing.T) {
	for name, in := range map[string]string{
		"plain":      wholeFoods,
		"json fence": "```json\n" + wholeFoods + "\n```",
		"bare fence": "```\n" + wholeFoods + "```",
		"padded":     "\n\n" + wholeFoods + "  \n",
	} {
		t.Run(name, func(t *testing.T) {
			e, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, "Whole Foods Market", e.Merchant)
			assert.Equal(t, "47.82", e.Total.StringFixed(2))
			assert.Nil(t, e.Tip)
			require.Len(t, e.Items, 2)
			assert.Equal(t, "12.99", e.Items[1].TotalPrice.String())
			assert.Nil(t, e.Items[1].Quantity)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"```json\n```",
		"I could not read this receipt.",
		`{"total": "lots"}`,
		`[1,2]`,
		"null",
		"{}",
		"```json\nnull\n```",
		`{"merchant": "  ", "items": []}`,
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, receipt.ErrMalformedExtraction, in)
	}
}

func TestExtract(t *testing.T) {
	models := &fakeModels{text: wholeFoods}
	ex := newExtractor(models, "", nil)

	e, err := ex.Extract(context.Background(), []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, models.model)
	require.Len(t, models.parts, 2)
	require.NotNil(t, models.parts[0].InlineData)
	assert.Equal(t, "image/jpeg", models.parts[0].InlineData.MIMEType)
	assert.Equal(t, "2025-10-30", e.Date)
}

func TestExtract_CallError(t *testing.T) {
	ex := newExtractor(&fakeModels{err: errors.New("quota exceeded")}, "gemini-test", nil)

	_, err := ex.Extract(context.Background(), []byte("pdf"), "application/pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, receipt.ErrMalformedExtraction)
	assert.Contains(t, err.Error(), "quota exceeded")
}
