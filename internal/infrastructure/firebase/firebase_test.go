package firebase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	gcs "cloud.google.com/go/storage"
	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMulticaster struct {
	batches [][]string
	respond func(tokens []string) *messaging.BatchResponse
}

func (f *fakeMulticaster) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.batches = append(f.batches, m.Tokens)
	if f.respond != nil {
		return f.respond(m.Tokens), nil
	}
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

func TestChunkTokens(t *testing.T) {
	tokens := make([]string, 1201)
	chunks := chunkTokens(tokens, fcmBatchLimit)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[2], 201)
	assert.Nil(t, chunkTokens(nil, fcmBatchLimit))
}

func TestSendMulticast_Batches(t *testing.T) {
	fake := &fakeMulticaster{}
	c := &Client{msg: fake, log: zap.NewNop()}

	tokens := make([]string, 501)
	require.NoError(t, c.SendMulticast(context.Background(), tokens, "t", "b", nil))
	assert.Len(t, fake.batches, 2)

	require.NoError(t, c.SendMulticast(context.Background(), nil, "t", "b", nil))
	assert.Len(t, fake.batches, 2, "no call for zero tokens")
}

func TestSendMulticast_OtherFailuresKeepToken(t *testing.T) {
	fake := &fakeMulticaster{respond: func(tokens []string) *messaging.BatchResponse {
		return &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Error: errors.New("internal server error")},
			},
		}
	}}
	var deactivated []string
	c := &Client{msg: fake, log: zap.NewNop(), deactivator: func(ctx context.Context, token string) error {
		deactivated = append(deactivated, token)
		return nil
	}}

	require.NoError(t, c.SendMulticast(context.Background(), []string{"ok", "flaky"}, "t", "b", nil))
	assert.Empty(t, deactivated)
}

type readCloser struct{ io.Reader }

func (readCloser) Close() error { return nil }

func TestStorageDownload(t *testing.T) {
	s := &Storage{open: func(ctx context.Context, ref string) (io.ReadCloser, error) {
		switch ref {
		case "receipts/u/ok.jpg":
			return readCloser{bytes.NewReader([]byte("jpeg"))}, nil
		case "receipts/u/huge.pdf":
			return readCloser{bytes.NewReader(make([]byte, MaxReceiptBytes+1))}, nil
		default:
			return nil, gcs.ErrObjectNotExist
		}
	}}

	data, err := s.Download(context.Background(), "receipts/u/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = s.Download(context.Background(), "receipts/u/missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Download(context.Background(), "receipts/u/huge.pdf")
	assert.ErrorIs(t, err, ErrObjectTooLarge)
}
