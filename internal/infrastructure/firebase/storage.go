package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
)

// MaxReceiptBytes caps a single download.
const MaxReceiptBytes = 20 << 20

var (
	ErrObjectNotFound = errors.New("stored object not found")
	ErrObjectTooLarge = errors.New("stored object exceeds size limit")
)

// objectOpener opens a reader for one object in the bucket.
type objectOpener func(ctx context.Context, ref string) (io.ReadCloser, error)

// Storage implements receipt.BlobStore over the app's default bucket.
type Storage struct {
	open objectOpener
}

func NewStorage(ctx context.Context, app *firebase.App) (*Storage, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase storage client: %w", err)
	}
	bucket, err := client.DefaultBucket()
	if err != nil {
		return nil, fmt.Errorf("failed to open storage bucket: %w", err)
	}
	return &Storage{open: func(ctx context.Context, ref string) (io.ReadCloser, error) {
		return bucket.Object(ref).NewReader(ctx)
	}}, nil
}

// Download reads the whole object at ref.
func (s *Storage) Download(ctx context.Context, ref string) ([]byte, error) {
	r, err := s.open(ctx, ref)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, MaxReceiptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	if len(data) > MaxReceiptBytes {
		return nil, fmt.Errorf("%w: %s", ErrObjectTooLarge, ref)
	}
	return data, nil
}
