package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// GCSBackend stores records as JSON objects in a Cloud Storage bucket,
// named "<collection>/<key>.json".
type GCSBackend struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCS creates a Cloud Storage backend.
func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket, logger: logger}
}

func objectName(collection, key string) string {
	return collection + "/" + key + ".json"
}

// Get returns the record stored under key, or ErrNotFound.
func (b *GCSBackend) Get(ctx context.Context, collection, key string) ([]byte, error) {
	name := objectName(collection, key)

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying load operation after error", "attempt", n, "object", name, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	return data, nil
}

// Put stores data under key, overwriting any existing record.
func (b *GCSBackend) Put(ctx context.Context, collection, key string, data []byte) error {
	name := objectName(collection, key)

	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying save operation after error", "attempt", n, "object", name, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	return nil
}

// Append stores data under a generated key and returns it.
func (b *GCSBackend) Append(ctx context.Context, collection string, data []byte) (string, error) {
	key := uuid.NewString()
	if err := b.Put(ctx, collection, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// List returns every record in a collection.
func (b *GCSBackend) List(ctx context.Context, collection string) ([][]byte, error) {
	var records [][]byte

	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{
		Prefix: collection + "/",
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}

		key := strings.TrimSuffix(strings.TrimPrefix(attrs.Name, collection+"/"), ".json")
		data, err := b.Get(ctx, collection, key)
		if err != nil {
			b.logger.Warn("Failed to load record", "object", attrs.Name, "error", err)
			continue
		}
		records = append(records, data)
	}

	return records, nil
}

// Ping verifies the bucket is reachable.
func (b *GCSBackend) Ping(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return err
}
