package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalBackend stores records as JSON files under a base directory, one
// subdirectory per collection. Used for local development.
type LocalBackend struct {
	basePath string
	logger   *slog.Logger
}

// NewLocal creates a local-filesystem backend rooted at basePath.
func NewLocal(basePath string, logger *slog.Logger) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return &LocalBackend{basePath: basePath, logger: logger}, nil
}

func (b *LocalBackend) filePath(collection, key string) string {
	return filepath.Join(b.basePath, collection, key+".json")
}

// Get returns the record stored under key, or ErrNotFound.
func (b *LocalBackend) Get(_ context.Context, collection, key string) ([]byte, error) {
	data, err := os.ReadFile(b.filePath(collection, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

// Put stores data under key, overwriting any existing record.
func (b *LocalBackend) Put(_ context.Context, collection, key string, data []byte) error {
	dir := filepath.Join(b.basePath, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}
	if err := os.WriteFile(b.filePath(collection, key), data, 0o600); err != nil {
		return fmt.Errorf("write to local storage: %w", err)
	}
	return nil
}

// Append stores data under a generated key and returns it.
func (b *LocalBackend) Append(ctx context.Context, collection string, data []byte) (string, error) {
	key := uuid.NewString()
	if err := b.Put(ctx, collection, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// List returns every record in a collection.
func (b *LocalBackend) List(ctx context.Context, collection string) ([][]byte, error) {
	entries, err := os.ReadDir(filepath.Join(b.basePath, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read collection directory: %w", err)
	}

	var records [][]byte
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := b.Get(ctx, collection, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			b.logger.Warn("Failed to load record", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, data)
	}
	return records, nil
}

// Ping verifies the base directory exists.
func (b *LocalBackend) Ping(_ context.Context) error {
	_, err := os.Stat(b.basePath)
	return err
}
