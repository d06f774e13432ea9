package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockTimeout bounds how long File waits for the cross-process lock. Past it the
// operation proceeds unlocked rather than hanging the caller.
const LockTimeout = 100 * time.Millisecond

// File keeps every key in one JSON document on disk, the way a browser keeps
// local storage. Writes go through a temp file and a rename, and a lock file
// serializes concurrent processes.
type File struct {
	path   string
	logger *slog.Logger
}

// NewFile returns a File store rooted at path. The parent directory is created
// on first write.
func NewFile(path string, logger *slog.Logger) *File {
	return &File{path: path, logger: logger}
}

// Get reads key from the document.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	unlock, err := f.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set replaces key in the document.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	unlock, err := f.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := f.read()
	if err != nil {
		// A corrupt document is replaced rather than blocking every write.
		f.logger.Warn("Discarding unreadable store file", "path", f.path, "error", err)
		doc = make(map[string]string)
	}
	doc[key] = string(value)
	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	doc := make(map[string]string)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode store file: %w", err)
	}
	return doc, nil
}

func (f *File) write(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// lock takes the shared or exclusive lock. On timeout it returns a no-op
// unlock so the caller proceeds without coordination.
func (f *File) lock(ctx context.Context, exclusive bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	fl := flock.New(f.path + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(lockCtx, 10*time.Millisecond)
	} else {
		locked, err = fl.TryRLockContext(lockCtx, 10*time.Millisecond)
	}
	if err != nil {
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			f.logger.Debug("Store lock timed out, continuing unlocked", "path", f.path)
			return func() {}, nil
		}
		return nil, fmt.Errorf("failed to lock store file: %w", err)
	}
	if !locked {
		return func() {}, nil
	}
	return func() { _ = fl.Unlock() }, nil
}
