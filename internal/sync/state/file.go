package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// StateFileName is the name of the file holding all keys
	StateFileName = "state.json"

	lockRetryDelay = 50 * time.Millisecond
)

// FileStore persists values as a JSON object in <dir>/state.json.
// Writes go to a temporary file that is renamed over the state file, and every
// operation holds a file lock so processes sharing the directory do not
// interleave their read-modify-write cycles.
type FileStore struct {
	path string

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a file store rooted at dir, creating the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, StateFileName)
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the location of the state file
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Store
func (f *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := f.withLock(ctx, true, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		value, found = values[key]
		return nil
	})
	return value, found, err
}

// Set implements Store
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.withLock(ctx, false, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		values[key] = value
		return f.save(values)
	})
}

// Delete implements Store
func (f *FileStore) Delete(ctx context.Context, key string) error {
	return f.withLock(ctx, false, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		if _, ok := values[key]; !ok {
			return nil
		}
		delete(values, key)
		return f.save(values)
	})
}

// withLock runs fn while holding the in-process mutex and the file lock.
// Readers take a shared lock, writers an exclusive one.
func (f *FileStore) withLock(ctx context.Context, shared bool, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = f.lock.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	if !locked {
		return errors.New("failed to lock state file")
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	return fn()
}

func (f *FileStore) load() (map[string]string, error) {
	// #nosec G304 -- path is built from the configured state directory
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}
