// Package credential holds the single API key used for generation and synthesis.
//
// A Store is constructed once at startup and handed to the components that
// need the key. File-backed stores read lazily on first access and then serve
// from memory.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Sentinel errors.
var (
	// ErrEmpty is returned when storing an empty or whitespace-only key.
	ErrEmpty = errors.New("credential: key must not be empty")
)

// Getter is the read side of a Store.
// Components that only consume the key depend on this.
type Getter interface {
	// Get returns the key, or "" when none is stored.
	Get() (string, error)
}

// Store holds one opaque credential string.
type Store interface {
	Getter

	// Set replaces the stored key.
	Set(key string) error

	// Clear removes the stored key. Clearing an empty store is not an error.
	Clear() error

	// Exists reports whether a non-empty key is stored.
	Exists() bool
}

// MemoryStore keeps the key in memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	key string
}

// NewMemoryStore creates an in-memory store seeded with key (which may be empty).
func NewMemoryStore(key string) *MemoryStore {
	return &MemoryStore{key: strings.TrimSpace(key)}
}

// Get returns the key.
func (m *MemoryStore) Get() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key, nil
}

// Set replaces the key.
func (m *MemoryStore) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmpty
	}
	m.mu.Lock()
	m.key = key
	m.mu.Unlock()
	return nil
}

// Clear removes the key.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.key = ""
	m.mu.Unlock()
	return nil
}

// Exists reports whether a key is set.
func (m *MemoryStore) Exists() bool {
	k, _ := m.Get()
	return k != ""
}

// FileStore persists the key as a small JSON document readable only by the owner.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	key    string
}

type fileData struct {
	APIKey    string `json:"api_key"`
	UpdatedAt string `json:"updated_at"`
}

// NewFileStore creates a store backed by path. Nothing is read until first use.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get returns the key, reading the file on first call.
func (f *FileStore) Get() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return "", err
	}
	return f.key, nil
}

// Set writes the key to disk.
func (f *FileStore) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmpty
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeLocked(key); err != nil {
		return err
	}
	f.key = key
	f.loaded = true
	return nil
}

// Clear deletes the backing file.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: remove %s: %w", f.path, err)
	}
	f.key = ""
	f.loaded = true
	return nil
}

// Exists reports whether a key is stored. Read errors count as "no key".
func (f *FileStore) Exists() bool {
	k, err := f.Get()
	return err == nil && k != ""
}

func (f *FileStore) loadLocked() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("credential: read %s: %w", f.path, err)
	}

	var stored fileData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("credential: parse %s: %w", f.path, err)
	}

	f.key = strings.TrimSpace(stored.APIKey)
	f.loaded = true
	return nil
}

func (f *FileStore) writeLocked(key string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("credential: create directory: %w", err)
	}

	data, err := json.MarshalIndent(fileData{
		APIKey:    key,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}

	// Write to temp file first, then rename
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("credential: rename: %w", err)
	}
	return nil
}

// Layered reads from an override (typically seeded from the environment) before
// falling back to a persistent store. Writes and clears go to the persistent store.
// Clear also drops the override so the key really disappears for this process.
type Layered struct {
	override *MemoryStore
	persist  Store
}

// NewLayered stacks override in front of persist.
func NewLayered(override *MemoryStore, persist Store) *Layered {
	if override == nil {
		override = NewMemoryStore("")
	}
	return &Layered{override: override, persist: persist}
}

// Get returns the override key if set, else the persisted key.
func (l *Layered) Get() (string, error) {
	if k, _ := l.override.Get(); k != "" {
		return k, nil
	}
	return l.persist.Get()
}

// Set persists the key.
func (l *Layered) Set(key string) error {
	if err := l.persist.Set(key); err != nil {
		return err
	}
	// A freshly saved key wins over a stale environment value.
	return l.override.Clear()
}

// Clear removes the key from both layers.
func (l *Layered) Clear() error {
	l.override.Clear()
	return l.persist.Clear()
}

// Exists reports whether either layer has a key.
func (l *Layered) Exists() bool {
	return l.override.Exists() || l.persist.Exists()
}

// Verify implementations at compile time.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*Layered)(nil)
)
