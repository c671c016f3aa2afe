// Package keyprovider supplies the at-rest encryption key for the store.
// Key storage mechanics are opaque to the storage engine: it only calls
// GetOrCreateKey before opening and DeleteKey when the store is destroyed.
package keyprovider

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeySize is the length in bytes of generated keys.
const KeySize = 32

// Provider hands out the database encryption key.
type Provider interface {
	GetOrCreateKey() ([]byte, error)
	DeleteKey() error
}

// File keeps the key as raw bytes in a single file with 0600 permissions.
type File struct {
	Path string
}

// NewFile returns a provider storing its key at <root>/.key.
func NewFile(root string) *File {
	return &File{Path: filepath.Join(root, ".key")}
}

// GetOrCreateKey reads the key file, generating and persisting a fresh
// random key on first use.
func (f *File) GetOrCreateKey() ([]byte, error) {
	key, err := os.ReadFile(f.Path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", f.Path, KeySize, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	// O_EXCL so two processes racing on first use cannot both win.
	file, err := os.OpenFile(f.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return f.GetOrCreateKey()
		}
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := file.Write(key); err != nil {
		file.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	return key, nil
}

// DeleteKey removes the key file. Deleting a missing key is not an error.
func (f *File) DeleteKey() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

// Static serves a fixed key. Useful for tests and for keys injected by a
// parent process.
type Static []byte

// GetOrCreateKey returns the fixed key.
func (s Static) GetOrCreateKey() ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("static key is empty")
	}
	return []byte(s), nil
}

// DeleteKey is a no-op.
func (Static) DeleteKey() error { return nil }
