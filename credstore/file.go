package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type codec interface {
	encode(plaintext []byte) ([]byte, error)
	decode(data []byte) ([]byte, error)
}

type plainCodec struct{}

func (plainCodec) encode(b []byte) ([]byte, error) { return b, nil }
func (plainCodec) decode(b []byte) ([]byte, error) { return b, nil }

// File stores the credential set as a JSON document on disk.
//
// Writes go to a temporary file in the same directory and are renamed into
// place, so a crash never leaves a half-written document behind.
type File struct {
	path  string
	codec codec
	mu    sync.Mutex
}

// NewFile returns a plaintext JSON file backend at path.
func NewFile(path string) *File {
	return &File{path: path, codec: plainCodec{}}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(context.Context) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	plain, err := f.codec.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode credentials file: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return &c, nil
}

func (f *File) Save(_ context.Context, c Credentials) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return err
	}
	data, err := f.codec.encode(plain)
	if err != nil {
		return fmt.Errorf("encode credentials file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

func (f *File) Delete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials file: %w", err)
	}
	return nil
}
