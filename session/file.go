package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists the session as a JSON document on disk. When a passphrase
// is configured the document is sealed with argon2id + XChaCha20-Poly1305.
//
// A missing file is an empty session. Writes go to a temp file in the same
// directory and are renamed over the target, so readers never see a partial
// document.
type FileStore struct {
	path       string
	passphrase string
	kdf        KDFParams
	mode       os.FileMode

	mu sync.Mutex
}

// FileOption configures FileStore.
type FileOption func(*FileStore) error

// WithPassphrase seals the file with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(s *FileStore) error {
		if passphrase == "" {
			return errors.New("empty passphrase")
		}
		s.passphrase = passphrase
		return nil
	}
}

// WithKDFParams overrides the argon2id parameters used for new writes.
func WithKDFParams(p KDFParams) FileOption {
	return func(s *FileStore) error {
		if err := p.validate(); err != nil {
			return err
		}
		s.kdf = p
		return nil
	}
}

// NewFileStore creates a store backed by the file at path. Parent directories
// are created with 0700 on first Save.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session file path required")
	}
	s := &FileStore{
		path: path,
		kdf:  DefaultKDFParams(),
		mode: 0o600,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and (if sealed) decrypts the session file.
func (s *FileStore) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if s.passphrase != "" {
		if b, err = open(s.passphrase, b); err != nil {
			return Session{}, err
		}
	}

	var out Session
	if err := json.Unmarshal(b, &out); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return out, nil
}

// Save atomically replaces the session file.
func (s *FileStore) Save(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sess.Valid() {
		return ErrInvalidSession
	}

	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if s.passphrase != "" {
		if b, err = seal(s.passphrase, b, s.kdf); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.path, b, s.mode)
}

// Clear removes the session file. Clearing an absent file is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ Store = (*FileStore)(nil)
