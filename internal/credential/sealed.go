package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/darshan-rambhia/hublens/internal/store"
)

// SealedBackend persists sealed blobs. *store.Store implements it.
type SealedBackend interface {
	PutSealed(instanceID string, nonce, ciphertext []byte) error
	GetSealed(instanceID string) (nonce, ciphertext []byte, err error)
	DeleteSealed(instanceID string) error
}

// SealedStore encrypts secrets with XChaCha20-Poly1305 before handing them
// to the backend. The key lives in a separate file readable only by the
// owner; it is created on first use.
type SealedStore struct {
	backend SealedBackend
	keyPath string

	mu   sync.Mutex
	aead cipher.AEAD
}

// NewSealedStore returns a store sealing secrets with the key at keyPath.
func NewSealedStore(backend SealedBackend, keyPath string) *SealedStore {
	return &SealedStore{backend: backend, keyPath: keyPath}
}

// Get decrypts the secret for id.
func (s *SealedStore) Get(id string) (string, error) {
	aead, err := s.loadCipher()
	if err != nil {
		return "", err
	}
	nonce, ct, err := s.backend.GetSealed(id)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("credential %s: bad nonce size %d", id, len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(id))
	if err != nil {
		return "", fmt.Errorf("opening credential %s: %w", id, err)
	}
	return string(plain), nil
}

// Set seals and stores the secret for id. The instance id is bound as
// associated data so a blob cannot be replayed under another id.
func (s *SealedStore) Set(id, secret string) error {
	aead, err := s.loadCipher()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(secret), []byte(id))
	return s.backend.PutSealed(id, nonce, ct)
}

// Delete removes the sealed secret for id.
func (s *SealedStore) Delete(id string) error {
	return s.backend.DeleteSealed(id)
}

func (s *SealedStore) loadCipher() (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead != nil {
		return s.aead, nil
	}

	key, err := LoadOrGenerateKey(s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.aead = aead
	return aead, nil
}

// LoadOrGenerateKey reads a 32-byte key from path, or generates one and
// writes it with mode 0600 if the file does not exist.
func LoadOrGenerateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s: unexpected size %d", path, len(data))
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	// O_EXCL so two processes racing on first start do not clobber each other.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return LoadOrGenerateKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}
