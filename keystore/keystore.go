// Package keystore supplies the treasury signing key, either from a WIF in
// the environment or from an argon2id/AES-GCM encrypted key file.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// KeySource yields the treasury private key. Implementations return
// ErrKeyNotConfigured when they hold no key.
type KeySource interface {
	PrivateKey(ctx context.Context) (*ec.PrivateKey, error)
}

// EnvKeySource holds a WIF read from configuration.
type EnvKeySource struct {
	WIF string
}

// PrivateKey parses the WIF.
func (s EnvKeySource) PrivateKey(_ context.Context) (*ec.PrivateKey, error) {
	return ParseWIF(s.WIF)
}

// ParseWIF decodes a WIF private key. An empty string is ErrKeyNotConfigured.
func ParseWIF(wif string) (*ec.PrivateKey, error) {
	wif = strings.TrimSpace(wif)
	if wif == "" {
		return nil, ErrKeyNotConfigured
	}
	key, err := ec.PrivateKeyFromWif(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}

// FileKeySource reads a key file written by EncryptKey. The decrypted key is
// cached after the first successful read.
type FileKeySource struct {
	Path       string
	Passphrase string

	mu  sync.Mutex
	key *ec.PrivateKey
}

// NewFileKeySource creates a key source for the encrypted file at path.
func NewFileKeySource(path, passphrase string) *FileKeySource {
	return &FileKeySource{Path: path, Passphrase: passphrase}
}

// PrivateKey decrypts the key file.
func (s *FileKeySource) PrivateKey(_ context.Context) (*ec.PrivateKey, error) {
	if s.Path == "" {
		return nil, ErrKeyNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrKeyNotConfigured, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read key file: %w", err)
	}
	wif, err := DecryptKey(data, s.Passphrase)
	if err != nil {
		return nil, err
	}
	key, err := ParseWIF(string(wif))
	if err != nil {
		return nil, err
	}
	s.key = key
	return key, nil
}

// WriteKeyFile encrypts wif with passphrase and writes it to path with mode 0600.
func WriteKeyFile(path, wif, passphrase string) error {
	if _, err := ParseWIF(wif); err != nil {
		return err
	}
	data, err := EncryptKey([]byte(strings.TrimSpace(wif)), passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("keystore: write key file: %w", err)
	}
	return nil
}

// Chain tries each source in order and returns the first configured key.
type Chain []KeySource

// PrivateKey returns the first key that is configured. Errors other than
// ErrKeyNotConfigured stop the search.
func (c Chain) PrivateKey(ctx context.Context) (*ec.PrivateKey, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.PrivateKey(ctx)
		if errors.Is(err, ErrKeyNotConfigured) {
			continue
		}
		return key, err
	}
	return nil, ErrKeyNotConfigured
}
