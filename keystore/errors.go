package keystore

import "errors"

var (
	// ErrKeyNotConfigured indicates no treasury private key is available.
	ErrKeyNotConfigured = errors.New("keystore: treasury private key not configured")

	// ErrInvalidKey indicates the configured key is not a valid WIF.
	ErrInvalidKey = errors.New("keystore: invalid WIF private key")

	// ErrDecryptionFailed indicates wrong passphrase or corrupted key file.
	ErrDecryptionFailed = errors.New("keystore: key decryption failed (wrong passphrase or corrupted data)")

	// ErrChecksumMismatch indicates key checksum verification failed after decryption.
	ErrChecksumMismatch = errors.New("keystore: key checksum mismatch")
)
