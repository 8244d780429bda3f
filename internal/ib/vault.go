package ib

import "io"

// Vault provides an interface for snapshot storage backends.
// All operations use io.Reader/io.Writer for streaming.
type Vault interface {
	// PutSnapshot stores a snapshot under name, replacing any earlier one.
	// size is the number of bytes that will be read from r.
	PutSnapshot(name string, r io.Reader, size int64) error

	// GetSnapshot retrieves a snapshot by name and writes it to w.
	GetSnapshot(name string, w io.Writer) error

	// ListSnapshots returns the names of stored snapshots in ascending order.
	ListSnapshots() ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}

// Encryptor handles encryption of snapshots and unlocking for decryption.
// Encryption uses the public key only. Decryption requires a passphrase to
// unlock the private key, producing a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `ib config init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the encryptor's keys are in place.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the duration
// of a restore. The unlocked key is never written to disk.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
