package testutil

import (
	"testing"

	"ib-go/internal/encryption"
	"ib-go/internal/ib"
	"ib-go/internal/vault"
)

const (
	// TestInstanceID is the instance namespace used by test vaults.
	TestInstanceID = "test-instance"
	// TestPassphrase unlocks snapshots sealed by NewTestEncryptor.
	TestPassphrase = "secret"
)

// NewTestVault creates an empty in-memory snapshot vault.
func NewTestVault() ib.Vault {
	return vault.NewMemoryVault("test-vault", TestInstanceID)
}

// NewTestEncryptor returns a non-cryptographic encryptor already set up with TestPassphrase.
func NewTestEncryptor(t *testing.T) ib.Encryptor {
	t.Helper()
	enc := encryption.NewTestEncryptor()
	if err := enc.Setup(TestPassphrase); err != nil {
		t.Fatalf("setting up test encryptor: %v", err)
	}
	return enc
}
