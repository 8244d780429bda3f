package encryption

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"ib-go/internal/ib"
)

// sealMagic starts every snapshot sealed by TestEncryptor. It is followed by
// the passphrase fingerprint and then the plaintext.
var sealMagic = []byte("IBSEAL1\x00")

const fingerprintLen = 8

// ErrWrongPassphrase is returned when a snapshot was sealed under another passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor stores snapshots in the clear behind a small header. The header
// records a fingerprint of the Setup passphrase so a restore with the wrong
// passphrase fails even in a process that never ran Setup. Snapshots sealed
// before Setup carry an empty fingerprint and open with any passphrase.
type TestEncryptor struct {
	fingerprint [fingerprintLen]byte
	setupCalled bool
}

var _ ib.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func fingerprintOf(passphrase string) [fingerprintLen]byte {
	var fp [fingerprintLen]byte
	sum := sha256.Sum256([]byte(passphrase))
	copy(fp[:], sum[:])
	return fp
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.fingerprint = fingerprintOf(passphrase)
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(sealMagic); err != nil {
		return fmt.Errorf("writing seal header: %w", err)
	}
	if _, err := w.Write(e.fingerprint[:]); err != nil {
		return fmt.Errorf("writing seal header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}

// Unlock fails early when this process ran Setup with a different passphrase.
// Otherwise the check happens in Decrypt against the sealed fingerprint.
func (e *TestEncryptor) Unlock(passphrase string) (ib.DecryptionContext, error) {
	fp := fingerprintOf(passphrase)
	if e.setupCalled && fp != e.fingerprint {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{fingerprint: fp}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext opens snapshots sealed by TestEncryptor.
type TestDecryptionContext struct {
	fingerprint [fingerprintLen]byte
}

var _ ib.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(sealMagic)+fingerprintLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading seal header: %w", err)
	}
	if !bytes.Equal(header[:len(sealMagic)], sealMagic) {
		return fmt.Errorf("not a sealed snapshot")
	}

	var sealed [fingerprintLen]byte
	copy(sealed[:], header[len(sealMagic):])
	if sealed != ([fingerprintLen]byte{}) && sealed != c.fingerprint {
		return ErrWrongPassphrase
	}

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}
