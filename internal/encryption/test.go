package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"kin-go/internal/kin"
)

var testMagic = []byte("KINTEST\n")

// TestEncryptor frames data with a fixed header instead of encrypting it.
// It lets archive tests run without keys or a passphrase.
type TestEncryptor struct {
	// Passphrase, when set, is the only passphrase Unlock accepts.
	Passphrase string
}

var _ kin.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.Passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *TestEncryptor) Unlock(passphrase string) (kin.DecryptionContext, error) {
	if e.Passphrase != "" && passphrase != e.Passphrase {
		return nil, errors.New("wrong passphrase")
	}
	return testDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

type testDecryptor struct{}

func (testDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, testMagic) {
		return errors.New("data was not framed by TestEncryptor")
	}
	_, err := io.Copy(w, r)
	return err
}
