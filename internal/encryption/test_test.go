package encryption

import (
	"bytes"
	"strings"
	"testing"
)

func TestTestEncryptor(t *testing.T) {
	t.Run("frames and unframes", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		var sealed bytes.Buffer
		if err := e.Encrypt(strings.NewReader("snapshot"), &sealed); err != nil {
			t.Fatal(err)
		}
		if sealed.String() == "snapshot" {
			t.Error("output is identical to input")
		}
		dc, err := e.Unlock("")
		if err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer
		if err := dc.Decrypt(&sealed, &out); err != nil || out.String() != "snapshot" {
			t.Errorf("Decrypt() = %q, %v", out.String(), err)
		}
	})

	t.Run("rejects unframed data", func(t *testing.T) {
		t.Parallel()
		dc, _ := NewTestEncryptor().Unlock("")
		if err := dc.Decrypt(strings.NewReader("plain text here"), &bytes.Buffer{}); err == nil {
			t.Error("Decrypt() accepted unframed data")
		}
	})

	t.Run("checks the passphrase after setup", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		if err := e.Setup("pw"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Unlock("nope"); err == nil {
			t.Error("Unlock() accepted a wrong passphrase")
		}
		if _, err := e.Unlock("pw"); err != nil {
			t.Errorf("Unlock() error = %v", err)
		}
	})
}
