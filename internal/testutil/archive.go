package testutil

import (
	"kin-go/internal/encryption"
	"kin-go/internal/vault"
)

// NewTestEncryptor returns an encryptor that frames data without keys.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}

// NewTestVault returns an empty in-memory vault.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
