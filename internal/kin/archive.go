package kin

import (
	"context"
	"io"
)

// Snapshot names stored in a vault.
const (
	SnapshotDB         = "db"
	SnapshotPeople     = "people"
	SnapshotPublicKey  = "public_key"
	SnapshotPrivateKey = "private_key"
)

// Vault stores encrypted snapshots of the registry, one per host and name.
// Every write carries a version (the newest sync run ID) so a host can tell
// whether the archive is ahead of its local copy.
type Vault interface {
	// PutSnapshot replaces the named snapshot. size is the number of bytes
	// that will be read from r.
	PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the named snapshot to w. A missing snapshot returns
	// an error wrapping ErrNotFound.
	GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error

	// GetSnapshotVersion returns the version stored with the snapshot, or 0
	// if there is none.
	GetSnapshotVersion(ctx context.Context, hostID, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts snapshots with a public key and unlocks the private
// key with a passphrase for restores.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts r into w. No passphrase is needed.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. A wrong passphrase returns an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both keys are present.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for one restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
