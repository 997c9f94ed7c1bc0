package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"kin-go/internal/config"
	"kin-go/internal/database"
	"kin-go/internal/encryption"
	"kin-go/internal/kin"
	"kin-go/internal/vault"
)

// Archive pushes encrypted snapshots of the registry to a vault and restores
// them. The database snapshot is versioned with the newest sync run ID.
type Archive struct {
	hostID    string
	keys      config.EncryptionConfig
	vault     kin.Vault
	encryptor kin.Encryptor
	logger    kin.Logger
}

// NewArchive creates an Archive from the archive section of cfg.
func NewArchive(ctx context.Context, cfg *config.Config, logger kin.Logger) (*Archive, error) {
	v, err := vault.NewVaultFromConfig(ctx, cfg.Archive.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Archive.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	return newArchive(cfg.HostID, cfg.Archive.Encryption, v, enc, logger), nil
}

func newArchive(hostID string, keys config.EncryptionConfig, v kin.Vault, enc kin.Encryptor, logger kin.Logger) *Archive {
	return &Archive{hostID: hostID, keys: keys, vault: v, encryptor: enc, logger: logger}
}

// RemoteVersion returns the version of the archived database, 0 if none.
func (a *Archive) RemoteVersion(ctx context.Context) (int64, error) {
	return a.vault.GetSnapshotVersion(ctx, a.hostID, kin.SnapshotDB)
}

// CheckVersion fails with ErrConflict when the archive holds a newer
// database than local.
func (a *Archive) CheckVersion(ctx context.Context, local int64) error {
	remote, err := a.RemoteVersion(ctx)
	if err != nil {
		return fmt.Errorf("checking archive version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("local registry is behind the archive (local=%d, archive=%d): run kin archive restore: %w", local, remote, kin.ErrConflict)
	}
	return nil
}

// InitKeys generates the key pair and uploads both keys to the vault. The
// private key leaves this host only in its passphrase-sealed form.
func (a *Archive) InitKeys(ctx context.Context, passphrase string) error {
	if err := a.vault.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating vault: %w", err)
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	for name, path := range map[string]string{
		kin.SnapshotPublicKey:  a.keys.PublicKeyPath,
		kin.SnapshotPrivateKey: a.keys.PrivateKeyPath,
	} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := a.vault.PutSnapshot(ctx, a.hostID, name, bytes.NewReader(data), int64(len(data)), 0); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
	}
	a.logger.Info("archive keys initialized", "host", a.hostID)
	return nil
}

// Push encrypts a consistent copy of db and the person snapshot at
// peoplePath (skipped when empty) and uploads both at version.
func (a *Archive) Push(ctx context.Context, db *database.SQLiteDatabase, peoplePath string, version int64) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("archive keys are not initialized: run kin keys init")
	}

	tmpDir, err := os.MkdirTemp("", "kin-archive-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbCopy := filepath.Join(tmpDir, "kin.db")
	if err := db.BackupTo(ctx, dbCopy); err != nil {
		return err
	}
	if err := a.pushFile(ctx, kin.SnapshotDB, dbCopy, version); err != nil {
		return err
	}

	if peoplePath != "" {
		if err := a.pushFile(ctx, kin.SnapshotPeople, peoplePath, version); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	a.logger.Info("archive pushed", "host", a.hostID, "version", version)
	return nil
}

func (a *Archive) pushFile(ctx context.Context, name, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s snapshot: %w", name, err)
	}
	defer f.Close()

	var sealed bytes.Buffer
	if err := a.encryptor.Encrypt(f, &sealed); err != nil {
		return fmt.Errorf("encrypting %s snapshot: %w", name, err)
	}
	size := int64(sealed.Len())
	if err := a.vault.PutSnapshot(ctx, a.hostID, name, &sealed, size, version); err != nil {
		return fmt.Errorf("uploading %s snapshot: %w", name, err)
	}
	return nil
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Version        int64 `json:"version"`
	People         bool  `json:"people"`
	KeysDownloaded bool  `json:"keys_downloaded"`
}

// Restore downloads and decrypts the archived database into dbPath and the
// person snapshot into peoplePath (skipped when empty). Keys missing locally
// are fetched from the vault first.
func (a *Archive) Restore(ctx context.Context, passphrase, dbPath, peoplePath string) (*RestoreResult, error) {
	res := &RestoreResult{}
	if !a.encryptor.IsConfigured() {
		if err := a.fetchKeys(ctx); err != nil {
			return nil, err
		}
		res.KeysDownloaded = true
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	version, err := a.RemoteVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking archive version: %w", err)
	}
	if err := a.restoreFile(ctx, dec, kin.SnapshotDB, dbPath); err != nil {
		return nil, err
	}
	res.Version = version

	if peoplePath != "" {
		err := a.restoreFile(ctx, dec, kin.SnapshotPeople, peoplePath)
		switch {
		case err == nil:
			res.People = true
		case errors.Is(err, kin.ErrNotFound):
			a.logger.Warn("archive has no person snapshot", "host", a.hostID)
		default:
			return nil, err
		}
	}
	a.logger.Info("archive restored", "host", a.hostID, "version", version)
	return res, nil
}

func (a *Archive) fetchKeys(ctx context.Context) error {
	for _, k := range []struct {
		name string
		path string
		perm os.FileMode
	}{
		{kin.SnapshotPublicKey, a.keys.PublicKeyPath, 0o644},
		{kin.SnapshotPrivateKey, a.keys.PrivateKeyPath, 0o600},
	} {
		if k.path == "" {
			return fmt.Errorf("no local path configured for %s", k.name)
		}
		var buf bytes.Buffer
		if err := a.vault.GetSnapshot(ctx, a.hostID, k.name, &buf); err != nil {
			return fmt.Errorf("downloading %s: %w", k.name, err)
		}
		if err := writeFileAtomic(k.path, &buf, k.perm); err != nil {
			return fmt.Errorf("installing %s: %w", k.name, err)
		}
	}
	return nil
}

func (a *Archive) restoreFile(ctx context.Context, dec kin.DecryptionContext, name, dest string) error {
	var sealed bytes.Buffer
	if err := a.vault.GetSnapshot(ctx, a.hostID, name, &sealed); err != nil {
		return fmt.Errorf("downloading %s snapshot: %w", name, err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		return fmt.Errorf("decrypting %s snapshot: %w", name, err)
	}
	if err := writeFileAtomic(dest, &plain, 0o600); err != nil {
		return fmt.Errorf("installing %s snapshot: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes r to path through a temp file and a rename.
func writeFileAtomic(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
