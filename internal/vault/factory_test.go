package vault

import (
	"context"
	"testing"

	"kin-go/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.VaultConfig
		wantType string
		wantErr  bool
	}{
		{name: "memory", cfg: config.VaultConfig{Type: "memory", Name: "m"}, wantType: "memory"},
		{name: "filesystem", cfg: config.VaultConfig{Type: "filesystem", Name: "fs"}, wantType: "filesystem"},
		{name: "filesystem without root", cfg: config.VaultConfig{Type: "filesystem", Name: "fs"}, wantErr: true},
		{name: "s3", cfg: config.VaultConfig{Type: "s3", Name: "s3", S3Bucket: "b", S3Region: "us-east-1"}, wantType: "s3"},
		{name: "s3 without bucket", cfg: config.VaultConfig{Type: "s3", Name: "s3"}, wantErr: true},
		{name: "s3 with half the credentials", cfg: config.VaultConfig{Type: "s3", Name: "s3", S3Bucket: "b", S3AccessKeyEnv: "KIN_TEST_UNSET_KEY"}, wantErr: true},
		{name: "unknown", cfg: config.VaultConfig{Type: "ftp", Name: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if tt.wantType == "filesystem" {
				cfg.FSVaultRoot = t.TempDir()
			}
			v, err := NewVaultFromConfig(context.Background(), cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewVaultFromConfig() expected error, got %T", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVaultFromConfig() error = %v", err)
			}
			var got string
			switch v.(type) {
			case *MemoryVault:
				got = "memory"
			case *FileSystemVault:
				got = "filesystem"
			case *S3Vault:
				got = "s3"
			}
			if got != tt.wantType {
				t.Errorf("vault type = %s, want %s", got, tt.wantType)
			}
		})
	}
}
