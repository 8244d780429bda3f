package vault

import (
	"path/filepath"
	"testing"

	"ib-go/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr bool
	}{
		{
			name:    "memory vault",
			cfg:     config.VaultConfig{Type: "memory", Name: "test-memory"},
			wantErr: false,
		},
		{
			name: "s3 vault",
			cfg: config.VaultConfig{
				Type:       "s3",
				Name:       "test-s3",
				S3Bucket:   "my-bucket",
				S3Region:   "us-east-1",
				S3Endpoint: "http://127.0.0.1:9000",
			},
			wantErr: false,
		},
		{
			name:    "s3 vault without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "test-s3", S3Region: "us-east-1"},
			wantErr: true,
		},
		{
			name:    "filesystem vault without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "test-fs"},
			wantErr: true,
		},
		{
			name:    "unknown vault type",
			cfg:     config.VaultConfig{Type: "unknown", Name: "test-unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewVaultFromConfig(tt.cfg, "instance-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && got != nil {
				t.Errorf("NewVaultFromConfig() = %v, want nil on error", got)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewVaultFromConfig() returned nil vault")
			}
		})
	}

	t.Run("filesystem vault", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")
		got, err := NewVaultFromConfig(config.VaultConfig{Type: "filesystem", Name: "fs", FSVaultRoot: root}, "instance-1")
		if err != nil {
			t.Fatalf("NewVaultFromConfig() error = %v", err)
		}
		if err := got.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
