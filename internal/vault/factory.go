package vault

import (
	"context"
	"fmt"
	"os"

	"ib-go/internal/config"
	"ib-go/internal/ib"
)

// Environment variables holding static S3 credentials. When unset the default
// AWS credential chain is used.
const (
	EnvS3AccessKeyID     = "IB_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "IB_S3_SECRET_ACCESS_KEY"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(cfg config.VaultConfig, instanceID string) (ib.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name, instanceID), nil
	case "s3":
		v, err := NewS3Vault(context.Background(), cfg.Name, instanceID, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv(EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot, instanceID)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
