package storage

import (
	"fmt"
)

// NewStore creates a storage backend based on the configuration
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.FilePath, cfg.EncryptionSecret)
	case "s3":
		return NewS3Store(cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
