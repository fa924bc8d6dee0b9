// Package storage provides the keyed record persistence layer used by
// the push subscription manager. Backends persist opaque values by
// string key with single-key atomicity; no cross-key transactions.
package storage

// Record is one persisted key/value pair.
type Record struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Store defines the interface for record persistence
type Store interface {
	// Put persists a value under a key, overwriting any existing value
	Put(key string, value []byte) error

	// Get retrieves a value by key; ok is false when the key is absent
	Get(key string) (value []byte, ok bool, err error)

	// Delete removes a key, reporting whether it existed
	Delete(key string) (bool, error)

	// List returns all records whose key starts with prefix
	List(prefix string) ([]Record, error)

	// Close cleans up any resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "memory", "file", "s3"

	// File storage config
	FilePath string `json:"file_path,omitempty" mapstructure:"file_path"`
	// EncryptionSecret enables at-rest encryption of values when set
	EncryptionSecret string `json:"encryption_secret,omitempty" mapstructure:"encryption_secret"`

	// S3 storage config
	S3Bucket    string `json:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Region    string `json:"s3_region,omitempty" mapstructure:"s3_region"`
	S3Prefix    string `json:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
	S3Endpoint  string `json:"s3_endpoint,omitempty" mapstructure:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key,omitempty" mapstructure:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key,omitempty" mapstructure:"s3_secret_key"`
}
