package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore implements file-based record persistence. The full record
// set is held in memory and rewritten to disk with an atomic rename on
// every mutation. Values are optionally encrypted at rest so that
// subscription private keys never hit disk in the clear.
type FileStore struct {
	filePath      string
	encryptionKey []byte
	mu            sync.RWMutex
	records       map[string][]byte
}

// NewFileStore creates a new file storage instance. When
// encryptionSecret is non-empty, values are encrypted with AES-GCM
// under a key derived from the secret.
func NewFileStore(filePath, encryptionSecret string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	fs := &FileStore{
		filePath: filePath,
		records:  make(map[string][]byte),
	}
	if encryptionSecret != "" {
		hash := sha256.Sum256([]byte(encryptionSecret))
		fs.encryptionKey = hash[:]
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := fs.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load existing records: %w", err)
	}
	return fs, nil
}

// Put stores a value and syncs to file
func (fs *FileStore) Put(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("record key cannot be empty")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	stored, err := fs.encrypt(value)
	if err != nil {
		return err
	}
	previous, existed := fs.records[key]
	fs.records[key] = stored
	if err := fs.syncToFile(); err != nil {
		// Keep the in-memory view consistent with disk on failure.
		if existed {
			fs.records[key] = previous
		} else {
			delete(fs.records, key)
		}
		return err
	}
	return nil
}

// Get retrieves a value by key
func (fs *FileStore) Get(key string) ([]byte, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	stored, ok := fs.records[key]
	if !ok {
		return nil, false, nil
	}
	value, err := fs.decrypt(stored)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes a key and syncs to file
func (fs *FileStore) Delete(key string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	previous, existed := fs.records[key]
	if !existed {
		return false, nil
	}
	delete(fs.records, key)
	if err := fs.syncToFile(); err != nil {
		fs.records[key] = previous
		return false, err
	}
	return true, nil
}

// List returns all records whose key starts with prefix
func (fs *FileStore) List(prefix string) ([]Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]Record, 0, len(fs.records))
	for key, stored := range fs.records {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := fs.decrypt(stored)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close performs a final sync
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncToFile()
}

// syncToFile writes records to disk via a temp file and atomic rename
func (fs *FileStore) syncToFile() error {
	tempFile := fs.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	data := struct {
		Records   []Record  `json:"records"`
		UpdatedAt time.Time `json:"updated_at"`
	}{
		Records:   make([]Record, 0, len(fs.records)),
		UpdatedAt: time.Now(),
	}
	for key, value := range fs.records {
		data.Records = append(data.Records, Record{Key: key, Value: value})
	}
	sort.Slice(data.Records, func(i, j int) bool { return data.Records[i].Key < data.Records[j].Key })

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&data); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := os.Rename(tempFile, fs.filePath); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// loadFromFile reads records from disk
func (fs *FileStore) loadFromFile() error {
	file, err := os.Open(fs.filePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	var data struct {
		Records []Record `json:"records"`
	}
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}

	fs.records = make(map[string][]byte, len(data.Records))
	for _, record := range data.Records {
		fs.records[record.Key] = record.Value
	}
	return nil
}

// encrypt seals a value with AES-GCM when at-rest encryption is enabled
func (fs *FileStore) encrypt(value []byte) ([]byte, error) {
	if fs.encryptionKey == nil {
		return append([]byte(nil), value...), nil
	}
	gcm, err := fs.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

// decrypt opens a value when at-rest encryption is enabled
func (fs *FileStore) decrypt(stored []byte) ([]byte, error) {
	if fs.encryptionKey == nil {
		return append([]byte(nil), stored...), nil
	}
	gcm, err := fs.aead()
	if err != nil {
		return nil, err
	}
	if len(stored) < gcm.NonceSize() {
		return nil, fmt.Errorf("stored value too short")
	}
	nonce, ciphertext := stored[:gcm.NonceSize()], stored[gcm.NonceSize():]
	value, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt stored value: %w", err)
	}
	return value, nil
}

func (fs *FileStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(fs.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
