package push

import (
	"encoding/json"

	"github.com/ylogx/application-services/pkg/storage"
)

const (
	identityKey     = "meta/identity"
	recordKeyPrefix = "record/"
)

// SubscriptionStore owns the mapping from channel id to subscription
// record, plus the single connection identity record, on top of the
// keyed record store collaborator. Backing-store failures surface as
// *StorageError; operations touch at most the single record named.
type SubscriptionStore struct {
	backend storage.Store
}

// NewSubscriptionStore wraps a storage backend.
func NewSubscriptionStore(backend storage.Store) *SubscriptionStore {
	return &SubscriptionStore{backend: backend}
}

// Insert persists a record, overwriting any record with the same
// channel id.
func (s *SubscriptionStore) Insert(record *PushRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return &StorageError{Op: "encode record", Err: err}
	}
	if err := s.backend.Put(recordKeyPrefix+record.ChannelID, value); err != nil {
		return &StorageError{Op: "insert record", Err: err}
	}
	return nil
}

// Get returns the record for a channel id, or nil when absent.
func (s *SubscriptionStore) Get(channelID string) (*PushRecord, error) {
	value, ok, err := s.backend.Get(recordKeyPrefix + channelID)
	if err != nil {
		return nil, &StorageError{Op: "get record", Err: err}
	}
	if !ok {
		return nil, nil
	}
	var record PushRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, &StorageError{Op: "decode record", Err: err}
	}
	return &record, nil
}

// Delete removes the record for a channel id, reporting whether one
// existed.
func (s *SubscriptionStore) Delete(channelID string) (bool, error) {
	existed, err := s.backend.Delete(recordKeyPrefix + channelID)
	if err != nil {
		return false, &StorageError{Op: "delete record", Err: err}
	}
	return existed, nil
}

// DeleteAll removes every subscription record and returns the removed
// records so callers can emit change notifications.
func (s *SubscriptionStore) DeleteAll() ([]PushRecord, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if _, err := s.backend.Delete(recordKeyPrefix + record.ChannelID); err != nil {
			return nil, &StorageError{Op: "delete record", Err: err}
		}
	}
	return records, nil
}

// List returns every subscription record.
func (s *SubscriptionStore) List() ([]PushRecord, error) {
	stored, err := s.backend.List(recordKeyPrefix)
	if err != nil {
		return nil, &StorageError{Op: "list records", Err: err}
	}
	records := make([]PushRecord, 0, len(stored))
	for _, item := range stored {
		var record PushRecord
		if err := json.Unmarshal(item.Value, &record); err != nil {
			return nil, &StorageError{Op: "decode record", Err: err}
		}
		records = append(records, record)
	}
	return records, nil
}

// Identity returns the stored connection identity, or nil when this
// installation has never registered.
func (s *SubscriptionStore) Identity() (*Identity, error) {
	value, ok, err := s.backend.Get(identityKey)
	if err != nil {
		return nil, &StorageError{Op: "get identity", Err: err}
	}
	if !ok {
		return nil, nil
	}
	var identity Identity
	if err := json.Unmarshal(value, &identity); err != nil {
		return nil, &StorageError{Op: "decode identity", Err: err}
	}
	return &identity, nil
}

// SaveIdentity persists the connection identity.
func (s *SubscriptionStore) SaveIdentity(identity *Identity) error {
	value, err := json.Marshal(identity)
	if err != nil {
		return &StorageError{Op: "encode identity", Err: err}
	}
	if err := s.backend.Put(identityKey, value); err != nil {
		return &StorageError{Op: "save identity", Err: err}
	}
	return nil
}

// ClearIdentity removes the stored connection identity.
func (s *SubscriptionStore) ClearIdentity() error {
	if _, err := s.backend.Delete(identityKey); err != nil {
		return &StorageError{Op: "clear identity", Err: err}
	}
	return nil
}
