// Package push manages WebPush-style subscriptions for an application
// that delivers messages through a push relay service bridged to a
// platform-native transport. The Manager owns the connection identity,
// the per-channel subscription records and their key material, the
// reconciliation of local versus relay state, and the decryption of
// inbound message payloads.
package push

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ylogx/application-services/pkg/ece"
	"github.com/ylogx/application-services/pkg/storage"
)

// Manager is the subscription lifecycle manager. All public operations
// execute under a single mutex: the call frequency of this API is low
// (interactive subscribe/unsubscribe plus a periodic verify), so one
// critical section keeps the identity and the subscription set
// consistent without finer-grained locking.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	backend storage.Store
	store   *SubscriptionStore
	conn    Connection
	reg     *registrationController
	rec     *reconciler
	log     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates a Manager on top of a record store backend and a
// relay connection. No network call happens here; registration is
// deferred until the first subscribing operation.
func NewManager(cfg Config, backend storage.Store, conn Connection, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push configuration: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if conn == nil {
		return nil, fmt.Errorf("relay connection is required")
	}

	m := &Manager{
		cfg:     cfg,
		backend: backend,
		store:   NewSubscriptionStore(backend),
		conn:    conn,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reg = &registrationController{cfg: cfg, store: m.store, conn: conn, log: m.log}
	m.rec = &reconciler{store: m.store, conn: conn, log: m.log}
	return m, nil
}

// Subscribe creates a subscription for a channel and returns the info
// an application server needs to push to it. An empty channelID asks
// the manager to generate one. scope is an opaque consumer string;
// appServerKey optionally pins the subscription to a VAPID key.
//
// Subscribing an already-subscribed channel id returns the existing
// subscription unchanged, preserving channel id uniqueness.
func (m *Manager) Subscribe(ctx context.Context, channelID, scope, appServerKey string) (*SubscriptionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.reg.ensureRegistered(ctx)
	if err != nil {
		return nil, err
	}

	channelID, err = normalizeChannelID(channelID)
	if err != nil {
		return nil, err
	}

	if existing, err := m.store.Get(channelID); err != nil {
		return nil, err
	} else if existing != nil {
		return &SubscriptionResponse{
			ChannelID:        existing.ChannelID,
			SubscriptionInfo: existing.SubscriptionInfo(),
		}, nil
	}

	privateKey, publicKey, err := ece.GenerateKeyPair()
	if err != nil {
		return nil, &CryptoError{Op: "key generation", Err: err}
	}
	authSecret, err := ece.GenerateAuthSecret()
	if err != nil {
		return nil, &CryptoError{Op: "auth secret generation", Err: err}
	}

	// Nothing has been persisted yet; a failure here leaves no partial
	// record behind.
	endpoint, err := m.conn.CreateChannel(ctx, identity.UAID, channelID, appServerKey)
	if err != nil {
		return nil, err
	}

	record := &PushRecord{
		ChannelID:    channelID,
		Scope:        scope,
		Endpoint:     endpoint,
		PublicKey:    publicKey,
		PrivateKey:   privateKey,
		AuthSecret:   authSecret,
		AppServerKey: appServerKey,
	}
	if err := m.store.Insert(record); err != nil {
		// The remote channel now exists without a local record. That
		// divergence heals on the next VerifyConnection, which deletes
		// remote orphans.
		return nil, err
	}

	m.log.Debug("subscribed channel",
		zap.String("channel_id", channelID), zap.String("scope", scope))
	return &SubscriptionResponse{
		ChannelID:        record.ChannelID,
		SubscriptionInfo: record.SubscriptionInfo(),
	}, nil
}

// Unsubscribe ends a subscription. An empty channelID ends every
// subscription for this installation. It returns false either when the
// named channel had no local record or when the relay reports the
// identity invalid; after the latter, a following VerifyConnection may
// report endpoint churn.
func (m *Manager) Unsubscribe(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.reg.ensureRegistered(ctx)
	if err != nil {
		return false, err
	}

	if channelID == "" {
		return m.unsubscribeAllLocked(ctx, identity)
	}

	channelID, err = normalizeChannelID(channelID)
	if err != nil {
		return false, err
	}

	// Remote delete first: a failed relay call must leave the local
	// record exactly as it was.
	if err := m.conn.DeleteChannel(ctx, identity.UAID, channelID); err != nil {
		if IsIdentityInvalid(err) {
			return false, nil
		}
		return false, err
	}
	existed, err := m.store.Delete(channelID)
	if err != nil {
		return false, err
	}
	return existed, nil
}

// UnsubscribeAll ends every subscription for this installation.
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.reg.ensureRegistered(ctx)
	if err != nil {
		return err
	}
	_, err = m.unsubscribeAllLocked(ctx, identity)
	return err
}

func (m *Manager) unsubscribeAllLocked(ctx context.Context, identity *Identity) (bool, error) {
	// Remote delete first: a failed relay call must leave the local
	// records exactly as they were.
	if err := m.conn.DeleteRegistration(ctx, identity.UAID); err != nil {
		if IsIdentityInvalid(err) {
			return false, nil
		}
		return false, err
	}
	removed, err := m.store.DeleteAll()
	if err != nil {
		return false, err
	}
	m.log.Debug("unsubscribed all channels", zap.Int("count", len(removed)))
	return true, nil
}

// Update informs the relay service that the native transport token
// changed. It returns false when the relay reports the identity
// invalid; the subsequent VerifyConnection may then report new channel
// endpoints.
func (m *Manager) Update(ctx context.Context, newToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.updateToken(ctx, newToken)
}

// VerifyConnection checks whether the relay's channel set matches the
// local one and returns the channels the caller must treat as changed.
// It does not resubscribe to anything; callers decide how and when to
// renegotiate. Applications should call this periodically, about once
// a day.
func (m *Manager) VerifyConnection(ctx context.Context) ([]SubscriptionChanged, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.verify(ctx)
}

// Decrypt decrypts a raw push message for a channel. body, salt and dh
// are base64 values as delivered in the message envelope; encoding is
// the Content-Encoding field ("aes128gcm" when absent). A message for
// an unknown channel fails with ErrRecordNotFound before any key
// derivation.
func (m *Manager) Decrypt(channelID, body, encoding, salt, dh string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.store.Get(channelID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, channelID)
	}

	rawBody, err := ece.DecodeBase64(body)
	if err != nil {
		return nil, &CryptoError{Op: "decode message body", Err: err}
	}
	var rawSalt, rawDH []byte
	if salt != "" {
		if rawSalt, err = ece.DecodeBase64(salt); err != nil {
			return nil, &CryptoError{Op: "decode salt header", Err: err}
		}
	}
	if dh != "" {
		if rawDH, err = ece.DecodeBase64(dh); err != nil {
			return nil, &CryptoError{Op: "decode dh header", Err: err}
		}
	}

	plaintext, err := ece.Decrypt(record.PrivateKey, record.AuthSecret, rawBody, encoding, rawSalt, rawDH)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt message", Err: err}
	}
	return plaintext, nil
}

// DispatchInfoForChid returns the routing metadata for a channel, or
// nil when the channel is unknown.
func (m *Manager) DispatchInfoForChid(channelID string) (*DispatchInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.store.Get(channelID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	info := record.DispatchInfo()
	return &info, nil
}

// Close flushes and releases the backing store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Close()
}

// normalizeChannelID validates a caller-supplied channel id as a UUID
// and normalizes it to canonical lowercase form, or generates a fresh
// one when empty.
func normalizeChannelID(channelID string) (string, error) {
	if channelID == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(strings.TrimSpace(channelID))
	if err != nil {
		return "", fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}
	return parsed.String(), nil
}
