package push

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ylogx/application-services/pkg/ece"
	"github.com/ylogx/application-services/pkg/storage"
)

// fakeConn is an in-memory Connection tracking call counts and channel
// state, with per-method failure injection.
type fakeConn struct {
	registerCalls int
	uaid          string
	token         string
	channels      map[string]string // channel id -> endpoint

	registerErr      error
	createChannelErr error
	deleteChannelErr error
	deleteRegErr     error
	updateTokenErr   error
	listChannelsErr  error

	deletedChannels []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		uaid:     "uaid-" + uuid.NewString(),
		channels: map[string]string{},
	}
}

func (f *fakeConn) RegisterInstance(ctx context.Context, senderID, bridgeType, token string) (string, error) {
	f.registerCalls++
	if f.registerErr != nil {
		return "", f.registerErr
	}
	f.token = token
	return f.uaid, nil
}

func (f *fakeConn) CreateChannel(ctx context.Context, uaid, channelID, appServerKey string) (string, error) {
	if f.createChannelErr != nil {
		return "", f.createChannelErr
	}
	endpoint := fmt.Sprintf("https://relay.example/push/%s", channelID)
	f.channels[channelID] = endpoint
	return endpoint, nil
}

func (f *fakeConn) DeleteChannel(ctx context.Context, uaid, channelID string) error {
	if f.deleteChannelErr != nil {
		return f.deleteChannelErr
	}
	delete(f.channels, channelID)
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeConn) DeleteRegistration(ctx context.Context, uaid string) error {
	if f.deleteRegErr != nil {
		return f.deleteRegErr
	}
	f.channels = map[string]string{}
	return nil
}

func (f *fakeConn) UpdateToken(ctx context.Context, uaid, token string) error {
	if f.updateTokenErr != nil {
		return f.updateTokenErr
	}
	f.token = token
	return nil
}

func (f *fakeConn) ListChannels(ctx context.Context, uaid string) ([]string, error) {
	if f.listChannelsErr != nil {
		return nil, f.listChannelsErr
	}
	ids := make([]string, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	return ids, nil
}

func identityInvalidErr(op string) *CommunicationError {
	return &CommunicationError{Op: op, Status: 410, Class: CommIdentityInvalid}
}

func newTestManager(t *testing.T, conn Connection) *Manager {
	t.Helper()
	cfg := Config{
		SenderID:   "test-sender",
		BridgeType: "fcm",
	}
	manager, err := NewManager(cfg, storage.NewMemoryStore(), conn)
	require.NoError(t, err)
	return manager
}

func TestNewManagerValidation(t *testing.T) {
	backend := storage.NewMemoryStore()
	conn := newFakeConn()

	_, err := NewManager(Config{BridgeType: "fcm"}, backend, conn)
	assert.Error(t, err, "missing sender id must be rejected")

	_, err = NewManager(Config{SenderID: "s", BridgeType: "fcm"}, nil, conn)
	assert.Error(t, err, "nil backend must be rejected")

	_, err = NewManager(Config{SenderID: "s", BridgeType: "fcm"}, backend, nil)
	assert.Error(t, err, "nil connection must be rejected")
}

func TestSubscribeRegistersLazily(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	assert.Equal(t, 0, conn.registerCalls, "construction must not register")

	first, err := manager.Subscribe(ctx, "", "scope-a", "")
	require.NoError(t, err)
	assert.Equal(t, 1, conn.registerCalls)

	second, err := manager.Subscribe(ctx, "", "scope-b", "")
	require.NoError(t, err)
	assert.Equal(t, 1, conn.registerCalls, "identity is registered exactly once")

	assert.NotEqual(t, first.ChannelID, second.ChannelID)
	assert.NotEqual(t, first.SubscriptionInfo.Keys.P256DH, second.SubscriptionInfo.Keys.P256DH,
		"each channel gets its own key material")
}

func TestSubscribeReturnsInfo(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)

	resp, err := manager.Subscribe(context.Background(), "", "app://example", "")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(resp.ChannelID)
	assert.NoError(t, parseErr, "generated channel id must be a UUID")
	assert.Equal(t, conn.channels[resp.ChannelID], resp.SubscriptionInfo.Endpoint)

	p256dh, err := ece.DecodeBase64(resp.SubscriptionInfo.Keys.P256DH)
	require.NoError(t, err)
	assert.Len(t, p256dh, 65)
	auth, err := ece.DecodeBase64(resp.SubscriptionInfo.Keys.Auth)
	require.NoError(t, err)
	assert.Len(t, auth, ece.AuthSecretLength)

	info, err := manager.DispatchInfoForChid(resp.ChannelID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "app://example", info.Scope)
	assert.Equal(t, resp.SubscriptionInfo.Endpoint, info.Endpoint)
}

func TestSubscribeExistingChannelReturnsSameSubscription(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	channelID := uuid.NewString()
	first, err := manager.Subscribe(ctx, channelID, "scope", "")
	require.NoError(t, err)
	second, err := manager.Subscribe(ctx, channelID, "other-scope", "")
	require.NoError(t, err)

	assert.Equal(t, first, second, "resubscribing a channel id must return the existing subscription")
	assert.Len(t, conn.channels, 1)
}

func TestSubscribeNormalizesChannelID(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)

	resp, err := manager.Subscribe(context.Background(), "6ED50480-A45A-4E41-AF12-D7FCE4B648D3", "s", "")
	require.NoError(t, err)
	assert.Equal(t, "6ed50480-a45a-4e41-af12-d7fce4b648d3", resp.ChannelID)

	_, err = manager.Subscribe(context.Background(), "not-a-uuid", "s", "")
	assert.Error(t, err)
}

func TestSubscribeCreateChannelFailurePersistsNothing(t *testing.T) {
	conn := newFakeConn()
	conn.createChannelErr = &CommunicationError{Op: "subscribe", Status: 500, Class: CommTransient}
	manager := newTestManager(t, conn)

	_, err := manager.Subscribe(context.Background(), "", "scope", "")
	require.Error(t, err)

	records, listErr := manager.store.List()
	require.NoError(t, listErr)
	assert.Empty(t, records, "a failed subscribe must leave no partial record")
}

func TestSubscribeRegistrationFailure(t *testing.T) {
	conn := newFakeConn()
	conn.registerErr = &CommunicationError{Op: "register", Status: 503, Class: CommTransient}
	manager := newTestManager(t, conn)

	_, err := manager.Subscribe(context.Background(), "", "scope", "")
	var regErr *RegistrationError
	assert.ErrorAs(t, err, &regErr)

	identity, idErr := manager.store.Identity()
	require.NoError(t, idErr)
	assert.Nil(t, identity, "failed registration must not persist an identity")
}

func TestUnsubscribe(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	resp, err := manager.Subscribe(ctx, "", "scope", "")
	require.NoError(t, err)

	ok, err := manager.Unsubscribe(ctx, resp.ChannelID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, conn.channels)

	// Unsubscribing again is not an error and reports false.
	ok, err = manager.Unsubscribe(ctx, resp.ChannelID)
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := manager.DispatchInfoForChid(resp.ChannelID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestUnsubscribeFailurePreservesRecord(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	resp, err := manager.Subscribe(ctx, "", "scope", "")
	require.NoError(t, err)

	conn.deleteChannelErr = &CommunicationError{Op: "unsubscribe", Status: 503, Class: CommTransient}
	_, err = manager.Unsubscribe(ctx, resp.ChannelID)
	require.Error(t, err, "a transient relay failure must propagate")

	record, getErr := manager.store.Get(resp.ChannelID)
	require.NoError(t, getErr)
	assert.NotNil(t, record, "local record must survive a failed unsubscribe")

	// Once the relay recovers, the same unsubscribe completes.
	conn.deleteChannelErr = nil
	ok, err := manager.Unsubscribe(ctx, resp.ChannelID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnsubscribeAllFailurePreservesRecords(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := manager.Subscribe(ctx, "", fmt.Sprintf("scope-%d", i), "")
		require.NoError(t, err)
	}

	conn.deleteRegErr = &CommunicationError{Op: "unsubscribe all", Status: 503, Class: CommTransient}
	err := manager.UnsubscribeAll(ctx)
	require.Error(t, err)

	records, listErr := manager.store.List()
	require.NoError(t, listErr)
	assert.Len(t, records, 3, "local records must survive a failed unsubscribe-all")
}

func TestUnsubscribeIdentityInvalid(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	resp, err := manager.Subscribe(ctx, "", "scope", "")
	require.NoError(t, err)

	conn.deleteChannelErr = identityInvalidErr("unsubscribe")
	ok, err := manager.Unsubscribe(ctx, resp.ChannelID)
	require.NoError(t, err, "identity invalidation is a signal, not an error")
	assert.False(t, ok)

	record, getErr := manager.store.Get(resp.ChannelID)
	require.NoError(t, getErr)
	assert.NotNil(t, record, "the record remains until verification resets local state")
}

func TestUnsubscribeAll(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := manager.Subscribe(ctx, "", fmt.Sprintf("scope-%d", i), "")
		require.NoError(t, err)
	}

	ok, err := manager.Unsubscribe(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := manager.store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, conn.channels)
}

func TestUpdatePersistsToken(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	ok, err := manager.Update(ctx, "fresh-token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh-token", conn.token)

	identity, err := manager.store.Identity()
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "fresh-token", identity.NativeToken)
}

func TestUpdateIdentityInvalid(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	_, err := manager.Subscribe(ctx, "", "scope", "")
	require.NoError(t, err)

	conn.updateTokenErr = identityInvalidErr("update token")
	ok, err := manager.Update(ctx, "fresh-token")
	require.NoError(t, err)
	assert.False(t, ok)

	identity, err := manager.store.Identity()
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.NotEqual(t, "fresh-token", identity.NativeToken,
		"a rejected token update must not be persisted")
}

func TestDecryptRoundTrip(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	ctx := context.Background()

	resp, err := manager.Subscribe(ctx, "", "scope", "")
	require.NoError(t, err)

	publicKey, err := ece.DecodeBase64(resp.SubscriptionInfo.Keys.P256DH)
	require.NoError(t, err)
	authSecret, err := ece.DecodeBase64(resp.SubscriptionInfo.Keys.Auth)
	require.NoError(t, err)

	plaintext := []byte(`{"message":"delivered"}`)
	body, err := ece.EncryptAES128GCM(publicKey, authSecret, plaintext)
	require.NoError(t, err)

	decrypted, err := manager.Decrypt(resp.ChannelID, ece.EncodeBase64(body), "aes128gcm", "", "")
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptUnknownChannel(t *testing.T) {
	manager := newTestManager(t, newFakeConn())

	_, err := manager.Decrypt(uuid.NewString(), "Ym9keQ", "aes128gcm", "", "")
	assert.True(t, errors.Is(err, ErrRecordNotFound), "expected ErrRecordNotFound, got %v", err)
}

func TestDecryptBadBase64(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)

	resp, err := manager.Subscribe(context.Background(), "", "scope", "")
	require.NoError(t, err)

	_, err = manager.Decrypt(resp.ChannelID, "not*base64!", "aes128gcm", "", "")
	var cryptoErr *CryptoError
	assert.ErrorAs(t, err, &cryptoErr)
}

func TestVerifyConnectionNeverRegisters(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, 0, conn.registerCalls, "verify must not create an identity")
}
