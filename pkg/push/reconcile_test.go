package push

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribeN(t *testing.T, manager *Manager, n int) []*SubscriptionResponse {
	t.Helper()
	responses := make([]*SubscriptionResponse, 0, n)
	for i := 0; i < n; i++ {
		resp, err := manager.Subscribe(context.Background(), "", "scope", "")
		require.NoError(t, err)
		responses = append(responses, resp)
	}
	return responses
}

func TestVerifyInSync(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	subscribeN(t, manager, 3)

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed, "matching local and remote sets must report nothing")

	records, err := manager.store.List()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestVerifyReportsLostChannels(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	responses := subscribeN(t, manager, 2)

	// The relay silently dropped one channel.
	delete(conn.channels, responses[0].ChannelID)

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, responses[0].ChannelID, changed[0].ChannelID)
	assert.Equal(t, "scope", changed[0].Scope)

	// The dead record is gone locally; the surviving one is untouched.
	record, err := manager.store.Get(responses[0].ChannelID)
	require.NoError(t, err)
	assert.Nil(t, record)
	record, err = manager.store.Get(responses[1].ChannelID)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestVerifyDeletesRemoteOrphans(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	responses := subscribeN(t, manager, 1)

	// A channel the relay knows but nothing local references.
	conn.channels["11111111-2222-3333-4444-555555555555"] = "https://relay.example/push/orphan"

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed, "orphans are cleaned up, not reported")
	assert.Contains(t, conn.deletedChannels, "11111111-2222-3333-4444-555555555555")

	record, err := manager.store.Get(responses[0].ChannelID)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestVerifyOrphanDeleteFailureIsNotFatal(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	subscribeN(t, manager, 1)

	conn.channels["11111111-2222-3333-4444-555555555555"] = "https://relay.example/push/orphan"
	conn.deleteChannelErr = &CommunicationError{Op: "unsubscribe", Status: 500, Class: CommTransient}

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err, "orphan cleanup is best-effort")
	assert.Empty(t, changed)
}

func TestVerifyIdentityInvalidResetsEverything(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	responses := subscribeN(t, manager, 3)

	conn.listChannelsErr = identityInvalidErr("list channels")

	changed, err := manager.VerifyConnection(context.Background())
	require.NoError(t, err)
	assert.Len(t, changed, len(responses), "every local channel must be reported after a desync")

	records, err := manager.store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	identity, err := manager.store.Identity()
	require.NoError(t, err)
	assert.Nil(t, identity, "the stale identity must be dropped")

	// The next subscribe re-registers from scratch.
	conn.listChannelsErr = nil
	registerCallsBefore := conn.registerCalls
	_, err = manager.Subscribe(context.Background(), "", "scope", "")
	require.NoError(t, err)
	assert.Equal(t, registerCallsBefore+1, conn.registerCalls)
}

func TestVerifyTransientFailurePreservesState(t *testing.T) {
	conn := newFakeConn()
	manager := newTestManager(t, conn)
	subscribeN(t, manager, 2)

	conn.listChannelsErr = &CommunicationError{Op: "list channels", Status: 503, Class: CommTransient}

	_, err := manager.VerifyConnection(context.Background())
	require.Error(t, err, "a transient listing failure must propagate")

	records, listErr := manager.store.List()
	require.NoError(t, listErr)
	assert.Len(t, records, 2, "local state must survive a transient failure")
}
