package push

import (
	"context"

	"go.uber.org/zap"
)

// reconciler compares the locally known channel set against the relay
// service's view and computes the channels the caller must treat as
// changed. It never resubscribes.
type reconciler struct {
	store *SubscriptionStore
	conn  Connection
	log   *zap.Logger
}

// verify runs the reconciliation algorithm:
//
//   - no stored identity: nothing to verify, empty result.
//   - relay reports the identity invalid: full desync. Drop the
//     identity and every local record, and report every channel that
//     existed locally so its consumer can renegotiate.
//   - otherwise: channels present locally but not remotely are lost;
//     delete them and report them. Channels present remotely but not
//     locally are server-side orphans; request their deletion
//     best-effort and do not report them. Channels in both sets are
//     untouched.
//
// The scan is O(local + remote) via set membership. Ordering of the
// returned list is unspecified.
func (r *reconciler) verify(ctx context.Context) ([]SubscriptionChanged, error) {
	identity, err := r.store.Identity()
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}

	remoteChannels, err := r.conn.ListChannels(ctx, identity.UAID)
	if err != nil {
		if IsIdentityInvalid(err) {
			return r.resetAfterDesync(identity)
		}
		return nil, err
	}

	local, err := r.store.List()
	if err != nil {
		return nil, err
	}

	remote := make(map[string]bool, len(remoteChannels))
	for _, channelID := range remoteChannels {
		remote[channelID] = true
	}
	localSet := make(map[string]bool, len(local))

	var changed []SubscriptionChanged
	for _, record := range local {
		localSet[record.ChannelID] = true
		if remote[record.ChannelID] {
			continue
		}
		// The relay dropped this channel; its endpoint is dead.
		if _, err := r.store.Delete(record.ChannelID); err != nil {
			return nil, err
		}
		changed = append(changed, SubscriptionChanged{
			ChannelID: record.ChannelID,
			Scope:     record.Scope,
		})
	}

	for _, channelID := range remoteChannels {
		if localSet[channelID] {
			continue
		}
		// Server-side orphan: nothing local cares about it, so ask the
		// relay to drop it and move on even if that fails.
		if err := r.conn.DeleteChannel(ctx, identity.UAID, channelID); err != nil {
			r.log.Warn("failed to delete orphan channel",
				zap.String("channel_id", channelID), zap.Error(err))
		}
	}

	return changed, nil
}

// resetAfterDesync wipes the identity and every subscription record,
// reporting each previously-local channel as changed. The next
// subscribing operation re-registers from scratch.
func (r *reconciler) resetAfterDesync(identity *Identity) ([]SubscriptionChanged, error) {
	r.log.Info("relay no longer knows this instance, resetting local state",
		zap.String("uaid", identity.UAID))

	removed, err := r.store.DeleteAll()
	if err != nil {
		return nil, err
	}
	if err := r.store.ClearIdentity(); err != nil {
		return nil, err
	}

	changed := make([]SubscriptionChanged, 0, len(removed))
	for _, record := range removed {
		changed = append(changed, SubscriptionChanged{
			ChannelID: record.ChannelID,
			Scope:     record.Scope,
		})
	}
	return changed, nil
}
