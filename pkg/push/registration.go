package push

import (
	"context"

	"go.uber.org/zap"
)

// registrationController owns the connection identity lifecycle:
// lazy registration on first use, persistence, and recovery after
// server-side invalidation.
type registrationController struct {
	cfg   Config
	store *SubscriptionStore
	conn  Connection
	log   *zap.Logger
}

// ensureRegistered returns the stored identity, registering with the
// relay service first if this installation has none. Registration
// failures are fatal to the calling operation and reported as
// *RegistrationError; nothing is retried here.
func (r *registrationController) ensureRegistered(ctx context.Context) (*Identity, error) {
	identity, err := r.store.Identity()
	if err != nil {
		return nil, err
	}
	if identity != nil {
		return identity, nil
	}

	uaid, err := r.conn.RegisterInstance(ctx, r.cfg.SenderID, r.cfg.BridgeType, r.cfg.RegistrationID)
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}
	identity = &Identity{
		UAID:        uaid,
		SenderID:    r.cfg.SenderID,
		BridgeType:  r.cfg.BridgeType,
		NativeToken: r.cfg.RegistrationID,
	}
	if err := r.store.SaveIdentity(identity); err != nil {
		return nil, err
	}
	r.log.Debug("registered new application instance", zap.String("uaid", uaid))
	return identity, nil
}

// updateToken informs the relay service that the native transport
// token changed and persists it. It returns false when the relay
// reports the identity invalid; the caller must treat that as
// "resubscribe required", not as an error.
func (r *registrationController) updateToken(ctx context.Context, newToken string) (bool, error) {
	identity, err := r.ensureRegistered(ctx)
	if err != nil {
		return false, err
	}

	if err := r.conn.UpdateToken(ctx, identity.UAID, newToken); err != nil {
		if IsIdentityInvalid(err) {
			r.log.Info("relay no longer knows this instance, token update dropped",
				zap.String("uaid", identity.UAID))
			return false, nil
		}
		return false, err
	}

	identity.NativeToken = newToken
	if err := r.store.SaveIdentity(identity); err != nil {
		return false, err
	}
	return true, nil
}
