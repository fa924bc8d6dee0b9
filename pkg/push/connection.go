package push

import (
	"context"
)

// Connection is the relay service bridge interface consumed by the
// manager. The HTTP implementation lives in pkg/push/bridge; tests
// substitute fakes. Every method except RegisterInstance requires a
// previously issued connection identity. Failures are reported as
// *CommunicationError.
type Connection interface {
	// RegisterInstance registers this application instance and returns
	// the connection id (uaid) assigned by the relay.
	RegisterInstance(ctx context.Context, senderID, bridgeType, token string) (string, error)

	// CreateChannel creates a subscription channel and returns its
	// delivery endpoint URL.
	CreateChannel(ctx context.Context, uaid, channelID, appServerKey string) (string, error)

	// DeleteChannel removes a single channel.
	DeleteChannel(ctx context.Context, uaid, channelID string) error

	// DeleteRegistration removes the instance and all of its channels.
	DeleteRegistration(ctx context.Context, uaid string) error

	// UpdateToken informs the relay that the native transport token
	// changed.
	UpdateToken(ctx context.Context, uaid, token string) error

	// ListChannels returns the channel ids the relay currently holds
	// for the instance.
	ListChannels(ctx context.Context, uaid string) ([]string, error)
}
