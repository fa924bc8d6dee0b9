package push

import (
	"github.com/ylogx/application-services/pkg/ece"
)

// KeyInfo carries the public half of a subscription's key material,
// encoded the way subscription info is published (base64 URL-safe,
// unpadded).
type KeyInfo struct {
	Auth   string `json:"auth"`
	P256DH string `json:"p256dh"`
}

// SubscriptionInfo is the block handed to application servers that
// want to push to this channel. It never contains the private key.
type SubscriptionInfo struct {
	Endpoint string  `json:"endpoint"`
	Keys     KeyInfo `json:"keys"`
}

// SubscriptionResponse is the result of a subscribe operation.
type SubscriptionResponse struct {
	ChannelID        string           `json:"channel_id"`
	SubscriptionInfo SubscriptionInfo `json:"subscription_info"`
}

// DispatchInfo identifies which part of the application a message for
// a channel should be routed to.
type DispatchInfo struct {
	ChannelID    string `json:"channel_id"`
	Scope        string `json:"scope"`
	Endpoint     string `json:"endpoint"`
	AppServerKey string `json:"app_server_key,omitempty"`
}

// SubscriptionChanged reports a channel whose endpoint is no longer
// valid; the consumer owning its scope must renegotiate.
type SubscriptionChanged struct {
	ChannelID string `json:"channel_id"`
	Scope     string `json:"scope"`
}

// Identity is the connection identity binding this installation to the
// relay service. It is created lazily on first use and regenerated in
// full when the relay reports it unknown.
type Identity struct {
	UAID        string `json:"uaid"`
	SenderID    string `json:"sender_id"`
	BridgeType  string `json:"bridge_type"`
	NativeToken string `json:"native_token"`
}

// PushRecord is one stored subscription. Key material is generated
// exactly once at creation and never mutated; the private key never
// leaves the record.
type PushRecord struct {
	ChannelID    string `json:"channel_id"`
	Scope        string `json:"scope"`
	Endpoint     string `json:"endpoint"`
	PublicKey    []byte `json:"public_key"`
	PrivateKey   []byte `json:"private_key"`
	AuthSecret   []byte `json:"auth_secret"`
	AppServerKey string `json:"app_server_key,omitempty"`
}

// SubscriptionInfo returns the public view of the record.
func (r *PushRecord) SubscriptionInfo() SubscriptionInfo {
	return SubscriptionInfo{
		Endpoint: r.Endpoint,
		Keys: KeyInfo{
			Auth:   ece.EncodeBase64(r.AuthSecret),
			P256DH: ece.EncodeBase64(r.PublicKey),
		},
	}
}

// DispatchInfo returns the routing metadata for the record.
func (r *PushRecord) DispatchInfo() DispatchInfo {
	return DispatchInfo{
		ChannelID:    r.ChannelID,
		Scope:        r.Scope,
		Endpoint:     r.Endpoint,
		AppServerKey: r.AppServerKey,
	}
}
