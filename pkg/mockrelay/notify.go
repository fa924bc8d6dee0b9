package mockrelay

import (
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/ylogx/application-services/pkg/push"
)

// Notify encrypts a payload and delivers it to a subscription's
// endpoint the way an application server would, using the standard
// WebPush (aes128gcm) encryption. It exists so local development and
// tests can exercise the full subscribe-deliver-decrypt path.
func Notify(sub push.SubscriptionInfo, payload []byte) error {
	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}

	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      "mailto:dev@localhost",
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		TTL:             30,
	})
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}
