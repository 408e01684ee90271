package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/model"
)

// SubscriptionStore is the slice of the push repository the sender needs.
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
}

// Sender delivers Web Push notifications to a user's stored subscriptions.
// Used for chat members who have no live WebSocket session when a message
// lands.
type Sender struct {
	store       SubscriptionStore
	keys        *VAPIDKeys
	subscriber  string
	sendTimeout time.Duration
}

func NewSender(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	return &Sender{store: store, keys: keys, subscriber: subscriber, sendTimeout: 10 * time.Second}
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify pushes to every subscription of the user. Delivery is best-effort:
// failures are logged, gone endpoints (404/410) are pruned from the store.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push notify: list subscriptions for %s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push notify: marshal: %v", err)
		return
	}
	for _, sub := range subs {
		wps := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wps, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.keys.PublicKey,
			VAPIDPrivateKey: s.keys.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Errorf("push notify %s: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := s.store.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push notify: prune %s: %v", sub.Endpoint, err)
			}
		}
		resp.Body.Close()
	}
}
