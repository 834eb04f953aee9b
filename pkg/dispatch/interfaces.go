// Package dispatch defines the contracts between the routing core and the
// platform delivery / storage layers.
package dispatch

import (
	"context"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Dispatcher sends notification content to a batch of platform-specific
// tokens. It returns a human-readable receipt, the tokens the platform
// reported as permanently dead (to be unregistered), and a retryable error
// for transport-level failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, content notification.Content, data map[string]string) (string, []string, error)
}

// WebDispatcher is the web-push variant of Dispatcher; browsers are addressed
// by full subscription objects rather than token strings.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, content notification.Content, data map[string]string) (string, []notification.WebPushSubscription, error)
}

// TokenValidator checks whether a platform token is deliverable without
// sending anything user-visible.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// TopicManager handles platform topic membership for batches of tokens.
type TopicManager interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) error
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error
}

// TokenStore manages the device registry: it remembers "where" to deliver
// for each recipient. Registrations are upserts.
type TokenStore interface {
	RegisterFCM(ctx context.Context, recipient, token string) error
	RegisterAPNS(ctx context.Context, recipient, token string) error
	RegisterWeb(ctx context.Context, recipient string, sub notification.WebPushSubscription) error

	UnregisterFCM(ctx context.Context, recipient, token string) error
	UnregisterAPNS(ctx context.Context, recipient, token string) error
	UnregisterWeb(ctx context.Context, recipient, endpoint string) error

	// Fetch returns every registered device for the recipient, bucketed per
	// platform. A recipient with no devices yields an empty set, not an error.
	Fetch(ctx context.Context, recipient string) (*notification.DeviceSet, error)
}
