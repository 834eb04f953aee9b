// Package notification contains the public domain model for the push router:
// the typed message envelope, notification content, device records, and the
// hook contracts an application supplies to customise routing behaviour.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category classifies an incoming message. Unknown values are preserved as
// CategoryOpaque so that newer producers do not break older routers.
type Category string

const (
	CategoryMessage  Category = "message"
	CategoryAlert    Category = "alert"
	CategoryReminder Category = "reminder"
	CategorySystem   Category = "system"
	// CategoryOpaque marks a payload whose category is absent or unrecognised.
	CategoryOpaque Category = "opaque"
)

var knownCategories = map[Category]struct{}{
	CategoryMessage:  {},
	CategoryAlert:    {},
	CategoryReminder: {},
	CategorySystem:   {},
}

// Conventional data keys read by the tap-forwarding path. They are a producer
// convention, not a validated protocol.
const (
	DataKeyPage = "pageName"
	DataKeyID   = "id"
)

var (
	ErrMissingRecipient = errors.New("notification: missing recipient")
	ErrEmptyContent     = errors.New("notification: empty title and body")
)

// Content is the user-visible part of a notification.
type Content struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Sound    string `json:"sound,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Envelope is the validated form of an incoming push payload.
type Envelope struct {
	Recipient string            `json:"recipient"`
	Category  Category          `json:"category"`
	Content   Content           `json:"content"`
	Data      map[string]string `json:"data,omitempty"`
}

// ParseEnvelope unmarshals and validates a raw message payload. The recipient
// is mandatory; a missing or unknown category degrades to CategoryOpaque.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("notification: malformed envelope: %w", err)
	}
	if env.Recipient == "" {
		return nil, ErrMissingRecipient
	}
	if _, ok := knownCategories[env.Category]; !ok {
		env.Category = CategoryOpaque
	}
	if env.Data == nil {
		env.Data = map[string]string{}
	}
	return &env, nil
}

// Notification is a displayable notification addressed to one recipient.
// The integer ID is the handle later cancel calls refer to.
type Notification struct {
	ID        int64             `json:"id"`
	Recipient string            `json:"recipient"`
	Content   Content           `json:"content"`
	Data      map[string]string `json:"data,omitempty"`
}

// Validate checks the fields a display call cannot work without.
func (n Notification) Validate() error {
	if n.Recipient == "" {
		return ErrMissingRecipient
	}
	if n.Content.Title == "" && n.Content.Body == "" {
		return ErrEmptyContent
	}
	return nil
}

// TapEvent is emitted by client apps when a displayed notification is tapped.
type TapEvent struct {
	NotificationID int64             `json:"notification_id"`
	Data           map[string]string `json:"data,omitempty"`
}

// ParseTapEvent unmarshals a stored or streamed tap payload.
func ParseTapEvent(payload []byte) (*TapEvent, error) {
	var tap TapEvent
	if err := json.Unmarshal(payload, &tap); err != nil {
		return nil, fmt.Errorf("notification: malformed tap payload: %w", err)
	}
	if tap.Data == nil {
		tap.Data = map[string]string{}
	}
	return &tap, nil
}

// WebPushSubscription is a browser push subscription as registered by a web
// client. Keys arrive base64url-encoded on the wire and are held raw here.
type WebPushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh []byte `json:"p256dh"`
		Auth   []byte `json:"auth"`
	} `json:"keys"`
}

// DeviceSet holds everything registered for one recipient, bucketed per
// delivery platform.
type DeviceSet struct {
	Recipient        string                `json:"recipient"`
	FCMTokens        []string              `json:"fcm_tokens"`
	APNSTokens       []string              `json:"apns_tokens"`
	WebSubscriptions []WebPushSubscription `json:"web_subscriptions"`
}

// Empty reports whether the recipient has no registered devices at all.
func (d *DeviceSet) Empty() bool {
	return len(d.FCMTokens) == 0 && len(d.APNSTokens) == 0 && len(d.WebSubscriptions) == 0
}
