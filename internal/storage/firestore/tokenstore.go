// Package firestore implements the device registry on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Store implements dispatch.TokenStore using Firestore.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// deviceRecord is the internal DB representation. It holds EITHER a plain
// token string OR a web subscription object, discriminated by Platform.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	Token           string                            `firestore:"token,omitempty"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

const (
	platformFCM  = "fcm"
	platformAPNS = "apns"
	platformWeb  = "web"
)

func (s *Store) RegisterFCM(ctx context.Context, recipient, token string) error {
	return s.putToken(ctx, recipient, platformFCM, token)
}

func (s *Store) RegisterAPNS(ctx context.Context, recipient, token string) error {
	return s.putToken(ctx, recipient, platformAPNS, token)
}

func (s *Store) putToken(ctx context.Context, recipient, platform, token string) error {
	// Hash of the token is the doc ID: upsert semantics and no hot-spotting.
	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(recipient, hashToken(token)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterFCM(ctx context.Context, recipient, token string) error {
	_, err := s.deviceRef(recipient, hashToken(token)).Delete(ctx)
	return err
}

func (s *Store) UnregisterAPNS(ctx context.Context, recipient, token string) error {
	_, err := s.deviceRef(recipient, hashToken(token)).Delete(ctx)
	return err
}

func (s *Store) RegisterWeb(ctx context.Context, recipient string, sub notification.WebPushSubscription) error {
	// For web, the endpoint URL is the unique identifier.
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(recipient, hashToken(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterWeb(ctx context.Context, recipient, endpoint string) error {
	_, err := s.deviceRef(recipient, hashToken(endpoint)).Delete(ctx)
	return err
}

// Fetch returns every device registered for the recipient, bucketed per
// platform. Corrupt rows are skipped.
func (s *Store) Fetch(ctx context.Context, recipient string) (*notification.DeviceSet, error) {
	iter := s.devicesCollection(recipient).Documents(ctx)
	defer iter.Stop()

	set := &notification.DeviceSet{
		Recipient:        recipient,
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]notification.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}

		switch {
		case record.Platform == platformWeb && record.WebSubscription != nil:
			set.WebSubscriptions = append(set.WebSubscriptions, *record.WebSubscription)
		case record.Platform == platformAPNS && record.Token != "":
			set.APNSTokens = append(set.APNSTokens, record.Token)
		case record.Token != "":
			set.FCMTokens = append(set.FCMTokens, record.Token)
		}
	}

	return set, nil
}

// deviceRef: recipients/{recipient}/devices/{deviceHash}
func (s *Store) deviceRef(recipient, docID string) *firestore.DocumentRef {
	return s.devicesCollection(recipient).Doc(docID)
}

func (s *Store) devicesCollection(recipient string) *firestore.CollectionRef {
	return s.client.Collection("recipients").Doc(recipient).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
