// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // the app bundle ID
	badge  bool
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent []byte
	// Badge sets the app badge on delivery.
	Badge bool
}

// NewDispatcher creates a configured APNs dispatcher. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes(cfg.P8KeyContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Dispatcher{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		badge:  cfg.Badge,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// NewDispatcherWithClient wires a pre-built client; used by tests.
func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch sends the notification to a batch of APNs tokens.
// The APNs HTTP/2 API is unary, so tokens are pushed sequentially; this runs
// inside a per-message handler where serial processing per recipient is fine.
func (d *Dispatcher) Dispatch(
	_ context.Context,
	tokens []string,
	content notification.Content,
	data map[string]string,
) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body)
	if content.Sound != "" {
		builder.Sound(content.Sound)
	}
	if d.badge {
		builder.Badge(1)
	}
	for k, v := range data {
		builder.Custom(k, v)
	}

	for _, deviceToken := range tokens {
		note := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
		}

		res, err := d.client.Push(note)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}

		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// Token is dead. Add to the cleanup list.
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			// Other rejections (TopicDisallowed, PayloadEmpty) may be our
			// configuration's fault, so the token is not treated as invalid.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}
