// Package fcm delivers notifications through Firebase Cloud Messaging and
// manages FCM topic membership.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// FCM rejects multicast batches above this size.
const batchLimit = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

type Dispatcher struct {
	client    MessagingClient
	channelID string
	logger    *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies MessagingClient.
// channelID names the Android notification channel deliveries are routed
// to; empty leaves channel selection to the device.
func NewDispatcher(client MessagingClient, channelID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:    client,
		channelID: channelID,
		logger:    logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends the content to a batch of FCM tokens, chunked to the API
// limit. Tokens the platform reports as gone or malformed are returned for
// cleanup; transport failures are returned as retryable errors.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notification.Content, data map[string]string) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	var invalidTokens []string
	successCount := 0
	retryableErrors := 0

	for _, batch := range chunkTokens(tokens, batchLimit) {
		msg := &messaging.MulticastMessage{
			Tokens: batch,
			Data:   data,
			Notification: &messaging.Notification{
				Title:    content.Title,
				Body:     content.Body,
				ImageURL: content.ImageURL,
			},
		}
		if d.channelID != "" || content.Sound != "" {
			msg.Android = &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{
					ChannelID: d.channelID,
					Sound:     content.Sound,
				},
			}
		}

		br, err := d.client.SendEachForMulticast(ctx, msg)
		if err != nil {
			// A whole-batch InvalidArgument is a payload defect, not a
			// transport problem. Drop rather than retry forever.
			if messaging.IsInvalidArgument(err) {
				d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
				return "skipped: invalid_argument", nil, nil
			}
			return "", nil, fmt.Errorf("fcm transport failed: %w", err)
		}

		successCount += br.SuccessCount
		if br.FailureCount == 0 {
			continue
		}
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, batch[idx])
				continue
			}
			retryableErrors++
		}
	}

	if retryableErrors > 0 {
		return "", nil, fmt.Errorf("batch had %d retryable errors", retryableErrors)
	}

	receipt := fmt.Sprintf("success:%d invalid:%d", successCount, len(invalidTokens))
	return receipt, invalidTokens, nil
}

// ValidateToken checks a token against FCM without delivering anything,
// using a dry-run send. A false return means the token is dead or
// malformed; an error means the validity could not be determined.
func (d *Dispatcher) ValidateToken(ctx context.Context, deviceToken string) (bool, error) {
	msg := &messaging.Message{
		Token: deviceToken,
		Data:  map[string]string{"validation": "ping"},
	}
	_, err := d.client.SendDryRun(ctx, msg)
	if err == nil {
		return true, nil
	}
	if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
		return false, nil
	}
	return false, fmt.Errorf("fcm dry-run failed: %w", err)
}

// SubscribeToTopic adds the tokens to an FCM topic.
func (d *Dispatcher) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	if len(tokens) == 0 {
		return nil
	}
	resp, err := d.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("fcm topic subscribe failed: %w", err)
	}
	return d.checkTopicResponse(resp, "subscribe", topic)
}

// UnsubscribeFromTopic removes the tokens from an FCM topic.
func (d *Dispatcher) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error {
	if len(tokens) == 0 {
		return nil
	}
	resp, err := d.client.UnsubscribeFromTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("fcm topic unsubscribe failed: %w", err)
	}
	return d.checkTopicResponse(resp, "unsubscribe", topic)
}

func (d *Dispatcher) checkTopicResponse(resp *messaging.TopicManagementResponse, op, topic string) error {
	if resp.FailureCount == 0 {
		return nil
	}
	for _, e := range resp.Errors {
		d.logger.Warn("FCM topic operation failed for token",
			"op", op, "topic", topic, "index", e.Index, "reason", e.Reason)
	}
	return fmt.Errorf("fcm topic %s: %d of %d tokens failed", op, resp.FailureCount, resp.FailureCount+resp.SuccessCount)
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
