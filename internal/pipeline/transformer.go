// Package pipeline contains the per-message processing core: payload
// validation and the filter-then-display dispatch rule.
package pipeline

import (
	"context"
	"fmt"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Transform safely unmarshals and validates a raw message payload into a
// typed envelope. A failure returns skip=true so the consumer can drop the
// message to the dead-letter path instead of retrying it forever.
func Transform(_ context.Context, msgID string, payload []byte) (*notification.Envelope, bool, error) {
	env, err := notification.ParseEnvelope(payload)
	if err != nil {
		return nil, true, fmt.Errorf("failed to parse envelope from message %s: %w", msgID, err)
	}
	return env, false, nil
}
