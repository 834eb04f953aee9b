package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strconv"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Display is the subset of the display manager the processor needs.
type Display interface {
	Show(ctx context.Context, n notification.Notification) error
}

// Preferences answers whether a recipient has notifications enabled.
type Preferences interface {
	Preference(ctx context.Context, recipient string) (bool, error)
}

// FilterSource returns the currently configured filter, or nil when none is
// set. Indirection keeps the processor live to post-initialization filter
// swaps without re-registration.
type FilterSource func() notification.Filter

// Processor applies the display decision to each incoming message:
// preference gate, then the app-supplied filter, then fan-out. When no
// filter is configured the default decision is "display".
type Processor struct {
	display Display
	prefs   Preferences
	filter  FilterSource
	logger  *slog.Logger
}

func NewProcessor(display Display, prefs Preferences, filter FilterSource, logger *slog.Logger) *Processor {
	return &Processor{
		display: display,
		prefs:   prefs,
		filter:  filter,
		logger:  logger.With("component", "Processor"),
	}
}

// Process handles one incoming message. Filter errors propagate and fail the
// message; they are treated as a defect in the supplied predicate and are
// never silently swallowed.
func (p *Processor) Process(ctx context.Context, msgID string, env *notification.Envelope) error {
	procLogger := p.logger.With("recipient", env.Recipient, "msg_id", msgID)

	enabled, err := p.prefs.Preference(ctx, env.Recipient)
	if err != nil {
		procLogger.Error("Failed to read notification preference", "err", err)
		return err
	}
	if !enabled {
		procLogger.Info("Notifications disabled for recipient; dropping.")
		return nil
	}

	if f := p.filter(); f != nil {
		display, err := f.ShouldDisplay(ctx, env.Data)
		if err != nil {
			return fmt.Errorf("filter failed for message %s: %w", msgID, err)
		}
		if !display {
			procLogger.Info("Message filtered out.")
			return nil
		}
	}

	if err := p.display.Show(ctx, notification.Notification{
		ID:        notificationID(msgID, env.Data),
		Recipient: env.Recipient,
		Content:   env.Content,
		Data:      env.Data,
	}); err != nil {
		procLogger.Error("Display failed", "err", err)
		return err
	}
	return nil
}

// notificationID picks the handle for an incoming message: the producer's
// "id" data key when it parses, otherwise a stable hash of the message id.
func notificationID(msgID string, data map[string]string) int64 {
	if raw, ok := data[notification.DataKeyID]; ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return id
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(msgID))
	return int64(h.Sum64() & math.MaxInt64)
}
