// Package display shows, schedules, and cancels notifications by fanning
// them out to the recipient's registered devices.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakeshorelabs/go-push-router/pkg/dispatch"
	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// State tracks which notification handles are live and which are queued.
type State interface {
	AddActive(ctx context.Context, id int64) error
	RemoveActive(ctx context.Context, id int64) error
	RemoveAllActive(ctx context.Context) error
	IsActive(ctx context.Context, id int64) (bool, error)

	ScheduleAdd(ctx context.Context, n notification.Notification, due time.Time) error
	CancelScheduled(ctx context.Context, id int64) (bool, error)
	CancelAllScheduled(ctx context.Context) error
}

// Presentation carries the deployment-wide display flags: whether alerts
// are shown at all, and whether deliveries default to an audible sound.
// The badge flag lives with the APNs dispatcher config.
type Presentation struct {
	Alert bool
	Sound bool
}

// Manager implements the display operations. Platform dispatchers are
// optional; a nil dispatcher simply skips that platform.
type Manager struct {
	tokens dispatch.TokenStore
	fcm    dispatch.Dispatcher
	apns   dispatch.Dispatcher
	web    dispatch.WebDispatcher
	state  State
	pres   Presentation
	logger *slog.Logger
}

func NewManager(
	tokens dispatch.TokenStore,
	fcm dispatch.Dispatcher,
	apns dispatch.Dispatcher,
	web dispatch.WebDispatcher,
	state State,
	pres Presentation,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		tokens: tokens,
		fcm:    fcm,
		apns:   apns,
		web:    web,
		state:  state,
		pres:   pres,
		logger: logger.With("component", "DisplayManager"),
	}
}

// Show fans the notification out to every device registered for the
// recipient. Dead tokens reported by a platform are unregistered in place.
// Transport failures are returned so the caller can decide whether the
// message is retryable.
func (m *Manager) Show(ctx context.Context, n notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	showLogger := m.logger.With("recipient", n.Recipient, "notification_id", n.ID)

	if !m.pres.Alert {
		showLogger.Info("Alert presentation disabled; dropping notification.")
		return nil
	}
	if m.pres.Sound && n.Content.Sound == "" {
		n.Content.Sound = "default"
	}

	set, err := m.tokens.Fetch(ctx, n.Recipient)
	if err != nil {
		showLogger.Error("Failed to fetch device set", "err", err)
		return err
	}

	if set.Empty() {
		showLogger.Info("No devices registered for recipient; dropping notification.")
		return nil
	}

	var dispatchErr error

	if m.fcm != nil && len(set.FCMTokens) > 0 {
		receipt, invalid, err := m.fcm.Dispatch(ctx, set.FCMTokens, n.Content, n.Data)
		m.cleanupTokens(ctx, showLogger, n.Recipient, invalid, m.tokens.UnregisterFCM)
		if err != nil {
			showLogger.Error("FCM dispatch failed", "err", err)
			dispatchErr = err
		} else {
			showLogger.Info("FCM dispatched", "receipt", receipt)
		}
	}

	if m.apns != nil && len(set.APNSTokens) > 0 {
		receipt, invalid, err := m.apns.Dispatch(ctx, set.APNSTokens, n.Content, n.Data)
		m.cleanupTokens(ctx, showLogger, n.Recipient, invalid, m.tokens.UnregisterAPNS)
		if err != nil {
			showLogger.Error("APNs dispatch failed", "err", err)
			dispatchErr = err
		} else {
			showLogger.Info("APNs dispatched", "receipt", receipt)
		}
	}

	if m.web != nil && len(set.WebSubscriptions) > 0 {
		receipt, invalidSubs, err := m.web.Dispatch(ctx, set.WebSubscriptions, n.Content, n.Data)
		if len(invalidSubs) > 0 {
			showLogger.Info("Cleaning up invalid web subscriptions", "count", len(invalidSubs))
			for _, sub := range invalidSubs {
				if err := m.tokens.UnregisterWeb(ctx, n.Recipient, sub.Endpoint); err != nil {
					showLogger.Warn("Failed to delete web subscription", "endpoint", sub.Endpoint, "err", err)
				}
			}
		}
		if err != nil {
			showLogger.Error("Web dispatch failed", "err", err)
			dispatchErr = err
		} else {
			showLogger.Info("Web dispatched", "receipt", receipt)
		}
	}

	if dispatchErr != nil {
		return fmt.Errorf("dispatch failed: %w", dispatchErr)
	}

	// Record the handle so tray-state queries and cancels can find it.
	// Tracking is best-effort; the notification is already out.
	if err := m.state.AddActive(ctx, n.ID); err != nil {
		showLogger.Warn("Failed to record active notification", "err", err)
	}
	return nil
}

// Schedule queues the notification for delivery at the given time.
func (m *Manager) Schedule(ctx context.Context, n notification.Notification, due time.Time) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if err := m.state.ScheduleAdd(ctx, n, due); err != nil {
		return fmt.Errorf("schedule failed: %w", err)
	}
	m.logger.Info("Notification scheduled", "notification_id", n.ID, "due_at", due)
	return nil
}

// Cancel removes the handle from both the scheduled queue and the active set.
func (m *Manager) Cancel(ctx context.Context, id int64) error {
	removed, err := m.state.CancelScheduled(ctx, id)
	if err != nil {
		return err
	}
	if removed {
		m.logger.Info("Scheduled notification cancelled", "notification_id", id)
	}
	return m.state.RemoveActive(ctx, id)
}

// CancelAll drains the scheduled queue and clears the active set.
func (m *Manager) CancelAll(ctx context.Context) error {
	if err := m.state.CancelAllScheduled(ctx); err != nil {
		return err
	}
	return m.state.RemoveAllActive(ctx)
}

// Active reports whether the handle refers to a live notification.
func (m *Manager) Active(ctx context.Context, id int64) (bool, error) {
	return m.state.IsActive(ctx, id)
}

func (m *Manager) cleanupTokens(
	ctx context.Context,
	logger *slog.Logger,
	recipient string,
	invalid []string,
	unregister func(context.Context, string, string) error,
) {
	if len(invalid) == 0 {
		return
	}
	logger.Info("Cleaning up invalid tokens", "count", len(invalid))
	for _, t := range invalid {
		if err := unregister(ctx, recipient, t); err != nil {
			logger.Warn("Failed to delete token", "token", t, "err", err)
		}
	}
}
