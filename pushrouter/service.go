// Package pushrouter is the public orchestration surface of the routing
// service. A Service owns the inbound subscriptions, the display manager,
// the device registry, and the shared key-value state, and exposes the
// operations the HTTP API and embedding programs call.
package pushrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lakeshorelabs/go-push-router/internal/consumer"
	"github.com/lakeshorelabs/go-push-router/internal/pipeline"
	"github.com/lakeshorelabs/go-push-router/pkg/dispatch"
	"github.com/lakeshorelabs/go-push-router/pkg/notification"
	"github.com/lakeshorelabs/go-push-router/pushrouter/config"
)

// ErrMissingProject is returned by New when the config carries no messaging
// project id. Nothing is retained on failure; a later New with a valid
// config starts clean.
var ErrMissingProject = errors.New("pushrouter: project id is required")

// ErrInvalidToken is returned when a token fails platform validation at
// registration time.
var ErrInvalidToken = errors.New("pushrouter: token rejected by platform")

// Platform selects which token bucket a register/unregister call targets.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
)

// Display is what the orchestrator needs from the display manager.
type Display interface {
	Show(ctx context.Context, n notification.Notification) error
	Schedule(ctx context.Context, n notification.Notification, due time.Time) error
	Cancel(ctx context.Context, id int64) error
	CancelAll(ctx context.Context) error
	Active(ctx context.Context, id int64) (bool, error)
}

// StateStore is the slice of the key-value bridge the orchestrator uses:
// preference flags, the active recipient, and the pending launch replays
// written by an earlier delivery process.
type StateStore interface {
	SetPreference(ctx context.Context, recipient string, enabled bool) error
	Preference(ctx context.Context, recipient string) (bool, error)

	SetActiveUser(ctx context.Context, recipient string) error
	ActiveUser(ctx context.Context) (string, error)
	ClearActiveUser(ctx context.Context) error

	TakeInitialMessage(ctx context.Context) (*notification.Envelope, bool, error)
	TakeLaunchTap(ctx context.Context) (*notification.TapEvent, bool, error)
}

// Source delivers raw messages from one subscription until its context is
// cancelled.
type Source interface {
	Receive(ctx context.Context, handle consumer.Handler) error
}

// Dependencies collects everything a Service delegates to. Taps is
// optional; without it the tap subscription is simply not started.
type Dependencies struct {
	Display  Display
	Tokens   dispatch.TokenStore
	Topics   dispatch.TopicManager
	State    StateStore
	Messages Source
	Taps     Source

	// Validator, when set, vets FCM tokens at registration time.
	Validator dispatch.TokenValidator
}

// Options carries the optional knobs. Logger wins over LogFunc; with
// neither, a default JSON logger is installed.
type Options struct {
	Logger  *slog.Logger
	LogFunc notification.LogFunc
}

// Service routes incoming push messages to registered devices and manages
// the device/topic/preference state around them. Construct with New and
// start the subscriptions with Initialize.
type Service struct {
	cfg       *config.Config
	display   Display
	tokens    dispatch.TokenStore
	topics    dispatch.TopicManager
	state     StateStore
	messages  Source
	taps      Source
	validator dispatch.TokenValidator
	processor *pipeline.Processor
	logger    *slog.Logger

	mu         sync.RWMutex
	filter     notification.Filter
	navigation notification.NavigationHandler
	tapHandler notification.TapHandler

	initialized atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New wires a Service. It fails fast on a config without a project id so a
// broken deployment is caught before any subscription is touched.
func New(cfg *config.Config, deps Dependencies, opts Options) (*Service, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, ErrMissingProject
	}
	if deps.Display == nil || deps.Tokens == nil || deps.State == nil {
		return nil, errors.New("pushrouter: display, tokens and state dependencies are required")
	}

	logger := notification.ResolveLogger(opts.Logger, opts.LogFunc).With("component", "PushRouter")

	s := &Service{
		cfg:       cfg,
		display:   deps.Display,
		tokens:    deps.Tokens,
		topics:    deps.Topics,
		state:     deps.State,
		messages:  deps.Messages,
		taps:      deps.Taps,
		validator: deps.Validator,
		logger:    logger,
	}
	s.processor = pipeline.NewProcessor(deps.Display, deps.State, s.currentFilter, logger)
	return s, nil
}

// Initialize starts the inbound subscriptions and replays any state stashed
// by an earlier delivery process. It is idempotent: a second call is a
// no-op. A replay-store failure resets the service so a retry can succeed.
func (s *Service) Initialize(ctx context.Context) error {
	if !s.initialized.CompareAndSwap(false, true) {
		s.logger.Info("Service already initialized; skipping.")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.messages != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.messages.Receive(runCtx, s.handleMessage); err != nil && runCtx.Err() == nil {
				s.logger.Error("Message subscription terminated", "err", err)
			}
		}()
	}
	if s.taps != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.taps.Receive(runCtx, s.handleTap); err != nil && runCtx.Err() == nil {
				s.logger.Error("Tap subscription terminated", "err", err)
			}
		}()
	}

	if err := s.replayPending(ctx); err != nil {
		// Leave nothing half-started: the next Initialize must be able to
		// run the full sequence again.
		cancel()
		s.wg.Wait()
		s.initialized.Store(false)
		return err
	}

	s.logger.Info("Service initialized.")
	return nil
}

// replayPending drains the launch stash: first the pending initial message
// through the regular filter-then-display rule, then the pending tap.
// Store failures propagate; unparseable stashed payloads are logged and
// dropped so one poison entry cannot wedge initialization forever.
func (s *Service) replayPending(ctx context.Context) error {
	env, ok, err := s.state.TakeInitialMessage(ctx)
	switch {
	case err != nil && !ok:
		return fmt.Errorf("failed to read pending initial message: %w", err)
	case err != nil:
		s.logger.Warn("Dropping malformed pending initial message", "err", err)
	case ok:
		s.logger.Info("Replaying pending initial message", "recipient", env.Recipient)
		if err := s.processor.Process(ctx, "launch-replay", env); err != nil {
			s.logger.Warn("Pending initial message replay failed", "err", err)
		}
	}

	tap, ok, err := s.state.TakeLaunchTap(ctx)
	switch {
	case err != nil && !ok:
		return fmt.Errorf("failed to read pending launch tap: %w", err)
	case err != nil:
		s.logger.Warn("Dropping malformed pending launch tap", "err", err)
	case ok:
		s.logger.Info("Replaying pending launch tap", "notification_id", tap.NotificationID)
		s.dispatchTap(ctx, *tap)
	}
	return nil
}

// handleMessage is the inbound subscription handler: parse, then hand to
// the processor. Unparseable payloads are acked away (the subscription's
// dead-letter policy owns them); processing failures nack for redelivery.
func (s *Service) handleMessage(ctx context.Context, msgID string, payload []byte) error {
	env, skip, err := pipeline.Transform(ctx, msgID, payload)
	if err != nil {
		if skip {
			s.logger.Warn("Dropping malformed message", "msg_id", msgID, "err", err)
			return nil
		}
		return err
	}
	return s.processor.Process(ctx, msgID, env)
}

// handleTap consumes tap events. Malformed payloads are logged and dropped.
// The tap handler is best-effort; navigation failures are surfaced in the
// log only, since redelivering a tap would replay the navigation.
func (s *Service) handleTap(ctx context.Context, msgID string, payload []byte) error {
	tap, err := notification.ParseTapEvent(payload)
	if err != nil {
		s.logger.Warn("Dropping malformed tap event", "msg_id", msgID, "err", err)
		return nil
	}
	s.dispatchTap(ctx, *tap)
	return nil
}

func (s *Service) dispatchTap(ctx context.Context, tap notification.TapEvent) {
	s.mu.RLock()
	handler := s.tapHandler
	nav := s.navigation
	s.mu.RUnlock()

	if handler != nil {
		if err := handler.HandleTap(ctx, tap); err != nil {
			s.logger.Warn("Tap handler failed", "notification_id", tap.NotificationID, "err", err)
		}
	}

	page := tap.Data[notification.DataKeyPage]
	if nav == nil || page == "" {
		return
	}
	id := tap.Data[notification.DataKeyID]
	if err := nav.Navigate(ctx, page, id, tap.Data); err != nil {
		s.logger.Warn("Navigation failed", "page", page, "id", id, "err", err)
	}
}

// --- Device registry ---

// DeviceTokens returns every registered device for the recipient.
func (s *Service) DeviceTokens(ctx context.Context, recipient string) (*notification.DeviceSet, error) {
	set, err := s.tokens.Fetch(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to fetch device tokens", "recipient", recipient, "err", err)
		return nil, err
	}
	return set, nil
}

// RegisterToken upserts a platform token for the recipient. FCM tokens are
// vetted with a dry-run send when a validator is configured; a transport
// failure during validation is logged and the registration proceeds.
func (s *Service) RegisterToken(ctx context.Context, recipient string, platform Platform, token string) error {
	var err error
	switch platform {
	case PlatformFCM:
		if s.validator != nil {
			valid, verr := s.validator.ValidateToken(ctx, token)
			if verr != nil {
				s.logger.Warn("Token validation inconclusive; registering anyway", "recipient", recipient, "err", verr)
			} else if !valid {
				s.logger.Info("Rejected dead token at registration", "recipient", recipient)
				return ErrInvalidToken
			}
		}
		err = s.tokens.RegisterFCM(ctx, recipient, token)
	case PlatformAPNS:
		err = s.tokens.RegisterAPNS(ctx, recipient, token)
	default:
		err = fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		s.logger.Error("Failed to register token", "recipient", recipient, "platform", platform, "err", err)
		return err
	}
	s.logger.Info("Token registered", "recipient", recipient, "platform", platform)
	return nil
}

// UnregisterToken removes a platform token for the recipient.
func (s *Service) UnregisterToken(ctx context.Context, recipient string, platform Platform, token string) error {
	var err error
	switch platform {
	case PlatformFCM:
		err = s.tokens.UnregisterFCM(ctx, recipient, token)
	case PlatformAPNS:
		err = s.tokens.UnregisterAPNS(ctx, recipient, token)
	default:
		err = fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		s.logger.Error("Failed to unregister token", "recipient", recipient, "platform", platform, "err", err)
		return err
	}
	s.logger.Info("Token unregistered", "recipient", recipient, "platform", platform)
	return nil
}

// RegisterWebSubscription upserts a browser push subscription.
func (s *Service) RegisterWebSubscription(ctx context.Context, recipient string, sub notification.WebPushSubscription) error {
	if err := s.tokens.RegisterWeb(ctx, recipient, sub); err != nil {
		s.logger.Error("Failed to register web subscription", "recipient", recipient, "err", err)
		return err
	}
	s.logger.Info("Web subscription registered", "recipient", recipient)
	return nil
}

// UnregisterWebSubscription removes a browser push subscription by endpoint.
func (s *Service) UnregisterWebSubscription(ctx context.Context, recipient, endpoint string) error {
	if err := s.tokens.UnregisterWeb(ctx, recipient, endpoint); err != nil {
		s.logger.Error("Failed to unregister web subscription", "recipient", recipient, "err", err)
		return err
	}
	return nil
}

// --- Topics ---

// SubscribeToTopic adds the recipient's FCM tokens to a topic.
func (s *Service) SubscribeToTopic(ctx context.Context, recipient, topic string) error {
	if s.topics == nil {
		return errors.New("topic management is not configured")
	}
	set, err := s.tokens.Fetch(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to fetch tokens for topic subscribe", "recipient", recipient, "err", err)
		return err
	}
	if err := s.topics.SubscribeToTopic(ctx, set.FCMTokens, topic); err != nil {
		s.logger.Error("Topic subscribe failed", "recipient", recipient, "topic", topic, "err", err)
		return err
	}
	s.logger.Info("Subscribed to topic", "recipient", recipient, "topic", topic, "tokens", len(set.FCMTokens))
	return nil
}

// UnsubscribeFromTopic removes the recipient's FCM tokens from a topic.
func (s *Service) UnsubscribeFromTopic(ctx context.Context, recipient, topic string) error {
	if s.topics == nil {
		return errors.New("topic management is not configured")
	}
	set, err := s.tokens.Fetch(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to fetch tokens for topic unsubscribe", "recipient", recipient, "err", err)
		return err
	}
	if err := s.topics.UnsubscribeFromTopic(ctx, set.FCMTokens, topic); err != nil {
		s.logger.Error("Topic unsubscribe failed", "recipient", recipient, "topic", topic, "err", err)
		return err
	}
	s.logger.Info("Unsubscribed from topic", "recipient", recipient, "topic", topic, "tokens", len(set.FCMTokens))
	return nil
}

// --- Display ---

// ShowLocalNotification fans the notification out immediately. Delivery
// failures are logged, not returned: a direct show is fire-and-forget from
// the caller's point of view and there is no queue to retry from.
func (s *Service) ShowLocalNotification(ctx context.Context, n notification.Notification) {
	if err := s.display.Show(ctx, n); err != nil {
		s.logger.Error("Failed to show notification", "notification_id", n.ID, "err", err)
	}
}

// ScheduleNotification queues the notification for future delivery. Unlike
// a direct show, a failed enqueue changes nothing visible later, so the
// error propagates and the caller can retry.
func (s *Service) ScheduleNotification(ctx context.Context, n notification.Notification, due time.Time) error {
	if err := s.display.Schedule(ctx, n, due); err != nil {
		s.logger.Error("Failed to schedule notification", "notification_id", n.ID, "err", err)
		return err
	}
	return nil
}

// CancelNotification retracts a pending or delivered notification.
func (s *Service) CancelNotification(ctx context.Context, id int64) {
	if err := s.display.Cancel(ctx, id); err != nil {
		s.logger.Error("Failed to cancel notification", "notification_id", id, "err", err)
	}
}

// CancelAllNotifications retracts everything pending or delivered.
func (s *Service) CancelAllNotifications(ctx context.Context) {
	if err := s.display.CancelAll(ctx); err != nil {
		s.logger.Error("Failed to cancel notifications", "err", err)
	}
}

// ActiveNotification reports whether the handle refers to a live
// notification.
func (s *Service) ActiveNotification(ctx context.Context, id int64) (bool, error) {
	return s.display.Active(ctx, id)
}

// --- Preferences ---

// RequestPermissions records the recipient's notification opt-in decision
// and returns the resulting state.
func (s *Service) RequestPermissions(ctx context.Context, recipient string, enabled bool) (bool, error) {
	if err := s.state.SetPreference(ctx, recipient, enabled); err != nil {
		s.logger.Error("Failed to store notification preference", "recipient", recipient, "err", err)
		return false, err
	}
	s.logger.Info("Notification preference updated", "recipient", recipient, "enabled", enabled)
	return enabled, nil
}

// NotificationsEnabled reports the recipient's current opt-in state.
// Recipients who never chose are treated as enabled.
func (s *Service) NotificationsEnabled(ctx context.Context, recipient string) (bool, error) {
	enabled, err := s.state.Preference(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to read notification preference", "recipient", recipient, "err", err)
		return false, err
	}
	return enabled, nil
}

// SetActiveUser marks the recipient whose session is live; message handlers
// and filters can consult it to suppress self-notifications.
func (s *Service) SetActiveUser(ctx context.Context, recipient string) error {
	if err := s.state.SetActiveUser(ctx, recipient); err != nil {
		s.logger.Error("Failed to set active user", "recipient", recipient, "err", err)
		return err
	}
	return nil
}

// ClearActiveUser clears the live-session marker.
func (s *Service) ClearActiveUser(ctx context.Context) error {
	if err := s.state.ClearActiveUser(ctx); err != nil {
		s.logger.Error("Failed to clear active user", "err", err)
		return err
	}
	return nil
}

// --- Hooks ---

// SetFilter installs the display predicate consulted for every inbound
// message. Pass nil to restore the default (display everything). The swap
// is visible to in-flight subscriptions immediately.
func (s *Service) SetFilter(f notification.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// SetNavigationHandler installs the tap navigation target.
func (s *Service) SetNavigationHandler(h notification.NavigationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigation = h
}

// SetTapHandler installs the raw tap observer, called before navigation.
func (s *Service) SetTapHandler(h notification.TapHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tapHandler = h
}

func (s *Service) currentFilter() notification.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Shutdown stops the subscriptions and waits for in-flight handlers.
func (s *Service) Shutdown() {
	if !s.initialized.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("Shutting down subscriptions...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Service shutdown complete.")
}
