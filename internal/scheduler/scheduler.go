// Package scheduler fires queued notifications when they come due.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Display is the subset of the display manager the scheduler needs.
type Display interface {
	Show(ctx context.Context, n notification.Notification) error
}

// Queue claims due notifications from the scheduled store.
type Queue interface {
	ClaimDue(ctx context.Context, now time.Time) ([]notification.Notification, error)
}

// Scheduler polls the queue on a fixed cadence and hands due notifications
// to the display manager. Claiming is atomic in the store, so overlapping
// pollers never double-fire.
type Scheduler struct {
	cron    *cron.Cron
	queue   Queue
	display Display
	logger  *slog.Logger
}

func New(queue Queue, display Display, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		queue:   queue,
		display: display,
		logger:  logger.With("component", "Scheduler"),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 10s", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Scheduler started")
	return nil
}

// Stop halts polling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunOnce claims and dispatches everything currently due. Dispatch failures
// are logged per notification; a claimed notification is not re-queued.
func (s *Scheduler) RunOnce(ctx context.Context) {
	due, err := s.queue.ClaimDue(ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to claim due notifications", "err", err)
		return
	}
	for _, n := range due {
		if err := s.display.Show(ctx, n); err != nil {
			s.logger.Error("Failed to show scheduled notification", "notification_id", n.ID, "err", err)
		}
	}
}
