// Package kv is the persistent key-value bridge. It holds the small shared
// state that must survive process boundaries: notification preferences,
// the active recipient id, pending launch replays, the active notification
// set, and the scheduled-notification queue.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

const (
	keyPreference   = "pushrouter:pref:%s"
	keyActiveUser   = "pushrouter:active_user"
	keyPendingMsg   = "pushrouter:pending:initial"
	keyPendingTap   = "pushrouter:pending:tap"
	keyActiveSet    = "pushrouter:active"
	keyScheduledSet = "pushrouter:scheduled"
	keyScheduledFmt = "pushrouter:scheduled:item:%d"
)

// Scheduled pairs a notification with its due time for queue storage.
type Scheduled struct {
	Notification notification.Notification `json:"notification"`
	DueAt        time.Time                 `json:"due_at"`
}

// Store is the Redis implementation of the bridge.
type Store struct {
	rdb *redis.Client
}

// NewClient dials Redis and fails fast on a bad connection.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// --- Notification preferences ---

// SetPreference records whether notifications are enabled for the recipient.
func (s *Store) SetPreference(ctx context.Context, recipient string, enabled bool) error {
	return s.rdb.Set(ctx, fmt.Sprintf(keyPreference, recipient), strconv.FormatBool(enabled), 0).Err()
}

// Preference reports whether notifications are enabled. Recipients with no
// stored preference default to enabled.
func (s *Store) Preference(ctx context.Context, recipient string) (bool, error) {
	val, err := s.rdb.Get(ctx, fmt.Sprintf(keyPreference, recipient)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("preference read failed: %w", err)
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

// --- Active recipient (out-of-process bridge) ---

func (s *Store) SetActiveUser(ctx context.Context, recipient string) error {
	return s.rdb.Set(ctx, keyActiveUser, recipient, 0).Err()
}

func (s *Store) ActiveUser(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, keyActiveUser).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *Store) ClearActiveUser(ctx context.Context) error {
	return s.rdb.Del(ctx, keyActiveUser).Err()
}

// --- Pending launch replays ---

// StashInitialMessage persists a message for a router that is not yet
// initialized; the next Initialize replays it.
func (s *Store) StashInitialMessage(ctx context.Context, env *notification.Envelope) error {
	return s.setJSON(ctx, keyPendingMsg, env)
}

// TakeInitialMessage removes and returns the pending initial message, if any.
// A stored-but-unparseable payload is returned as an error with ok=true so
// the caller can log and drop it.
func (s *Store) TakeInitialMessage(ctx context.Context) (*notification.Envelope, bool, error) {
	raw, ok, err := s.takeRaw(ctx, keyPendingMsg)
	if err != nil || !ok {
		return nil, ok, err
	}
	env, err := notification.ParseEnvelope(raw)
	if err != nil {
		return nil, true, err
	}
	return env, true, nil
}

func (s *Store) StashLaunchTap(ctx context.Context, tap *notification.TapEvent) error {
	return s.setJSON(ctx, keyPendingTap, tap)
}

func (s *Store) TakeLaunchTap(ctx context.Context) (*notification.TapEvent, bool, error) {
	raw, ok, err := s.takeRaw(ctx, keyPendingTap)
	if err != nil || !ok {
		return nil, ok, err
	}
	tap, err := notification.ParseTapEvent(raw)
	if err != nil {
		return nil, true, err
	}
	return tap, true, nil
}

// --- Active notification set ---

func (s *Store) AddActive(ctx context.Context, id int64) error {
	return s.rdb.SAdd(ctx, keyActiveSet, id).Err()
}

func (s *Store) RemoveActive(ctx context.Context, id int64) error {
	return s.rdb.SRem(ctx, keyActiveSet, id).Err()
}

func (s *Store) RemoveAllActive(ctx context.Context) error {
	return s.rdb.Del(ctx, keyActiveSet).Err()
}

func (s *Store) IsActive(ctx context.Context, id int64) (bool, error) {
	return s.rdb.SIsMember(ctx, keyActiveSet, id).Result()
}

// --- Scheduled notifications ---

// ScheduleAdd queues the notification for delivery at the given time.
// The queue member is the id; the payload lives in a side key so cancel by
// id stays a constant-time operation.
func (s *Store) ScheduleAdd(ctx context.Context, n notification.Notification, due time.Time) error {
	item := Scheduled{Notification: n, DueAt: due}
	if err := s.setJSON(ctx, fmt.Sprintf(keyScheduledFmt, n.ID), item); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, keyScheduledSet, redis.Z{
		Score:  float64(due.Unix()),
		Member: strconv.FormatInt(n.ID, 10),
	}).Err()
}

// ClaimDue atomically removes and returns every notification due at or
// before now. Each entry is claimed by a winning ZRem so concurrent pollers
// never fire the same notification twice.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) ([]notification.Notification, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, keyScheduledSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduled range read failed: %w", err)
	}

	var due []notification.Notification
	for _, id := range ids {
		removed, err := s.rdb.ZRem(ctx, keyScheduledSet, id).Result()
		if err != nil {
			return due, err
		}
		if removed == 0 {
			continue // another poller claimed it
		}
		idNum, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		raw, err := s.rdb.GetDel(ctx, fmt.Sprintf(keyScheduledFmt, idNum)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return due, err
		}
		var item Scheduled
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		due = append(due, item.Notification)
	}
	return due, nil
}

// CancelScheduled removes a queued notification. It reports whether an entry
// was actually removed.
func (s *Store) CancelScheduled(ctx context.Context, id int64) (bool, error) {
	removed, err := s.rdb.ZRem(ctx, keyScheduledSet, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return false, err
	}
	if err := s.rdb.Del(ctx, fmt.Sprintf(keyScheduledFmt, id)).Err(); err != nil {
		return removed > 0, err
	}
	return removed > 0, nil
}

// CancelAllScheduled drains the queue.
func (s *Store) CancelAllScheduled(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, keyScheduledSet, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		idNum, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if err := s.rdb.Del(ctx, fmt.Sprintf(keyScheduledFmt, idNum)).Err(); err != nil {
			return err
		}
	}
	return s.rdb.Del(ctx, keyScheduledSet).Err()
}

// --- Helpers ---

func (s *Store) setJSON(ctx context.Context, key string, value interface{}) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, bytes, 0).Err()
}

func (s *Store) takeRaw(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
