package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
	"github.com/lakeshorelabs/go-push-router/pushrouter"
	"github.com/lakeshorelabs/go-push-router/pushrouter/config"
)

// --- In-memory fakes ---

type fakeRegistry struct {
	fcm  map[string][]string
	subs map[string][]notification.WebPushSubscription
	err  error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		fcm:  map[string][]string{},
		subs: map[string][]notification.WebPushSubscription{},
	}
}

func (f *fakeRegistry) RegisterFCM(_ context.Context, recipient, token string) error {
	if f.err != nil {
		return f.err
	}
	f.fcm[recipient] = append(f.fcm[recipient], token)
	return nil
}
func (f *fakeRegistry) UnregisterFCM(_ context.Context, recipient, token string) error {
	kept := f.fcm[recipient][:0]
	for _, t := range f.fcm[recipient] {
		if t != token {
			kept = append(kept, t)
		}
	}
	f.fcm[recipient] = kept
	return f.err
}
func (f *fakeRegistry) RegisterAPNS(context.Context, string, string) error   { return f.err }
func (f *fakeRegistry) UnregisterAPNS(context.Context, string, string) error { return f.err }
func (f *fakeRegistry) RegisterWeb(_ context.Context, recipient string, sub notification.WebPushSubscription) error {
	f.subs[recipient] = append(f.subs[recipient], sub)
	return f.err
}
func (f *fakeRegistry) UnregisterWeb(context.Context, string, string) error { return f.err }
func (f *fakeRegistry) Fetch(_ context.Context, recipient string) (*notification.DeviceSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &notification.DeviceSet{
		Recipient:        recipient,
		FCMTokens:        f.fcm[recipient],
		WebSubscriptions: f.subs[recipient],
	}, nil
}

type fakeDisplay struct {
	shown     []notification.Notification
	scheduled []notification.Notification
	cancelled []int64
	activeID  int64
	err       error
}

func (f *fakeDisplay) Show(_ context.Context, n notification.Notification) error {
	if f.err == nil {
		f.shown = append(f.shown, n)
	}
	return f.err
}
func (f *fakeDisplay) Schedule(_ context.Context, n notification.Notification, _ time.Time) error {
	if f.err == nil {
		f.scheduled = append(f.scheduled, n)
	}
	return f.err
}
func (f *fakeDisplay) Cancel(_ context.Context, id int64) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}
func (f *fakeDisplay) CancelAll(context.Context) error { return f.err }
func (f *fakeDisplay) Active(_ context.Context, id int64) (bool, error) {
	return id == f.activeID, f.err
}

type fakeBridge struct {
	prefs map[string]bool
}

func (f *fakeBridge) SetPreference(_ context.Context, recipient string, enabled bool) error {
	f.prefs[recipient] = enabled
	return nil
}
func (f *fakeBridge) Preference(_ context.Context, recipient string) (bool, error) {
	enabled, ok := f.prefs[recipient]
	if !ok {
		return true, nil
	}
	return enabled, nil
}
func (f *fakeBridge) SetActiveUser(context.Context, string) error { return nil }
func (f *fakeBridge) ActiveUser(context.Context) (string, error)  { return "", nil }
func (f *fakeBridge) ClearActiveUser(context.Context) error       { return nil }
func (f *fakeBridge) TakeInitialMessage(context.Context) (*notification.Envelope, bool, error) {
	return nil, false, nil
}
func (f *fakeBridge) TakeLaunchTap(context.Context) (*notification.TapEvent, bool, error) {
	return nil, false, nil
}

type fakeTopics struct {
	subscribed map[string][]string
}

func (f *fakeTopics) SubscribeToTopic(_ context.Context, tokens []string, topic string) error {
	f.subscribed[topic] = tokens
	return nil
}
func (f *fakeTopics) UnsubscribeFromTopic(_ context.Context, _ []string, topic string) error {
	delete(f.subscribed, topic)
	return nil
}

func newTestServer(t *testing.T, display *fakeDisplay, registry *fakeRegistry) (*httptest.Server, *fakeBridge, *fakeTopics) {
	t.Helper()

	bridge := &fakeBridge{prefs: map[string]bool{}}
	topics := &fakeTopics{subscribed: map[string][]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := pushrouter.New(
		&config.Config{ProjectID: "test-project", MessageSubscriptionID: "msgs"},
		pushrouter.Dependencies{
			Display: display,
			Tokens:  registry,
			Topics:  topics,
			State:   bridge,
		},
		pushrouter.Options{Logger: logger},
	)
	require.NoError(t, err)

	srv := New(svc, ":0", func() bool { return true }, logger)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, bridge, topics
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// --- Tests ---

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeDisplay{}, newFakeRegistry())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestDeviceRegistration(t *testing.T) {
	registry := newFakeRegistry()
	ts, _, _ := newTestServer(t, &fakeDisplay{}, registry)

	t.Run("Register and list FCM token", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-1/devices/fcm", map[string]string{"token": "tok-1"})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		listResp, err := http.Get(ts.URL + "/api/v1/users/user-1/devices")
		require.NoError(t, err)
		defer func() { _ = listResp.Body.Close() }()

		var set notification.DeviceSet
		require.NoError(t, json.NewDecoder(listResp.Body).Decode(&set))
		assert.Equal(t, []string{"tok-1"}, set.FCMTokens)
	})

	t.Run("Missing token rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-1/devices/fcm", map[string]string{})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Web subscription keys decoded from base64url", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-2/devices/web", map[string]any{
			"endpoint": "https://push.example.com/sub/abc",
			"keys":     map[string]string{"p256dh": "aGVsbG8", "auth": "d29ybGQ"},
		})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.Len(t, registry.subs["user-2"], 1)
		assert.Equal(t, []byte("hello"), registry.subs["user-2"][0].Keys.P256dh)
		assert.Equal(t, []byte("world"), registry.subs["user-2"][0].Keys.Auth)
	})

	t.Run("Invalid web keys rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-2/devices/web", map[string]any{
			"endpoint": "https://push.example.com/sub/def",
			"keys":     map[string]string{"p256dh": "!!not-base64!!", "auth": "d29ybGQ"},
		})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTopicSubscription(t *testing.T) {
	registry := newFakeRegistry()
	registry.fcm["user-1"] = []string{"tok-a", "tok-b"}
	ts, _, topics := newTestServer(t, &fakeDisplay{}, registry)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-1/topics/news/subscribe", nil)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"tok-a", "tok-b"}, topics.subscribed["news"])

	resp2 := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users/user-1/topics/news/unsubscribe", nil)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.NotContains(t, topics.subscribed, "news")
}

func TestPreferences(t *testing.T) {
	ts, bridge, _ := newTestServer(t, &fakeDisplay{}, newFakeRegistry())

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/v1/users/user-1/preferences", map[string]bool{"enabled": false})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, bridge.prefs["user-1"])

	getResp, err := http.Get(ts.URL + "/api/v1/users/user-1/preferences")
	require.NoError(t, err)
	defer func() { _ = getResp.Body.Close() }()

	var body map[string]bool
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&body))
	assert.False(t, body["enabled"])
}

func TestNotificationEndpoints(t *testing.T) {
	display := &fakeDisplay{activeID: 42}
	ts, _, _ := newTestServer(t, display, newFakeRegistry())

	t.Run("Show dispatches and mints an id", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/", map[string]any{
			"recipient": "user-1",
			"content":   map[string]string{"title": "Hi", "body": "there"},
		})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotZero(t, body["id"])
		require.Len(t, display.shown, 1)
		assert.Equal(t, "user-1", display.shown[0].Recipient)
	})

	t.Run("Show without recipient rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/", map[string]any{
			"content": map[string]string{"title": "Hi", "body": "there"},
		})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Schedule requires due_at", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/schedule", map[string]any{
			"recipient": "user-1",
			"content":   map[string]string{"title": "Later", "body": "b"},
		})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Schedule accepts future delivery", func(t *testing.T) {
		due := time.Now().Add(time.Hour).Format(time.RFC3339)
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/schedule", map[string]any{
			"id":        7,
			"recipient": "user-1",
			"content":   map[string]string{"title": "Later", "body": "b"},
			"due_at":    due,
		})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Len(t, display.scheduled, 1)
		assert.Equal(t, int64(7), display.scheduled[0].ID)
	})

	t.Run("Active query and cancel", func(t *testing.T) {
		activeResp, err := http.Get(ts.URL + "/api/v1/notifications/42")
		require.NoError(t, err)
		defer func() { _ = activeResp.Body.Close() }()

		var body map[string]any
		require.NoError(t, json.NewDecoder(activeResp.Body).Decode(&body))
		assert.Equal(t, true, body["active"])

		cancelResp := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/notifications/%d", ts.URL, 42), nil)
		defer func() { _ = cancelResp.Body.Close() }()
		assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)
		assert.Equal(t, []int64{42}, display.cancelled)
	})

	t.Run("Bad id rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/notifications/not-a-number", nil)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
