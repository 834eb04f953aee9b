package notification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

func TestNotificationValidate(t *testing.T) {
	base := notification.Notification{
		ID:        1,
		Recipient: "user-1",
		Content:   notification.Content{Title: "Hello", Body: "World"},
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base.Validate())
	})

	t.Run("Missing recipient", func(t *testing.T) {
		n := base
		n.Recipient = ""
		assert.ErrorIs(t, n.Validate(), notification.ErrMissingRecipient)
	})

	t.Run("Empty content", func(t *testing.T) {
		n := base
		n.Content = notification.Content{}
		assert.ErrorIs(t, n.Validate(), notification.ErrEmptyContent)
	})

	t.Run("Title alone is enough", func(t *testing.T) {
		n := base
		n.Content = notification.Content{Title: "Just a title"}
		assert.NoError(t, n.Validate())
	})
}

func TestParseTapEvent(t *testing.T) {
	t.Run("Round trip with data", func(t *testing.T) {
		tap, err := notification.ParseTapEvent([]byte(`{"notification_id":9,"data":{"pageName":"chat"}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(9), tap.NotificationID)
		assert.Equal(t, "chat", tap.Data[notification.DataKeyPage])
	})

	t.Run("Nil data becomes empty map", func(t *testing.T) {
		tap, err := notification.ParseTapEvent([]byte(`{"notification_id":3}`))
		require.NoError(t, err)
		require.NotNil(t, tap.Data)
		assert.Empty(t, tap.Data)
	})

	t.Run("Malformed payload errors", func(t *testing.T) {
		_, err := notification.ParseTapEvent([]byte(`{broken`))
		assert.Error(t, err)
	})
}

func TestDeviceSetEmpty(t *testing.T) {
	assert.True(t, (&notification.DeviceSet{Recipient: "u"}).Empty())
	assert.False(t, (&notification.DeviceSet{APNSTokens: []string{"t"}}).Empty())

	var sub notification.WebPushSubscription
	sub.Endpoint = "https://push.example.com/x"
	assert.False(t, (&notification.DeviceSet{WebSubscriptions: []notification.WebPushSubscription{sub}}).Empty())
}
