package infrastructure

import (
	"errors"
	"testing"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordedCommand struct {
	name string
	args []string
}

func newTestNotifier(cfg domain.NotificationConfig, runErr error) (*NotificationService, *[]recordedCommand) {
	var calls []recordedCommand
	n := NewNotificationService(&cfg, zap.NewNop())
	n.run = func(name string, args ...string) error {
		calls = append(calls, recordedCommand{name: name, args: args})
		return runErr
	}
	return n, &calls
}

func TestNotificationService_Disabled(t *testing.T) {
	n, calls := newTestNotifier(domain.NotificationConfig{Enabled: false, Method: "notify-send"}, nil)

	assert.NoError(t, n.Send("title", "message"))
	assert.Empty(t, *calls)
}

func TestNotificationService_NotifySend(t *testing.T) {
	n, calls := newTestNotifier(domain.NotificationConfig{Enabled: true, Method: "notify-send"}, nil)

	n.NotifyDownloadCompleted("Week 1: Introduction")

	if assert.Len(t, *calls, 1) {
		assert.Equal(t, "notify-send", (*calls)[0].name)
		assert.Contains(t, (*calls)[0].args, "Download completed")
		assert.Contains(t, (*calls)[0].args, "Week 1: Introduction")
	}
}

func TestNotificationService_OSAScriptQuotesMessage(t *testing.T) {
	n, calls := newTestNotifier(domain.NotificationConfig{Enabled: true, Method: "osascript"}, nil)

	n.NotifyDownloadFailed(`Lecture "2"`, errors.New("disk full"))

	if assert.Len(t, *calls, 1) {
		assert.Equal(t, "osascript", (*calls)[0].name)
		assert.Contains(t, (*calls)[0].args[1], `Lecture \"2\": disk full`)
	}
}

func TestNotificationService_UnknownMethod(t *testing.T) {
	n, calls := newTestNotifier(domain.NotificationConfig{Enabled: true, Method: "pigeon"}, nil)

	assert.NoError(t, n.Send("title", "message"))
	assert.Empty(t, *calls)
}

func TestNotificationService_CommandFailure(t *testing.T) {
	n, _ := newTestNotifier(domain.NotificationConfig{Enabled: true, Method: "notify-send"}, errors.New("not installed"))

	assert.Error(t, n.Send("title", "message"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abc...", truncateString("abcdef", 3))
	assert.Equal(t, "äöü...", truncateString("äöüß", 3))
}
