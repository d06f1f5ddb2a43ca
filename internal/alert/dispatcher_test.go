package alert

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homewatch/internal/repository"
	"homewatch/internal/telegram"
)

// recordingDispatcher 记录收到的告警
type recordingDispatcher struct {
	messages []Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

func setupNotifier(t *testing.T, dispatcher Dispatcher) (*sql.DB, sqlmock.Sqlmock, *Notifier) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	settings := repository.NewSettingsRepository(db, zap.NewNop())
	return db, mock, NewNotifier(settings, []Dispatcher{dispatcher}, zap.NewNop())
}

func alertModeRow(mode string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"key", "value", "updated_at"}).
		AddRow("alert_mode", mode, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
}

func TestNotify_NormalModeDispatchesAll(t *testing.T) {
	recorder := &recordingDispatcher{}
	db, mock, notifier := setupNotifier(t, recorder)
	defer db.Close()

	mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(alertModeRow("normal"))

	notifier.Notify(context.Background(), Message{Text: "motion in hall", Critical: false})

	require.Len(t, recorder.messages, 1)
	assert.Equal(t, "motion in hall", recorder.messages[0].Text)
}

func TestNotify_SilentModeSuppressesNonCritical(t *testing.T) {
	recorder := &recordingDispatcher{}
	db, mock, notifier := setupNotifier(t, recorder)
	defer db.Close()

	mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(alertModeRow("silent"))

	notifier.Notify(context.Background(), Message{Text: "motion in hall", Critical: false})

	assert.Empty(t, recorder.messages)
}

func TestNotify_SilentModePassesCritical(t *testing.T) {
	recorder := &recordingDispatcher{}
	db, mock, notifier := setupNotifier(t, recorder)
	defer db.Close()

	mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(alertModeRow("silent"))

	notifier.Notify(context.Background(), Message{Text: "INTRUDER", Critical: true})

	require.Len(t, recorder.messages, 1)
	assert.True(t, recorder.messages[0].Critical)
}

func TestNotify_SettingsFailureAssumesNormal(t *testing.T) {
	recorder := &recordingDispatcher{}
	db, mock, notifier := setupNotifier(t, recorder)
	defer db.Close()

	mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnError(sql.ErrConnDone)

	notifier.Notify(context.Background(), Message{Text: "motion in hall"})

	require.Len(t, recorder.messages, 1)
}

func TestTelegramDispatcher_SendsText(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	client := telegram.NewClient("test-token", zap.NewNop())
	client.SetBaseURL(server.URL)
	dispatcher := NewTelegramDispatcher(client, 12345)

	err := dispatcher.Dispatch(context.Background(), Message{Text: "hello"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
