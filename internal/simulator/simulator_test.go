package simulator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homewatch/internal/alert"
	"homewatch/internal/cache"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
)

type recordingDispatcher struct {
	messages []alert.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg alert.Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

type simHarness struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	recorder *recordingDispatcher
	sim      *Simulator
}

func setupSimulator(t *testing.T) *simHarness {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	logger := zap.NewNop()
	events := repository.NewEventsRepository(db, logger)
	settings := repository.NewSettingsRepository(db, logger)

	recorder := &recordingDispatcher{}
	notifier := alert.NewNotifier(settings, []alert.Dispatcher{recorder}, logger)
	cacheManager := cache.NewManager(redisClient, "test:risk", "test:house", 30, "test:events", logger)
	scorer := risk.NewScorer(events, settings, time.Hour, 10*time.Minute, logger)

	sim := NewSimulator(events, settings, scorer, notifier, cacheManager, 30, logger)
	return &simHarness{db: db, mock: mock, recorder: recorder, sim: sim}
}

func settingsRow(key, value string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"key", "value", "updated_at"}).
		AddRow(key, value, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
}

func TestSimulateEvent_IntruderBoostsAndAlerts(t *testing.T) {
	h := setupSimulator(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 即时加分：读当前分 20，写回 20+30
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("risk_score").
		WillReturnRows(settingsRow("risk_score", "20"))
	h.mock.ExpectExec("INSERT INTO settings").
		WithArgs("risk_score", "50").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(settingsRow("alert_mode", "normal"))

	event, err := h.sim.SimulateEvent(context.Background(), "intruder")

	require.NoError(t, err)
	assert.Equal(t, "intruder", event.Type)
	assert.Equal(t, "high", event.RiskLevel)
	require.Len(t, h.recorder.messages, 1)
	assert.True(t, h.recorder.messages[0].Critical)
	assert.Contains(t, h.recorder.messages[0].Text, "INTRUDER")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimulateEvent_FireBoostClampsAtHundred(t *testing.T) {
	h := setupSimulator(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("risk_score").
		WillReturnRows(settingsRow("risk_score", "80"))
	h.mock.ExpectExec("INSERT INTO settings").
		WithArgs("risk_score", "100").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(settingsRow("alert_mode", "normal"))

	event, err := h.sim.SimulateEvent(context.Background(), "fire")

	require.NoError(t, err)
	assert.Equal(t, "fire", event.Type)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimulateEvent_PowerFailureIsNotCritical(t *testing.T) {
	h := setupSimulator(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// power_failure 无即时加分，直接读 alert_mode
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(settingsRow("alert_mode", "normal"))

	event, err := h.sim.SimulateEvent(context.Background(), "power_failure")

	require.NoError(t, err)
	assert.Nil(t, event.Room)
	assert.Equal(t, "medium", event.RiskLevel)
	require.Len(t, h.recorder.messages, 1)
	assert.False(t, h.recorder.messages[0].Critical)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimulateEvent_UnknownTypeFallsBackToMotion(t *testing.T) {
	h := setupSimulator(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event, err := h.sim.SimulateEvent(context.Background(), "something_else")

	require.NoError(t, err)
	assert.Equal(t, "motion", event.Type)
	assert.Equal(t, "low", event.RiskLevel)
	assert.Empty(t, h.recorder.messages) // 普通移动不推送
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimulateEvent_PersistFailureAborts(t *testing.T) {
	h := setupSimulator(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnError(sql.ErrConnDone)

	_, err := h.sim.SimulateEvent(context.Background(), "intruder")

	assert.ErrorContains(t, err, "failed to record simulated event")
	assert.Empty(t, h.recorder.messages)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
