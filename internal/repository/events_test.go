package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homewatch/internal/models"
)

var eventTestTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

var eventTestColumns = []string{
	"event_id", "event_type", "room", "person_name", "person_id",
	"risk_level", "description", "image_path", "event_time",
}

func setupMockEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EventsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewEventsRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestCreateEvent_FillsDefaults(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.Event{
		Type:        models.EventMotion,
		Description: "Motion detected in hall",
	}
	err := repo.CreateEvent(context.Background(), event)

	require.NoError(t, err)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, models.RiskLow, event.RiskLevel)
	assert.False(t, event.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEvent_TypeRequired(t *testing.T) {
	db, _, repo := setupMockEventsDB(t)
	defer db.Close()

	err := repo.CreateEvent(context.Background(), &models.Event{})

	assert.ErrorContains(t, err, "event type is required")
}

func TestGetEvent_NotFound(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT(.|\n)*FROM events(.|\n)*WHERE event_id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventTestColumns))

	_, err := repo.GetEvent(context.Background(), "missing")

	assert.ErrorContains(t, err, "event not found")
}

func TestListEvents_Paged(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)(.|\n)*FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	rows := sqlmock.NewRows(eventTestColumns).
		AddRow("e-1", "motion", "hall", nil, nil, "low", "Motion detected in hall", nil, eventTestTime).
		AddRow("e-2", "unknown_face", "garden", nil, nil, "medium", "Unknown face detected in garden", "/img/x.jpg", eventTestTime.Add(-time.Minute))

	mock.ExpectQuery("SELECT(.|\n)*FROM events(.|\n)*ORDER BY event_time DESC").
		WillReturnRows(rows)

	events, total, err := repo.ListEvents(context.Background(), EventFilters{}, 10, 0)

	require.NoError(t, err)
	assert.Equal(t, 42, total)
	require.Len(t, events, 2)
	assert.Equal(t, "hall", *events[0].Room)
	assert.Nil(t, events[0].PersonName)
	assert.Equal(t, "/img/x.jpg", *events[1].ImagePath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents_WithFilters(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	eventType := "motion"
	room := "hall"

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)(.|\n)*WHERE event_type = \\$1 AND room = \\$2").
		WithArgs(eventType, room).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT(.|\n)*WHERE event_type = \\$1 AND room = \\$2").
		WithArgs(eventType, room).
		WillReturnRows(sqlmock.NewRows(eventTestColumns).
			AddRow("e-1", "motion", "hall", nil, nil, "low", "Motion detected in hall", nil, eventTestTime))

	events, total, err := repo.ListEvents(context.Background(), EventFilters{
		EventType: &eventType,
		Room:      &room,
	}, 10, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEventsSince(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	since := eventTestTime.Add(-time.Hour)

	mock.ExpectQuery("SELECT(.|\n)*FROM events(.|\n)*WHERE event_time >= \\$1").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows(eventTestColumns).
			AddRow("e-1", "motion", "hall", nil, nil, "low", "Motion detected in hall", nil, eventTestTime))

	events, err := repo.FindEventsSince(context.Background(), since)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEventsByTypeSince(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	since := eventTestTime.Add(-10 * time.Minute)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)(.|\n)*FROM events").
		WithArgs("unknown_face", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountEventsByTypeSince(context.Background(), "unknown_face", since)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScrubPersonFromEvents(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE events(.|\n)*SET person_id = NULL, person_name = NULL").
		WithArgs("kf-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	scrubbed, err := repo.ScrubPersonFromEvents(context.Background(), "kf-1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), scrubbed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearEventsByType(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM events(.|\n)*WHERE event_type = \\$1").
		WithArgs("unknown_face").
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := repo.ClearEventsByType(context.Background(), "unknown_face")

	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
