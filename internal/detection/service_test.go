package detection

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
	"homewatch/internal/approval"
	"homewatch/internal/cache"
	"homewatch/internal/dedup"
	"homewatch/internal/matcher"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
)

// recordingDispatcher 记录分发出去的告警
type recordingDispatcher struct {
	messages []alert.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg alert.Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

type testHarness struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	recorder *recordingDispatcher
	service  *Service
}

func setupDetection(t *testing.T) *testHarness {
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
	knownFaces := repository.NewKnownFacesRepository(db, logger)
	unknownFaces := repository.NewUnknownFacesRepository(db, logger)
	settings := repository.NewSettingsRepository(db, logger)

	recorder := &recordingDispatcher{}
	notifier := alert.NewNotifier(settings, []alert.Dispatcher{recorder}, logger)
	cacheManager := cache.NewManager(redisClient, "test:risk", "test:house", 30, "test:events", logger)
	scorer := risk.NewScorer(events, settings, time.Hour, 10*time.Minute, logger)
	deduplicator := dedup.NewDeduplicator(unknownFaces, matcher.DefaultThreshold, logger)

	svc := NewService(events, knownFaces, deduplicator, scorer, notifier, cacheManager, matcher.DefaultThreshold, logger)
	return &testHarness{db: db, mock: mock, recorder: recorder, service: svc}
}

var eventTestColumns = []string{
	"event_id", "event_type", "room", "person_name", "person_id",
	"risk_level", "description", "image_path", "event_time",
}

var unknownFaceColumns = []string{
	"face_id", "descriptor", "image_path", "first_seen", "last_seen",
	"detection_count", "alert_sent", "status",
}

// expectRecalculate 风险重算的三步查询
func expectRecalculate(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT(.|\n)*FROM events(.|\n)*WHERE event_time >= \\$1").
		WillReturnRows(sqlmock.NewRows(eventTestColumns))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)(.|\n)*FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO settings").
		WithArgs("risk_score", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectUnknownBoost 陌生人即时加分：读当前分（缺省 0），写回 0+30
func expectUnknownBoost(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("risk_score").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}))
	mock.ExpectExec("INSERT INTO settings").
		WithArgs("risk_score", "30").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestReportMotion(t *testing.T) {
	h := setupDetection(t)

	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalculate(h.mock)

	event, err := h.service.ReportMotion(context.Background(), "hall")

	require.NoError(t, err)
	assert.Equal(t, "motion", event.Type)
	assert.Equal(t, "hall", *event.Room)
	assert.Empty(t, h.recorder.messages)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReportMotion_RoomRequired(t *testing.T) {
	h := setupDetection(t)

	_, err := h.service.ReportMotion(context.Background(), "")

	assert.ErrorContains(t, err, "room is required")
}

func TestReportUnknown_RepeatSightingDoesNotAlert(t *testing.T) {
	h := setupDetection(t)

	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pending := sqlmock.NewRows(unknownFaceColumns).
		AddRow("uf-1", "{0.1,0.1}", nil, seen, seen, 1, true, "pending")

	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(pending)
	h.mock.ExpectExec("UPDATE unknown_faces(.|\n)*SET detection_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := h.service.ReportUnknown(context.Background(), []float64{0.1, 0.1}, "hall", "")

	require.NoError(t, err)
	assert.Nil(t, result.Event) // 不追加新事件
	assert.Equal(t, "uf-1", result.Pending.FaceID)
	assert.Equal(t, 2, result.Pending.DetectionCount)
	assert.Empty(t, h.recorder.messages) // 不重复报警
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReportUnknown_NewSightingAlertsWithImage(t *testing.T) {
	h := setupDetection(t)

	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(unknownFaceColumns))
	h.mock.ExpectExec("INSERT INTO unknown_faces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 报警前读取 alert_mode
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}))
	expectRecalculate(h.mock)
	expectUnknownBoost(h.mock)

	result, err := h.service.ReportUnknown(context.Background(), []float64{0.1, 0.1}, "garden", "/img/u.jpg")

	require.NoError(t, err)
	require.NotNil(t, result.Event)
	assert.Equal(t, "unknown_face", result.Event.Type)
	assert.Equal(t, "high", result.Event.RiskLevel)
	require.Len(t, h.recorder.messages, 1)
	assert.Equal(t, "/img/u.jpg", h.recorder.messages[0].ImagePath)
	assert.True(t, h.recorder.messages[0].Critical)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReportUnknown_DescriptorRequired(t *testing.T) {
	h := setupDetection(t)

	_, err := h.service.ReportUnknown(context.Background(), nil, "hall", "")

	assert.ErrorIs(t, err, matcher.ErrDescriptorRequired)
}

func TestDetect_LookupFailureAborts(t *testing.T) {
	h := setupDetection(t)

	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE name = \\$1").
		WithArgs("Alice").
		WillReturnError(sql.ErrConnDone)

	_, err := h.service.Detect(context.Background(), "hall", "Alice", true)

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to look up identity")
	assert.Empty(t, h.recorder.messages)
	assert.NoError(t, h.mock.ExpectationsWereMet()) // 不落任何事件
}

func TestDetect_KnownPersonRecordsKnownFaceEvent(t *testing.T) {
	h := setupDetection(t)

	added := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	faceRow := sqlmock.NewRows([]string{
		"face_id", "name", "category", "descriptor", "image_path", "notes",
		"visit_count", "last_seen", "approved", "access_allowed", "added_at",
	}).AddRow("kf-1", "Alice", "family", nil, nil, "", 3, nil, true, true, added)

	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE name = \\$1").
		WithArgs("Alice").
		WillReturnRows(faceRow)
	h.mock.ExpectExec("UPDATE known_faces(.|\n)*SET visit_count = visit_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 伴随移动事件
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalculate(h.mock)

	result, err := h.service.Detect(context.Background(), "hall", "Alice", true)

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "known_face", result.Event.Type)
	assert.Equal(t, "kf-1", *result.Event.PersonID)
	assert.Empty(t, h.recorder.messages)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestDetect_ClaimedKnownWithoutRecordFallsToDetection(t *testing.T) {
	h := setupDetection(t)

	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE name = \\$1").
		WithArgs("Bob").
		WillReturnRows(sqlmock.NewRows([]string{
			"face_id", "name", "category", "descriptor", "image_path", "notes",
			"visit_count", "last_seen", "approved", "access_allowed", "added_at",
		}))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalculate(h.mock)

	result, err := h.service.Detect(context.Background(), "hall", "Bob", true)

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "detection", result.Event.Type)
	assert.Nil(t, result.Face)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRecognizeDescriptor_MatchIncrementsVisit(t *testing.T) {
	h := setupDetection(t)

	added := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	enrolled := sqlmock.NewRows([]string{
		"face_id", "name", "category", "descriptor", "image_path", "notes",
		"visit_count", "last_seen", "approved", "access_allowed", "added_at",
	}).AddRow("kf-1", "Alice", "family", "{0.1,0.1}", nil, "", 4, nil, true, true, added)

	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE approved = TRUE").
		WillReturnRows(enrolled)
	h.mock.ExpectExec("UPDATE known_faces(.|\n)*SET visit_count = visit_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalculate(h.mock)

	result, err := h.service.RecognizeDescriptor(context.Background(), []float64{0.1, 0.1}, "hall", "")

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "Alice", result.Face.Name)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Equal(t, "known_face", result.Event.Type)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// 陌生人完整生命周期：首次出现建档并报警，再次出现只累加计数，
// 审批转正后同一描述符直接命中新身份
func TestUnknownFaceLifecycle_PendingToApprovedIdentity(t *testing.T) {
	h := setupDetection(t)

	logger := zap.NewNop()
	approvals := approval.NewService(
		repository.NewKnownFacesRepository(h.db, logger),
		repository.NewUnknownFacesRepository(h.db, logger),
		repository.NewEventsRepository(h.db, logger),
		logger,
	)

	descriptor := []float64{0.1, 0.2}
	enrolledColumns := []string{
		"face_id", "name", "category", "descriptor", "image_path", "notes",
		"visit_count", "last_seen", "approved", "access_allowed", "added_at",
	}

	// 第一次出现：没有已登记身份，建档 + 带图报警
	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE approved = TRUE").
		WillReturnRows(sqlmock.NewRows(enrolledColumns))
	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(unknownFaceColumns))
	h.mock.ExpectExec("INSERT INTO unknown_faces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}))
	expectRecalculate(h.mock)
	expectUnknownBoost(h.mock)

	first, err := h.service.RecognizeDescriptor(context.Background(), descriptor, "hall", "/img/visitor.jpg")
	require.NoError(t, err)
	require.NotNil(t, first.Pending)
	require.Len(t, h.recorder.messages, 1)
	pendingID := first.Pending.FaceID

	// 再次出现：只累加 detection_count，不重复报警
	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE approved = TRUE").
		WillReturnRows(sqlmock.NewRows(enrolledColumns))
	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(unknownFaceColumns).
			AddRow(pendingID, "{0.1,0.2}", "/img/visitor.jpg", seen, seen, 1, true, "pending"))
	h.mock.ExpectExec("UPDATE unknown_faces(.|\n)*SET detection_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	second, err := h.service.RecognizeDescriptor(context.Background(), descriptor, "hall", "")
	require.NoError(t, err)
	assert.Nil(t, second.Event)
	assert.Equal(t, 2, second.Pending.DetectionCount)
	assert.Len(t, h.recorder.messages, 1)

	// 审批转正为 Alex，描述符随转换带入新身份
	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE face_id = \\$1").
		WithArgs(pendingID).
		WillReturnRows(sqlmock.NewRows(unknownFaceColumns).
			AddRow(pendingID, "{0.1,0.2}", "/img/visitor.jpg", seen, seen, 2, true, "pending"))
	h.mock.ExpectExec("INSERT INTO known_faces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("UPDATE unknown_faces(.|\n)*SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	alex, err := approvals.ApproveUnknownFace(context.Background(), pendingID, "Alex", "guest")
	require.NoError(t, err)
	assert.Equal(t, descriptor, alex.Descriptor)
	assert.True(t, alex.Approved)

	// 转正之后：同一描述符直接命中 Alex
	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE approved = TRUE").
		WillReturnRows(sqlmock.NewRows(enrolledColumns).
			AddRow(alex.FaceID, "Alex", "guest", "{0.1,0.2}", "/img/visitor.jpg", "", 0, nil, true, true, seen))
	h.mock.ExpectExec("UPDATE known_faces(.|\n)*SET visit_count = visit_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecalculate(h.mock)

	third, err := h.service.RecognizeDescriptor(context.Background(), descriptor, "hall", "")
	require.NoError(t, err)
	assert.True(t, third.Matched)
	assert.Equal(t, "Alex", third.Face.Name)
	assert.Equal(t, "known_face", third.Event.Type)
	assert.InDelta(t, 1.0, third.Confidence, 1e-9)
	assert.Len(t, h.recorder.messages, 1) // 全程只报过一次警
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRecognizeDescriptor_NoMatchFallsToDedup(t *testing.T) {
	h := setupDetection(t)

	// 没有已登记人员，进入陌生人去重；去重集合也为空 → 新建并报警
	h.mock.ExpectQuery("SELECT(.|\n)*FROM known_faces(.|\n)*WHERE approved = TRUE").
		WillReturnRows(sqlmock.NewRows([]string{
			"face_id", "name", "category", "descriptor", "image_path", "notes",
			"visit_count", "last_seen", "approved", "access_allowed", "added_at",
		}))
	h.mock.ExpectQuery("SELECT(.|\n)*FROM unknown_faces(.|\n)*WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(unknownFaceColumns))
	h.mock.ExpectExec("INSERT INTO unknown_faces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT key, value, updated_at(.|\n)*FROM settings").
		WithArgs("alert_mode").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}))
	expectRecalculate(h.mock)
	expectUnknownBoost(h.mock)

	result, err := h.service.RecognizeDescriptor(context.Background(), []float64{0.5, 0.5}, "hall", "")

	require.NoError(t, err)
	assert.False(t, result.Matched)
	require.NotNil(t, result.Pending)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
