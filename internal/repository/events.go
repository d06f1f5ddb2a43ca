package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homewatch/internal/models"
)

// eventColumns 事件表查询列（与 scanEvent 保持一致）
const eventColumns = `
			event_id,
			event_type,
			room,
			person_name,
			person_id,
			risk_level,
			description,
			image_path,
			event_time`

// EventsRepository 事件仓库（只追加日志，单条记录不更新不删除）
type EventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventsRepository 创建事件仓库
func NewEventsRepository(db *sql.DB, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{
		db:     db,
		logger: logger,
	}
}

// EventFilters 事件过滤条件
type EventFilters struct {
	// 时间段过滤
	StartTime *time.Time // 开始时间（event_time >= StartTime）
	EndTime   *time.Time // 结束时间（event_time <= EndTime）

	// 类型过滤
	EventType  *string  // 单一事件类型
	EventTypes []string // 事件类型列表（IN 查询）

	// 位置和人员过滤
	Room      *string // 房间
	PersonID  *string // 人员ID
	RiskLevel *string // 风险等级
}

// buildWhereClause 构建 WHERE 子句
func (r *EventsRepository) buildWhereClause(filters EventFilters, args *[]interface{}, argN *int) []string {
	where := []string{}

	// 时间段过滤
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("event_time >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("event_time <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}

	// 类型过滤
	if filters.EventType != nil {
		where = append(where, fmt.Sprintf("event_type = $%d", *argN))
		*args = append(*args, *filters.EventType)
		*argN++
	}
	if len(filters.EventTypes) > 0 {
		placeholders := make([]string, len(filters.EventTypes))
		for i := range filters.EventTypes {
			placeholders[i] = fmt.Sprintf("$%d", *argN)
			*args = append(*args, filters.EventTypes[i])
			*argN++
		}
		where = append(where, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ", ")))
	}

	// 位置和人员过滤
	if filters.Room != nil {
		where = append(where, fmt.Sprintf("room = $%d", *argN))
		*args = append(*args, *filters.Room)
		*argN++
	}
	if filters.PersonID != nil {
		where = append(where, fmt.Sprintf("person_id = $%d", *argN))
		*args = append(*args, *filters.PersonID)
		*argN++
	}
	if filters.RiskLevel != nil {
		where = append(where, fmt.Sprintf("risk_level = $%d", *argN))
		*args = append(*args, *filters.RiskLevel)
		*argN++
	}

	return where
}

// scanEvent 扫描单行事件（列顺序与 eventColumns 一致）
func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Event, error) {
	var event models.Event
	var room, personName, personID, imagePath sql.NullString

	err := scanner.Scan(
		&event.EventID,
		&event.Type,
		&room,
		&personName,
		&personID,
		&event.RiskLevel,
		&event.Description,
		&imagePath,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if room.Valid {
		event.Room = &room.String
	}
	if personName.Valid {
		event.PersonName = &personName.String
	}
	if personID.Valid {
		event.PersonID = &personID.String
	}
	if imagePath.Valid {
		event.ImagePath = &imagePath.String
	}

	return &event, nil
}

// CreateEvent 追加事件（唯一的写入路径，缺省字段自动补齐）
func (r *EventsRepository) CreateEvent(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RiskLevel == "" {
		event.RiskLevel = models.RiskLow
	}

	query := `
		INSERT INTO events (
			event_id,
			event_type,
			room,
			person_name,
			person_id,
			risk_level,
			description,
			image_path,
			event_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.Type,
		event.Room,
		event.PersonName,
		event.PersonID,
		event.RiskLevel,
		event.Description,
		event.ImagePath,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetEvent 根据 event_id 获取单个事件
func (r *EventsRepository) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE event_id = $1
	`, eventColumns)

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event not found: event_id=%s", eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListEvents 列表查询（倒序分页，返回总数）
func (r *EventsRepository) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.Event, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	// 计算总数
	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM events
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	// 查询列表（最新优先）
	queryList := fmt.Sprintf(`
		SELECT %s
		FROM events
		%s
		ORDER BY event_time DESC
		LIMIT $%d OFFSET $%d
	`, eventColumns, whereClause, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, queryList, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, total, nil
}

// FindEventsSince 查询某时间点之后的所有事件（最新优先）
func (r *EventsRepository) FindEventsSince(ctx context.Context, since time.Time) ([]*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE event_time >= $1
		ORDER BY event_time DESC
	`, eventColumns)

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find events since: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// FindEventsByType 按类型查询（最新优先，限制条数）
func (r *EventsRepository) FindEventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE event_type = $1
		ORDER BY event_time DESC
		LIMIT $2
	`, eventColumns)

	rows, err := r.db.QueryContext(ctx, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find events by type: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// CountEventsByTypeSince 统计某时间点之后指定类型的事件数
func (r *EventsRepository) CountEventsByTypeSince(ctx context.Context, eventType string, since time.Time) (int, error) {
	if eventType == "" {
		return 0, fmt.Errorf("event_type is required")
	}

	query := `
		SELECT COUNT(*)
		FROM events
		WHERE event_type = $1
		  AND event_time >= $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, eventType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events by type: %w", err)
	}

	return count, nil
}

// FindEventsByPerson 查询某人员最近的事件（最新优先，用于访客行为分析）
func (r *EventsRepository) FindEventsByPerson(ctx context.Context, personID string, limit int) ([]*models.Event, error) {
	if personID == "" {
		return nil, fmt.Errorf("person_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE person_id = $1
		ORDER BY event_time DESC
		LIMIT $2
	`, eventColumns)

	rows, err := r.db.QueryContext(ctx, query, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find events by person: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// DistinctPersonNamesSince 查询某时间点之后出现过的人员名单（去重）
func (r *EventsRepository) DistinctPersonNamesSince(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT person_name
		FROM events
		WHERE person_name IS NOT NULL
		  AND event_time >= $1
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query person names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan person name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate person names: %w", err)
	}

	return names, nil
}

// ScrubPersonFromEvents 清除事件中对某人员的引用（事件本身保留，日志只追加）
func (r *EventsRepository) ScrubPersonFromEvents(ctx context.Context, personID string) (int64, error) {
	if personID == "" {
		return 0, fmt.Errorf("person_id is required")
	}

	query := `
		UPDATE events
		SET person_id = NULL, person_name = NULL
		WHERE person_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to scrub person from events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected, nil
}

// ClearEvents 清空事件日志（管理操作，返回删除条数）
func (r *EventsRepository) ClearEvents(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	r.logger.Info("Events cleared",
		zap.Int64("deleted", affected),
	)

	return affected, nil
}

// ClearEventsByType 按类型清空事件（管理操作，返回删除条数）
func (r *EventsRepository) ClearEventsByType(ctx context.Context, eventType string) (int64, error) {
	if eventType == "" {
		return 0, fmt.Errorf("event_type is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE event_type = $1`, eventType)
	if err != nil {
		return 0, fmt.Errorf("failed to clear events by type: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected, nil
}

// DayCount 按天统计结果
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TypeCount 按类型统计结果
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CountEventsByDay 按天统计事件数（用于分析面板）
func (r *EventsRepository) CountEventsByDay(ctx context.Context, since time.Time) ([]DayCount, error) {
	query := `
		SELECT to_char(event_time, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM events
		WHERE event_time >= $1
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by day: %w", err)
	}
	defer rows.Close()

	counts := []DayCount{}
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan day count: %w", err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate day counts: %w", err)
	}

	return counts, nil
}

// CountEventsGroupedByType 按类型统计事件数（用于分析面板）
func (r *EventsRepository) CountEventsGroupedByType(ctx context.Context, since time.Time) ([]TypeCount, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE event_time >= $1
		GROUP BY event_type
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	counts := []TypeCount{}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate type counts: %w", err)
	}

	return counts, nil
}

// CountDetectionsSince 统计已识别/未识别检测数（用于分析面板）
func (r *EventsRepository) CountDetectionsSince(ctx context.Context, since time.Time) (known int, unknown int, err error) {
	queryKnown := `
		SELECT COUNT(*)
		FROM events
		WHERE event_time >= $1
		  AND person_id IS NOT NULL
	`
	if err = r.db.QueryRowContext(ctx, queryKnown, since).Scan(&known); err != nil {
		return 0, 0, fmt.Errorf("failed to count known detections: %w", err)
	}

	queryUnknown := `
		SELECT COUNT(*)
		FROM events
		WHERE event_time >= $1
		  AND event_type = $2
		  AND person_id IS NULL
	`
	if err = r.db.QueryRowContext(ctx, queryUnknown, since, models.EventDetection).Scan(&unknown); err != nil {
		return 0, 0, fmt.Errorf("failed to count unknown detections: %w", err)
	}

	return known, unknown, nil
}

// FindIntrusions 查询入侵类事件（intruder, unknown_face, forced_entry）
func (r *EventsRepository) FindIntrusions(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	filters := EventFilters{
		EventTypes: []string{models.EventIntruder, models.EventUnknownFace, models.EventForcedEntry},
	}
	events, _, err := r.ListEvents(ctx, filters, limit, 0)
	return events, err
}
