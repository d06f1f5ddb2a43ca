// Package service 安防核心服务门面：对外（bot、HTTP、模拟器）暴露
// 布防、状态、事件查询、审批、清理与报表导出等操作入口。
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/cache"
	"homewatch/internal/export"
	"homewatch/internal/housestate"
	"homewatch/internal/models"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
)

// Dashboard 分析面板数据
type Dashboard struct {
	EventsByDay       []repository.DayCount  `json:"eventsByDay"`
	EventsByType      []repository.TypeCount `json:"eventsByType"`
	KnownDetections   int                    `json:"knownDetections"`
	UnknownDetections int                    `json:"unknownDetections"`
	FrequentVisitors  []*models.KnownFace    `json:"frequentVisitors"`
}

// PurgeResult 批量清理的影响行数
type PurgeResult struct {
	Events       int64 `json:"events"`
	UnknownFaces int64 `json:"unknownFaces"`
}

// SecurityService 安防核心服务
type SecurityService struct {
	events       *repository.EventsRepository
	knownFaces   *repository.KnownFacesRepository
	unknownFaces *repository.UnknownFacesRepository
	settings     *repository.SettingsRepository
	scorer       *risk.Scorer
	projector    *housestate.Projector
	cache        *cache.Manager
	logger       *zap.Logger
}

// NewSecurityService 创建安防核心服务
func NewSecurityService(
	events *repository.EventsRepository,
	knownFaces *repository.KnownFacesRepository,
	unknownFaces *repository.UnknownFacesRepository,
	settings *repository.SettingsRepository,
	scorer *risk.Scorer,
	projector *housestate.Projector,
	cacheManager *cache.Manager,
	logger *zap.Logger,
) *SecurityService {
	return &SecurityService{
		events:       events,
		knownFaces:   knownFaces,
		unknownFaces: unknownFaces,
		settings:     settings,
		scorer:       scorer,
		projector:    projector,
		cache:        cacheManager,
		logger:       logger,
	}
}

// Status 系统状态汇总（布防、模式、风险分、最近事件）
func (s *SecurityService) Status(ctx context.Context) (*models.SystemStatus, error) {
	settings, err := s.settings.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	recent, _, err := s.events.ListEvents(ctx, repository.EventFilters{}, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}

	riskScore, _ := strconv.Atoi(settings[models.SettingRiskScore])

	return &models.SystemStatus{
		Armed:        settings[models.SettingArmed] == "true",
		AlertMode:    settings[models.SettingAlertMode],
		RiskScore:    riskScore,
		Theme:        settings[models.SettingTheme],
		RecentEvents: recent,
	}, nil
}

// SetArmed 布防/撤防并追加 system 事件
func (s *SecurityService) SetArmed(ctx context.Context, armed bool) error {
	value := "false"
	action := "disarmed"
	if armed {
		value = "true"
		action = "armed"
	}

	if err := s.settings.UpsertSetting(ctx, models.SettingArmed, value); err != nil {
		return fmt.Errorf("failed to update armed state: %w", err)
	}

	event := &models.Event{
		Type:        models.EventSystem,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("System %s", action),
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record arm state change: %w", err)
	}
	s.cache.Invalidate(ctx)
	s.cache.PublishEvent(ctx, event)

	s.logger.Info("Arm state changed",
		zap.Bool("armed", armed),
	)
	return nil
}

// SetAlertMode 切换告警模式（normal / silent）
func (s *SecurityService) SetAlertMode(ctx context.Context, mode string) error {
	if mode != models.AlertModeNormal && mode != models.AlertModeSilent {
		return fmt.Errorf("invalid alert mode: %s", mode)
	}
	if err := s.settings.UpsertSetting(ctx, models.SettingAlertMode, mode); err != nil {
		return fmt.Errorf("failed to update alert mode: %w", err)
	}
	s.logger.Info("Alert mode changed",
		zap.String("mode", mode),
	)
	return nil
}

// UpdateSetting 通用设置写入（risk_score 走 SetRiskScore 保证取值范围）
func (s *SecurityService) UpdateSetting(ctx context.Context, key, value string) error {
	if key == models.SettingRiskScore {
		score, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("risk_score must be an integer: %w", err)
		}
		return s.settings.SetRiskScore(ctx, score)
	}
	return s.settings.UpsertSetting(ctx, key, value)
}

// RiskSnapshot 当前风险快照（缓存优先，miss 时重算并回填）
func (s *SecurityService) RiskSnapshot(ctx context.Context) (*models.RiskSnapshot, error) {
	if cached := s.cache.GetRiskSnapshot(ctx); cached != nil {
		return cached, nil
	}

	snapshot, err := s.scorer.Calculate(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetRiskSnapshot(ctx, snapshot)
	return snapshot, nil
}

// HouseState 当前整屋状态（缓存优先，miss 时投影并回填）
func (s *SecurityService) HouseState(ctx context.Context) (*models.HouseState, error) {
	if cached := s.cache.GetHouseState(ctx); cached != nil {
		return cached, nil
	}

	state, err := s.projector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetHouseState(ctx, state)
	return state, nil
}

// WhoIsHome 当前在场人员
func (s *SecurityService) WhoIsHome(ctx context.Context) ([]string, error) {
	return s.projector.WhoIsHome(ctx)
}

// ListEvents 分页查询事件日志
func (s *SecurityService) ListEvents(ctx context.Context, filters repository.EventFilters, limit, offset int) (*models.EventPage, error) {
	events, total, err := s.events.ListEvents(ctx, filters, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.EventPage{
		Events: events,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// Intrusions 最近的入侵类事件
func (s *SecurityService) Intrusions(ctx context.Context, limit int) ([]*models.Event, error) {
	return s.events.FindIntrusions(ctx, limit)
}

// GetEvent 查询单条事件
func (s *SecurityService) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	return s.events.GetEvent(ctx, eventID)
}

// EventsByType 按类型查询最近事件
func (s *SecurityService) EventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	return s.events.FindEventsByType(ctx, eventType, limit)
}

// RecentPeople 最近 30 分钟内出现过的人员姓名（去重）
// 与 WhoIsHome 的房态视角互补：不关心房间，仅关心近期有谁被检测到
func (s *SecurityService) RecentPeople(ctx context.Context) ([]string, error) {
	return s.events.DistinctPersonNamesSince(ctx, time.Now().Add(-30*time.Minute))
}

// UpdateIdentity 更新身份基础信息
func (s *SecurityService) UpdateIdentity(ctx context.Context, faceID, name, category, notes string) error {
	if err := s.knownFaces.UpdateKnownFace(ctx, faceID, name, category, notes); err != nil {
		return err
	}

	s.logger.Info("Identity updated",
		zap.String("face_id", faceID),
		zap.String("name", name),
	)
	return nil
}

// SetAccessAllowed 更新身份的门禁权限并追加 door_access 审计事件
func (s *SecurityService) SetAccessAllowed(ctx context.Context, faceID string, allowed bool) (*models.KnownFace, error) {
	face, err := s.knownFaces.GetKnownFace(ctx, faceID)
	if err != nil {
		return nil, err
	}

	if err := s.knownFaces.SetAccessAllowed(ctx, faceID, allowed); err != nil {
		return nil, err
	}
	face.AccessAllowed = allowed

	action := "revoked"
	if allowed {
		action = "granted"
	}
	event := &models.Event{
		Type:        models.EventDoorAccess,
		PersonName:  &face.Name,
		PersonID:    &face.FaceID,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("Door access %s for %s", action, face.Name),
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		s.logger.Error("Failed to record access change",
			zap.Error(err),
		)
	}

	s.logger.Info("Access permission updated",
		zap.String("face_id", faceID),
		zap.Bool("access_allowed", allowed),
	)
	return face, nil
}

// DeleteIdentity 删除已知身份并从事件日志里抹除人员引用
// 事件本体保留，只清空 person_id / person_name
func (s *SecurityService) DeleteIdentity(ctx context.Context, faceID string) error {
	face, err := s.knownFaces.GetKnownFace(ctx, faceID)
	if err != nil {
		return err
	}

	scrubbed, err := s.events.ScrubPersonFromEvents(ctx, faceID)
	if err != nil {
		return fmt.Errorf("failed to scrub person from events: %w", err)
	}

	if err := s.knownFaces.DeleteKnownFace(ctx, faceID); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	event := &models.Event{
		Type:        models.EventSystem,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("Identity %s removed, %d events scrubbed", face.Name, scrubbed),
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		s.logger.Error("Failed to record identity removal",
			zap.Error(err),
		)
	}
	s.cache.Invalidate(ctx)

	s.logger.Info("Identity deleted",
		zap.String("face_id", faceID),
		zap.String("name", face.Name),
		zap.Int64("events_scrubbed", scrubbed),
	)
	return nil
}

// PurgeEvents 清空事件日志（可按类型过滤），返回影响行数
func (s *SecurityService) PurgeEvents(ctx context.Context, eventType string) (*PurgeResult, error) {
	var count int64
	var err error
	if eventType == "" {
		count, err = s.events.ClearEvents(ctx)
	} else {
		count, err = s.events.ClearEventsByType(ctx, eventType)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)
	s.logger.Info("Events purged",
		zap.String("event_type", eventType),
		zap.Int64("count", count),
	)
	return &PurgeResult{Events: count}, nil
}

// PurgeUnknownFaces 清空陌生人脸记录及对应的 unknown_face 事件
func (s *SecurityService) PurgeUnknownFaces(ctx context.Context) (*PurgeResult, error) {
	faces, err := s.unknownFaces.ClearUnknownFaces(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ClearEventsByType(ctx, models.EventUnknownFace)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)
	s.logger.Info("Unknown faces purged",
		zap.Int64("faces", faces),
		zap.Int64("events", events),
	)
	return &PurgeResult{Events: events, UnknownFaces: faces}, nil
}

// Dashboard 最近一周的事件统计与常客榜
func (s *SecurityService) Dashboard(ctx context.Context) (*Dashboard, error) {
	since := time.Now().AddDate(0, 0, -7)

	byDay, err := s.events.CountEventsByDay(ctx, since)
	if err != nil {
		return nil, err
	}
	byType, err := s.events.CountEventsGroupedByType(ctx, since)
	if err != nil {
		return nil, err
	}
	known, unknown, err := s.events.CountDetectionsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	visitors, err := s.knownFaces.ListFrequentVisitors(ctx, 5)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		EventsByDay:       byDay,
		EventsByType:      byType,
		KnownDetections:   known,
		UnknownDetections: unknown,
		FrequentVisitors:  visitors,
	}, nil
}

// ExportReport 生成最近 N 天的安防报告 Excel
func (s *SecurityService) ExportReport(ctx context.Context, days int) ([]byte, string, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	events, err := s.events.FindEventsSince(ctx, since)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load report events: %w", err)
	}
	faces, err := s.knownFaces.ListKnownFaces(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load identities: %w", err)
	}

	data, err := export.GenerateSecurityReport(events, faces)
	if err != nil {
		return nil, "", err
	}

	return data, export.ReportFileName(time.Now()), nil
}
