// Package detection 检测接入管线：一条检测输入依次经过身份匹配、
// 陌生人去重、事件落库、风险调整与告警分发。
// 事件落库失败中止操作并上抛；落库之后的告警/缓存失败只记日志。
package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homewatch/internal/alert"
	"homewatch/internal/cache"
	"homewatch/internal/dedup"
	"homewatch/internal/matcher"
	"homewatch/internal/models"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
)

// Result 一次检测输入的处理结果
type Result struct {
	Event      *models.Event       `json:"event"`
	Face       *models.KnownFace   `json:"face,omitempty"`
	Pending    *models.UnknownFace `json:"pending,omitempty"`
	Matched    bool                `json:"matched"`
	Confidence float64             `json:"confidence,omitempty"`
}

// Service 检测服务
type Service struct {
	events       *repository.EventsRepository
	knownFaces   *repository.KnownFacesRepository
	deduplicator *dedup.Deduplicator
	scorer       *risk.Scorer
	notifier     *alert.Notifier
	cache        *cache.Manager
	threshold    float64
	logger       *zap.Logger
}

// NewService 创建检测服务
func NewService(
	events *repository.EventsRepository,
	knownFaces *repository.KnownFacesRepository,
	deduplicator *dedup.Deduplicator,
	scorer *risk.Scorer,
	notifier *alert.Notifier,
	cacheManager *cache.Manager,
	threshold float64,
	logger *zap.Logger,
) *Service {
	if threshold <= 0 {
		threshold = matcher.DefaultThreshold
	}
	return &Service{
		events:       events,
		knownFaces:   knownFaces,
		deduplicator: deduplicator,
		scorer:       scorer,
		notifier:     notifier,
		cache:        cacheManager,
		threshold:    threshold,
		logger:       logger,
	}
}

// appendEvent 事件落库 + 快照缓存失效 + 流发布
// 落库失败直接返回错误，后两步失败只记日志
func (s *Service) appendEvent(ctx context.Context, event *models.Event) error {
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.cache.PublishEvent(ctx, event)
	return nil
}

// recalculate 重算风险分，失败只记日志（事件已落库）
func (s *Service) recalculate(ctx context.Context) {
	if _, err := s.scorer.Calculate(ctx); err != nil {
		s.logger.Error("Failed to recalculate risk after detection",
			zap.Error(err),
		)
	}
}

// boost 在重算结果之上叠加即时加分，失败只记日志
func (s *Service) boost(ctx context.Context, eventType string) {
	if err := s.scorer.Boost(ctx, eventType); err != nil {
		s.logger.Error("Failed to apply risk boost",
			zap.Error(err),
			zap.String("event_type", eventType),
		)
	}
}

// ReportMotion 上报房间移动
func (s *Service) ReportMotion(ctx context.Context, room string) (*models.Event, error) {
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}

	event := &models.Event{
		Type:        models.EventMotion,
		Room:        &room,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("Motion detected in %s", room),
	}
	if err := s.appendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record motion: %w", err)
	}

	s.recalculate(ctx)
	return event, nil
}

// ClearMotion 上报房间移动解除
func (s *Service) ClearMotion(ctx context.Context, room string) (*models.Event, error) {
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}

	event := &models.Event{
		Type:        models.EventMotionCleared,
		Room:        &room,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("Motion cleared in %s", room),
	}
	if err := s.appendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record motion cleared: %w", err)
	}
	return event, nil
}

// Detect 上报一次带身份声明的检测（摄像头侧已完成识别）
// known=false 时建立未批准的占位身份等待审批，并触发告警
func (s *Service) Detect(ctx context.Context, room, personName string, known bool) (*Result, error) {
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}
	if personName == "" {
		return nil, fmt.Errorf("person name is required")
	}

	var face *models.KnownFace
	eventType := models.EventDetection
	riskLevel := models.RiskLow
	description := fmt.Sprintf("%s detected in %s", personName, room)

	if known {
		existing, err := s.knownFaces.GetKnownFaceByName(ctx, personName)
		switch {
		case err == nil:
			face = existing
			eventType = models.EventKnownFace
			if err := s.knownFaces.IncrementVisit(ctx, existing.FaceID, time.Now()); err != nil {
				s.logger.Warn("Failed to increment visit count",
					zap.Error(err),
					zap.String("face_id", existing.FaceID),
				)
			}
		case strings.Contains(err.Error(), "not found"):
			// 声明为已知但没有登记记录，按普通 detection 记录
			s.logger.Warn("Claimed known person has no identity record",
				zap.String("person_name", personName),
			)
		default:
			return nil, fmt.Errorf("failed to look up identity: %w", err)
		}
	} else {
		eventType = models.EventUnknownFace
		riskLevel = models.RiskHigh
		description = fmt.Sprintf("Unknown person (%s) detected in %s", personName, room)
		face = &models.KnownFace{
			FaceID:   uuid.New().String(),
			Name:     personName,
			Category: models.CategoryUnknown,
			Approved: false,
			AddedAt:  time.Now(),
		}
		if err := s.knownFaces.CreateKnownFace(ctx, face); err != nil {
			return nil, fmt.Errorf("failed to create placeholder identity: %w", err)
		}
	}

	event := &models.Event{
		Type:        eventType,
		Room:        &room,
		PersonName:  &personName,
		RiskLevel:   riskLevel,
		Description: description,
	}
	if face != nil {
		event.PersonID = &face.FaceID
	}
	if err := s.appendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record detection: %w", err)
	}

	// 伴随移动事件，让房态投影看到在场
	motion := &models.Event{
		Type:        models.EventMotion,
		Room:        &room,
		PersonName:  &personName,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("Motion detected in %s (%s entered)", room, personName),
	}
	if err := s.appendEvent(ctx, motion); err != nil {
		s.logger.Warn("Failed to record companion motion event",
			zap.Error(err),
		)
	}

	if !known {
		s.notifier.Notify(ctx, alert.Message{
			Text: fmt.Sprintf(
				"🚨 *SECURITY ALERT*\n\n⚠️ Unknown person detected!\n📍 Location: %s\n👤 Person: %s\n\nTo approve, send:\n/approve %s <RealName>",
				strings.ToUpper(room), personName, face.FaceID),
			Critical: true,
		})
	}

	s.recalculate(ctx)
	if !known {
		s.boost(ctx, models.EventUnknownFace)
	}

	return &Result{
		Event:   event,
		Face:    face,
		Matched: eventType == models.EventKnownFace,
	}, nil
}

// RecognizeDescriptor 对一个人脸描述符做身份解析
// 命中已登记身份：累加来访次数并写 known_face 事件
// 未命中：进入陌生人去重管线（ReportUnknown）
func (s *Service) RecognizeDescriptor(ctx context.Context, descriptor []float64, room, imagePath string) (*Result, error) {
	if len(descriptor) == 0 {
		return nil, matcher.ErrDescriptorRequired
	}
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}

	enrolled, err := s.knownFaces.ListEnrolled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrolled identities: %w", err)
	}

	match, bestDistance, err := matcher.BestMatch(descriptor, enrolled, s.threshold)
	if err != nil {
		return nil, err
	}

	if match == nil {
		s.logger.Debug("Descriptor did not match any identity",
			zap.Float64("best_distance", bestDistance),
		)
		return s.ReportUnknown(ctx, descriptor, room, imagePath)
	}

	if err := s.knownFaces.IncrementVisit(ctx, match.Face.FaceID, time.Now()); err != nil {
		s.logger.Warn("Failed to increment visit count",
			zap.Error(err),
			zap.String("face_id", match.Face.FaceID),
		)
	}

	event := &models.Event{
		Type:        models.EventKnownFace,
		Room:        &room,
		PersonName:  &match.Face.Name,
		PersonID:    &match.Face.FaceID,
		RiskLevel:   models.RiskLow,
		Description: fmt.Sprintf("%s recognized in %s", match.Face.Name, room),
	}
	if imagePath != "" {
		event.ImagePath = &imagePath
	}
	if err := s.appendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record recognition: %w", err)
	}

	s.recalculate(ctx)

	return &Result{
		Event:      event,
		Face:       match.Face,
		Matched:    true,
		Confidence: match.Confidence,
	}, nil
}

// ReportUnknown 上报一个未能解析的描述符
// 去重命中：累加 detection_count，不再重复告警
// 新的陌生人：写 unknown_face 事件并带图告警
func (s *Service) ReportUnknown(ctx context.Context, descriptor []float64, room, imagePath string) (*Result, error) {
	if len(descriptor) == 0 {
		return nil, matcher.ErrDescriptorRequired
	}
	if room == "" {
		return nil, fmt.Errorf("room is required")
	}

	var image *string
	if imagePath != "" {
		image = &imagePath
	}
	pending, isNew, err := s.deduplicator.Resolve(ctx, descriptor, image)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unknown sighting: %w", err)
	}

	result := &Result{
		Pending: pending,
		Matched: false,
	}

	if !isNew {
		s.logger.Info("Repeat sighting of pending unknown face",
			zap.String("unknown_face_id", pending.FaceID),
			zap.Int("detection_count", pending.DetectionCount),
		)
		return result, nil
	}

	event := &models.Event{
		Type:        models.EventUnknownFace,
		Room:        &room,
		RiskLevel:   models.RiskHigh,
		Description: fmt.Sprintf("Unknown face detected in %s", room),
	}
	if imagePath != "" {
		event.ImagePath = &imagePath
	}
	if err := s.appendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record unknown face: %w", err)
	}
	result.Event = event

	s.notifier.Notify(ctx, alert.Message{
		Text:      fmt.Sprintf("🚨 Unknown face detected in %s", room),
		ImagePath: imagePath,
		Critical:  true,
	})

	s.recalculate(ctx)
	s.boost(ctx, models.EventUnknownFace)

	return result, nil
}
