// Package approval 审批流程：把待处理的陌生人脸或待审批身份
// 流转到 approved / rejected 终态，并写入匹配器读取的身份库。
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homewatch/internal/models"
	"homewatch/internal/repository"
)

// ErrAlreadyResolved 记录已处于终态，重复审批按良性冲突处理
var ErrAlreadyResolved = errors.New("face already resolved")

// Service 审批流程服务
type Service struct {
	knownFaces   *repository.KnownFacesRepository
	unknownFaces *repository.UnknownFacesRepository
	events       *repository.EventsRepository
	logger       *zap.Logger
}

// NewService 创建审批服务
func NewService(
	knownFaces *repository.KnownFacesRepository,
	unknownFaces *repository.UnknownFacesRepository,
	events *repository.EventsRepository,
	logger *zap.Logger,
) *Service {
	return &Service{
		knownFaces:   knownFaces,
		unknownFaces: unknownFaces,
		events:       events,
		logger:       logger,
	}
}

// ApproveUnknownFace 把陌生人脸记录审批为已知身份
// 描述符与图片随转换带入新身份；重复审批返回 ErrAlreadyResolved，不产生重复身份
func (s *Service) ApproveUnknownFace(ctx context.Context, faceID, name, category string) (*models.KnownFace, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if category == "" {
		category = models.CategoryGuest
	}

	unknown, err := s.unknownFaces.GetUnknownFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if unknown.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, unknown.Status)
	}

	face := &models.KnownFace{
		FaceID:        uuid.New().String(),
		Name:          name,
		Category:      category,
		Descriptor:    unknown.Descriptor,
		ImagePath:     unknown.ImagePath,
		Approved:      true,
		AccessAllowed: true,
		AddedAt:       time.Now(),
	}
	if err := s.knownFaces.CreateKnownFace(ctx, face); err != nil {
		return nil, fmt.Errorf("failed to materialize identity: %w", err)
	}

	if err := s.unknownFaces.UpdateStatus(ctx, faceID, models.StatusApproved); err != nil {
		return nil, fmt.Errorf("failed to mark unknown face approved: %w", err)
	}

	s.appendEvent(ctx, models.EventFaceAdded, face, fmt.Sprintf("Face approved as %s (%s)", name, category))

	s.logger.Info("Unknown face approved",
		zap.String("unknown_face_id", faceID),
		zap.String("face_id", face.FaceID),
		zap.String("name", name),
	)

	return face, nil
}

// RejectUnknownFace 拒绝陌生人脸记录
func (s *Service) RejectUnknownFace(ctx context.Context, faceID string) error {
	unknown, err := s.unknownFaces.GetUnknownFace(ctx, faceID)
	if err != nil {
		return err
	}
	if unknown.Status != models.StatusPending {
		return fmt.Errorf("%w: status is %s", ErrAlreadyResolved, unknown.Status)
	}

	if err := s.unknownFaces.UpdateStatus(ctx, faceID, models.StatusRejected); err != nil {
		return fmt.Errorf("failed to reject unknown face: %w", err)
	}

	s.logger.Info("Unknown face rejected",
		zap.String("unknown_face_id", faceID),
	)
	return nil
}

// ApprovePendingIdentity 审批一条未批准的已知身份（占位身份转正）
// 补齐姓名与分类并放行；重复审批返回 ErrAlreadyResolved
func (s *Service) ApprovePendingIdentity(ctx context.Context, faceID, name, category string) (*models.KnownFace, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if category == "" {
		category = models.CategoryGuest
	}

	face, err := s.knownFaces.GetKnownFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if face.Approved {
		return nil, fmt.Errorf("%w: identity already approved", ErrAlreadyResolved)
	}

	if err := s.knownFaces.ApproveKnownFace(ctx, faceID, name, category, true); err != nil {
		return nil, fmt.Errorf("failed to approve identity: %w", err)
	}

	face.Name = name
	face.Category = category
	face.Approved = true
	face.AccessAllowed = true

	s.appendEvent(ctx, models.EventFaceApproved, face, fmt.Sprintf("Identity approved: %s (%s)", name, category))

	s.logger.Info("Pending identity approved",
		zap.String("face_id", faceID),
		zap.String("name", name),
	)

	return face, nil
}

// RejectPendingIdentity 拒绝未批准的已知身份，记录直接删除
// 删除前抹除事件日志里对该身份的引用（日志本体保留）
func (s *Service) RejectPendingIdentity(ctx context.Context, faceID string) error {
	face, err := s.knownFaces.GetKnownFace(ctx, faceID)
	if err != nil {
		return err
	}
	if face.Approved {
		return fmt.Errorf("%w: identity already approved", ErrAlreadyResolved)
	}

	scrubbed, err := s.events.ScrubPersonFromEvents(ctx, faceID)
	if err != nil {
		return fmt.Errorf("failed to scrub person from events: %w", err)
	}

	if err := s.knownFaces.DeleteKnownFace(ctx, faceID); err != nil {
		return fmt.Errorf("failed to delete pending identity: %w", err)
	}

	s.logger.Info("Pending identity rejected",
		zap.String("face_id", faceID),
		zap.Int64("events_scrubbed", scrubbed),
	)
	return nil
}

// ListPendingSightings 待审批的陌生人脸
func (s *Service) ListPendingSightings(ctx context.Context) ([]*models.UnknownFace, error) {
	return s.unknownFaces.ListPending(ctx)
}

// ListPendingIdentities 待审批的占位身份
func (s *Service) ListPendingIdentities(ctx context.Context) ([]*models.KnownFace, error) {
	return s.knownFaces.ListPendingApproval(ctx)
}

// appendEvent 审批动作的审计事件，失败只记日志
func (s *Service) appendEvent(ctx context.Context, eventType string, face *models.KnownFace, description string) {
	event := &models.Event{
		Type:        eventType,
		PersonName:  &face.Name,
		PersonID:    &face.FaceID,
		RiskLevel:   models.RiskLow,
		Description: description,
		ImagePath:   face.ImagePath,
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		s.logger.Error("Failed to append approval event",
			zap.Error(err),
			zap.String("event_type", eventType),
		)
	}
}
