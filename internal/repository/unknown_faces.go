package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"homewatch/internal/models"
)

// unknownFaceColumns 陌生人记录查询列（与 scanUnknownFace 保持一致）
const unknownFaceColumns = `
			face_id,
			descriptor,
			image_path,
			first_seen,
			last_seen,
			detection_count,
			alert_sent,
			status`

// UnknownFacesRepository 陌生人记录仓库（待审批工作集）
type UnknownFacesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUnknownFacesRepository 创建陌生人记录仓库
func NewUnknownFacesRepository(db *sql.DB, logger *zap.Logger) *UnknownFacesRepository {
	return &UnknownFacesRepository{
		db:     db,
		logger: logger,
	}
}

// scanUnknownFace 扫描单行陌生人记录
func scanUnknownFace(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.UnknownFace, error) {
	var face models.UnknownFace
	var descriptor pq.Float64Array
	var imagePath sql.NullString

	err := scanner.Scan(
		&face.FaceID,
		&descriptor,
		&imagePath,
		&face.FirstSeen,
		&face.LastSeen,
		&face.DetectionCount,
		&face.AlertSent,
		&face.Status,
	)
	if err != nil {
		return nil, err
	}

	if len(descriptor) > 0 {
		face.Descriptor = []float64(descriptor)
	}
	if imagePath.Valid {
		face.ImagePath = &imagePath.String
	}

	return &face, nil
}

// CreateUnknownFace 创建陌生人记录（缺省字段自动补齐）
func (r *UnknownFacesRepository) CreateUnknownFace(ctx context.Context, face *models.UnknownFace) error {
	if face == nil {
		return fmt.Errorf("face is required")
	}

	now := time.Now()
	if face.FaceID == "" {
		face.FaceID = uuid.New().String()
	}
	if face.FirstSeen.IsZero() {
		face.FirstSeen = now
	}
	if face.LastSeen.IsZero() {
		face.LastSeen = now
	}
	if face.DetectionCount <= 0 {
		face.DetectionCount = 1
	}
	if face.Status == "" {
		face.Status = models.StatusPending
	}

	query := `
		INSERT INTO unknown_faces (
			face_id,
			descriptor,
			image_path,
			first_seen,
			last_seen,
			detection_count,
			alert_sent,
			status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		face.FaceID,
		descriptorValue(face.Descriptor),
		face.ImagePath,
		face.FirstSeen,
		face.LastSeen,
		face.DetectionCount,
		face.AlertSent,
		face.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to create unknown face: %w", err)
	}

	return nil
}

// GetUnknownFace 根据 face_id 获取陌生人记录
func (r *UnknownFacesRepository) GetUnknownFace(ctx context.Context, faceID string) (*models.UnknownFace, error) {
	if faceID == "" {
		return nil, fmt.Errorf("face_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM unknown_faces
		WHERE face_id = $1
	`, unknownFaceColumns)

	face, err := scanUnknownFace(r.db.QueryRowContext(ctx, query, faceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("unknown face not found: face_id=%s", faceID)
		}
		return nil, fmt.Errorf("failed to get unknown face: %w", err)
	}

	return face, nil
}

// ListPending 列出待审批的陌生人记录（最早出现的在前，保证去重扫描顺序稳定）
func (r *UnknownFacesRepository) ListPending(ctx context.Context) ([]*models.UnknownFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM unknown_faces
		WHERE status = $1
		ORDER BY first_seen
	`, unknownFaceColumns)

	rows, err := r.db.QueryContext(ctx, query, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending unknown faces: %w", err)
	}
	defer rows.Close()

	faces := []*models.UnknownFace{}
	for rows.Next() {
		face, err := scanUnknownFace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unknown face: %w", err)
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unknown faces: %w", err)
	}

	return faces, nil
}

// IncrementDetection 检测计数加一并刷新最后出现时间
func (r *UnknownFacesRepository) IncrementDetection(ctx context.Context, faceID string, seenAt time.Time) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}

	query := `
		UPDATE unknown_faces
		SET detection_count = detection_count + 1, last_seen = $2
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, seenAt)
	if err != nil {
		return fmt.Errorf("failed to increment detection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("unknown face not found: face_id=%s", faceID)
	}

	return nil
}

// UpdateStatus 更新审批状态（pending → approved/rejected）
func (r *UnknownFacesRepository) UpdateStatus(ctx context.Context, faceID, status string) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}
	if status != models.StatusPending && status != models.StatusApproved && status != models.StatusRejected {
		return fmt.Errorf("invalid status: %s", status)
	}

	query := `
		UPDATE unknown_faces
		SET status = $2
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, status)
	if err != nil {
		return fmt.Errorf("failed to update unknown face status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("unknown face not found: face_id=%s", faceID)
	}

	return nil
}

// ClearUnknownFaces 清空陌生人记录（管理操作，返回删除条数）
func (r *UnknownFacesRepository) ClearUnknownFaces(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM unknown_faces`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear unknown faces: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	r.logger.Info("Unknown faces cleared",
		zap.Int64("deleted", affected),
	)

	return affected, nil
}
