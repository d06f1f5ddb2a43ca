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

// knownFaceColumns 人员表查询列（与 scanKnownFace 保持一致）
const knownFaceColumns = `
			face_id,
			name,
			category,
			descriptor,
			image_path,
			notes,
			visit_count,
			last_seen,
			approved,
			access_allowed,
			added_at`

// KnownFacesRepository 已登记人员仓库
type KnownFacesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewKnownFacesRepository 创建已登记人员仓库
func NewKnownFacesRepository(db *sql.DB, logger *zap.Logger) *KnownFacesRepository {
	return &KnownFacesRepository{
		db:     db,
		logger: logger,
	}
}

// scanKnownFace 扫描单行人员记录
func scanKnownFace(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.KnownFace, error) {
	var face models.KnownFace
	var descriptor pq.Float64Array
	var imagePath sql.NullString
	var lastSeen sql.NullTime

	err := scanner.Scan(
		&face.FaceID,
		&face.Name,
		&face.Category,
		&descriptor,
		&imagePath,
		&face.Notes,
		&face.VisitCount,
		&lastSeen,
		&face.Approved,
		&face.AccessAllowed,
		&face.AddedAt,
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
	if lastSeen.Valid {
		face.LastSeen = &lastSeen.Time
	}

	return &face, nil
}

// descriptorValue 特征向量入库值（空向量存 NULL）
func descriptorValue(descriptor []float64) interface{} {
	if len(descriptor) == 0 {
		return nil
	}
	return pq.Float64Array(descriptor)
}

// CreateKnownFace 登记人员（缺省字段自动补齐）
func (r *KnownFacesRepository) CreateKnownFace(ctx context.Context, face *models.KnownFace) error {
	if face == nil {
		return fmt.Errorf("face is required")
	}
	if face.Name == "" {
		return fmt.Errorf("name is required")
	}

	if face.FaceID == "" {
		face.FaceID = uuid.New().String()
	}
	if face.Category == "" {
		face.Category = models.CategoryGuest
	}
	if face.AddedAt.IsZero() {
		face.AddedAt = time.Now()
	}

	query := `
		INSERT INTO known_faces (
			face_id,
			name,
			category,
			descriptor,
			image_path,
			notes,
			visit_count,
			last_seen,
			approved,
			access_allowed,
			added_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		face.FaceID,
		face.Name,
		face.Category,
		descriptorValue(face.Descriptor),
		face.ImagePath,
		face.Notes,
		face.VisitCount,
		face.LastSeen,
		face.Approved,
		face.AccessAllowed,
		face.AddedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create known face: %w", err)
	}

	return nil
}

// GetKnownFace 根据 face_id 获取人员
func (r *KnownFacesRepository) GetKnownFace(ctx context.Context, faceID string) (*models.KnownFace, error) {
	if faceID == "" {
		return nil, fmt.Errorf("face_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE face_id = $1
	`, knownFaceColumns)

	face, err := scanKnownFace(r.db.QueryRowContext(ctx, query, faceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("known face not found: face_id=%s", faceID)
		}
		return nil, fmt.Errorf("failed to get known face: %w", err)
	}

	return face, nil
}

// GetKnownFaceByName 根据姓名获取人员（取最早登记的一条）
func (r *KnownFacesRepository) GetKnownFaceByName(ctx context.Context, name string) (*models.KnownFace, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE name = $1
		ORDER BY added_at
		LIMIT 1
	`, knownFaceColumns)

	face, err := scanKnownFace(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("known face not found: name=%s", name)
		}
		return nil, fmt.Errorf("failed to get known face by name: %w", err)
	}

	return face, nil
}

// ListKnownFaces 列出已批准人员（按来访次数倒序）
func (r *KnownFacesRepository) ListKnownFaces(ctx context.Context) ([]*models.KnownFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE approved = TRUE
		ORDER BY visit_count DESC
	`, knownFaceColumns)

	return r.queryFaces(ctx, query)
}

// ListEnrolled 列出携带特征向量的已批准人员（识别用）
func (r *KnownFacesRepository) ListEnrolled(ctx context.Context) ([]*models.KnownFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE approved = TRUE
		  AND descriptor IS NOT NULL
		ORDER BY added_at
	`, knownFaceColumns)

	return r.queryFaces(ctx, query)
}

// ListPendingApproval 列出待审批的人员占位记录（按检测时间倒序）
func (r *KnownFacesRepository) ListPendingApproval(ctx context.Context) ([]*models.KnownFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE approved = FALSE
		ORDER BY added_at DESC
	`, knownFaceColumns)

	return r.queryFaces(ctx, query)
}

// ListFrequentVisitors 列出最常来访的人员
func (r *KnownFacesRepository) ListFrequentVisitors(ctx context.Context, limit int) ([]*models.KnownFace, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM known_faces
		WHERE approved = TRUE
		ORDER BY visit_count DESC
		LIMIT $1
	`, knownFaceColumns)

	return r.queryFaces(ctx, query, limit)
}

func (r *KnownFacesRepository) queryFaces(ctx context.Context, query string, args ...interface{}) ([]*models.KnownFace, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query known faces: %w", err)
	}
	defer rows.Close()

	faces := []*models.KnownFace{}
	for rows.Next() {
		face, err := scanKnownFace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan known face: %w", err)
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate known faces: %w", err)
	}

	return faces, nil
}

// UpdateKnownFace 更新人员基础信息
func (r *KnownFacesRepository) UpdateKnownFace(ctx context.Context, faceID, name, category, notes string) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}

	query := `
		UPDATE known_faces
		SET name = $2, category = $3, notes = $4
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, name, category, notes)
	if err != nil {
		return fmt.Errorf("failed to update known face: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("known face not found: face_id=%s", faceID)
	}

	return nil
}

// ApproveKnownFace 批准待审批人员（补全姓名、分类和门禁权限）
func (r *KnownFacesRepository) ApproveKnownFace(ctx context.Context, faceID, name, category string, accessAllowed bool) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}

	query := `
		UPDATE known_faces
		SET name = $2, category = $3, approved = TRUE, access_allowed = $4
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, name, category, accessAllowed)
	if err != nil {
		return fmt.Errorf("failed to approve known face: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("known face not found: face_id=%s", faceID)
	}

	return nil
}

// IncrementVisit 来访计数加一并刷新最后出现时间
func (r *KnownFacesRepository) IncrementVisit(ctx context.Context, faceID string, seenAt time.Time) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}

	query := `
		UPDATE known_faces
		SET visit_count = visit_count + 1, last_seen = $2
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, seenAt)
	if err != nil {
		return fmt.Errorf("failed to increment visit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("known face not found: face_id=%s", faceID)
	}

	return nil
}

// SetAccessAllowed 更新门禁权限
func (r *KnownFacesRepository) SetAccessAllowed(ctx context.Context, faceID string, allowed bool) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}

	query := `
		UPDATE known_faces
		SET access_allowed = $2
		WHERE face_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, faceID, allowed)
	if err != nil {
		return fmt.Errorf("failed to set access allowed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("known face not found: face_id=%s", faceID)
	}

	return nil
}

// DeleteKnownFace 删除人员（事件中的引用由调用方负责清理）
func (r *KnownFacesRepository) DeleteKnownFace(ctx context.Context, faceID string) error {
	if faceID == "" {
		return fmt.Errorf("face_id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM known_faces WHERE face_id = $1`, faceID)
	if err != nil {
		return fmt.Errorf("failed to delete known face: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("known face not found: face_id=%s", faceID)
	}

	return nil
}
