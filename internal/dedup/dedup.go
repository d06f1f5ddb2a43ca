// Package dedup 陌生人去重：把同一未识别对象的重复出现合并到一条待审批记录上，
// 避免对镜头前逗留的同一个人反复推送报警。
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/matcher"
	"homewatch/internal/models"
	"homewatch/internal/repository"
)

// Deduplicator 陌生人去重器
// 策略：按 first_seen 顺序扫描待审批记录，距离小于阈值的第一条即视为同一人
// （first-match-wins，不是最近邻——这是有意保留的可复现策略，改成最近邻会
// 在多个陌生人同时出现时改变可观测行为）
type Deduplicator struct {
	repo      *repository.UnknownFacesRepository
	threshold float64
	logger    *zap.Logger

	// 串行化并发检测：两次近似同时的同一人检测不允许各自建一条记录
	mu sync.Mutex
}

// NewDeduplicator 创建陌生人去重器
func NewDeduplicator(repo *repository.UnknownFacesRepository, threshold float64, logger *zap.Logger) *Deduplicator {
	if threshold <= 0 {
		threshold = matcher.DefaultThreshold
	}
	return &Deduplicator{
		repo:      repo,
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve 解析一次陌生人出现
// 命中已有待审批记录：detection_count 加一，返回 (记录, false)，表示已经报过警
// 未命中：创建新记录，返回 (记录, true)，表示需要携图推送报警
func (d *Deduplicator) Resolve(ctx context.Context, descriptor []float64, imagePath *string) (*models.UnknownFace, bool, error) {
	if len(descriptor) == 0 {
		return nil, false, matcher.ErrDescriptorRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pending, err := d.repo.ListPending(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load pending faces: %w", err)
	}

	now := time.Now()

	for _, face := range pending {
		if len(face.Descriptor) != len(descriptor) {
			continue
		}

		distance := matcher.EuclideanDistance(descriptor, face.Descriptor)
		if distance < d.threshold {
			// 同一人再次出现
			if err := d.repo.IncrementDetection(ctx, face.FaceID, now); err != nil {
				return nil, false, err
			}
			face.DetectionCount++
			face.LastSeen = now

			d.logger.Debug("Repeat sighting of pending unknown face",
				zap.String("face_id", face.FaceID),
				zap.Int("detection_count", face.DetectionCount),
				zap.Float64("distance", distance),
			)

			return face, false, nil
		}
	}

	// 新的陌生人
	face := &models.UnknownFace{
		Descriptor:     descriptor,
		ImagePath:      imagePath,
		FirstSeen:      now,
		LastSeen:       now,
		DetectionCount: 1,
		AlertSent:      true,
		Status:         models.StatusPending,
	}
	if err := d.repo.CreateUnknownFace(ctx, face); err != nil {
		return nil, false, err
	}

	d.logger.Info("New unknown face recorded",
		zap.String("face_id", face.FaceID),
	)

	return face, true, nil
}
