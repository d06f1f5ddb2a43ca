// Package cache Redis 快照缓存与事件流发布。
// 缓存只做加速，读写失败均降级为未命中/记日志，不影响主流程。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"homewatch/internal/models"
	"homewatch/pkg/redis"
)

// Manager 快照缓存管理器
type Manager struct {
	client      *redis.Client
	riskKey     string
	houseKey    string
	snapshotTTL time.Duration
	eventStream string
	logger      *zap.Logger
}

// NewManager 创建缓存管理器
func NewManager(client *redis.Client, riskKey, houseKey string, snapshotTTLSec int, eventStream string, logger *zap.Logger) *Manager {
	if snapshotTTLSec <= 0 {
		snapshotTTLSec = 30
	}
	return &Manager{
		client:      client,
		riskKey:     riskKey,
		houseKey:    houseKey,
		snapshotTTL: time.Duration(snapshotTTLSec) * time.Second,
		eventStream: eventStream,
		logger:      logger,
	}
}

// setJSON 序列化后带 TTL 写入
func (m *Manager) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := m.client.Set(ctx, key, data, m.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// getJSON 读取并反序列化，未命中返回 false
func (m *Manager) getJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

// SetRiskSnapshot 缓存风险快照
func (m *Manager) SetRiskSnapshot(ctx context.Context, snapshot *models.RiskSnapshot) {
	if err := m.setJSON(ctx, m.riskKey, snapshot); err != nil {
		m.logger.Warn("Failed to cache risk snapshot",
			zap.Error(err),
		)
	}
}

// GetRiskSnapshot 读取缓存的风险快照，未命中返回 nil
func (m *Manager) GetRiskSnapshot(ctx context.Context) *models.RiskSnapshot {
	var snapshot models.RiskSnapshot
	hit, err := m.getJSON(ctx, m.riskKey, &snapshot)
	if err != nil {
		m.logger.Warn("Failed to read cached risk snapshot",
			zap.Error(err),
		)
		return nil
	}
	if !hit {
		return nil
	}
	return &snapshot
}

// SetHouseState 缓存整屋状态快照
func (m *Manager) SetHouseState(ctx context.Context, state *models.HouseState) {
	if err := m.setJSON(ctx, m.houseKey, state); err != nil {
		m.logger.Warn("Failed to cache house state",
			zap.Error(err),
		)
	}
}

// GetHouseState 读取缓存的整屋状态，未命中返回 nil
func (m *Manager) GetHouseState(ctx context.Context) *models.HouseState {
	var state models.HouseState
	hit, err := m.getJSON(ctx, m.houseKey, &state)
	if err != nil {
		m.logger.Warn("Failed to read cached house state",
			zap.Error(err),
		)
		return nil
	}
	if !hit {
		return nil
	}
	return &state
}

// Invalidate 使快照缓存失效（写入新事件后调用）
func (m *Manager) Invalidate(ctx context.Context) {
	if err := m.client.Del(ctx, m.riskKey, m.houseKey).Err(); err != nil {
		m.logger.Warn("Failed to invalidate snapshot cache",
			zap.Error(err),
		)
	}
}

// PublishEvent 把事件发布到 Redis Stream，供下游消费
// 发布失败只记日志，事件本体已落库
func (m *Manager) PublishEvent(ctx context.Context, event *models.Event) {
	if m.eventStream == "" {
		return
	}
	id, err := redis.PublishJSONToStream(ctx, m.client, m.eventStream, event)
	if err != nil {
		m.logger.Warn("Failed to publish event to stream",
			zap.Error(err),
			zap.String("event_type", event.Type),
		)
		return
	}
	m.logger.Debug("Event published to stream",
		zap.String("stream_id", id),
		zap.String("event_type", event.Type),
	)
}
