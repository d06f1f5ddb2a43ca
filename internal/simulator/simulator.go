// Package simulator 模拟事件发生器：演示与联调用的周期性事件注入。
// 绑定进程生命周期、可取消，系统撤防时静默跳过。
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/alert"
	"homewatch/internal/cache"
	"homewatch/internal/models"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
)

// 随机事件候选：移动为主，偶尔混入陌生人脸
var randomEventTypes = []string{
	models.EventMotion,
	models.EventMotion,
	models.EventMotion,
	models.EventUnknownFace,
}

var simulatedRooms = []string{"hall", "kitchen", "bedroom", "garden", "living_room"}

// Simulator 模拟事件发生器
type Simulator struct {
	events   *repository.EventsRepository
	settings *repository.SettingsRepository
	scorer   *risk.Scorer
	notifier *alert.Notifier
	cache    *cache.Manager
	interval time.Duration
	rng      *rand.Rand
	logger   *zap.Logger
}

// NewSimulator 创建模拟器
func NewSimulator(
	events *repository.EventsRepository,
	settings *repository.SettingsRepository,
	scorer *risk.Scorer,
	notifier *alert.Notifier,
	cacheManager *cache.Manager,
	intervalSec int,
	logger *zap.Logger,
) *Simulator {
	if intervalSec <= 0 {
		intervalSec = 30
	}
	return &Simulator{
		events:   events,
		settings: settings,
		scorer:   scorer,
		notifier: notifier,
		cache:    cacheManager,
		interval: time.Duration(intervalSec) * time.Second,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}
}

// SimulateEvent 注入一条指定类型的模拟事件
// 高危类型（intruder/fire/forced_entry）带即时风险加分与紧急告警
func (s *Simulator) SimulateEvent(ctx context.Context, eventType string) (*models.Event, error) {
	room := simulatedRooms[s.rng.Intn(len(simulatedRooms))]

	event := &models.Event{
		Type:      eventType,
		Room:      &room,
		RiskLevel: models.RiskLow,
	}

	var alertText string
	critical := false

	switch eventType {
	case models.EventIntruder:
		event.RiskLevel = models.RiskHigh
		event.Description = fmt.Sprintf("Intruder alert in %s!", room)
		alertText = fmt.Sprintf("🚨 INTRUDER ALERT in %s!", room)
		critical = true
	case models.EventFire:
		event.RiskLevel = models.RiskHigh
		event.Description = fmt.Sprintf("Fire detected in %s!", room)
		alertText = fmt.Sprintf("🔥 FIRE detected in %s!", room)
		critical = true
	case models.EventForcedEntry:
		event.RiskLevel = models.RiskHigh
		event.Description = fmt.Sprintf("Forced entry at %s!", room)
		alertText = fmt.Sprintf("🚨 Forced entry at %s!", room)
		critical = true
	case models.EventPowerFailure:
		event.Room = nil
		event.RiskLevel = models.RiskMedium
		event.Description = "Power failure detected"
		alertText = "⚡ Power failure detected"
	case models.EventLockdown:
		event.Room = nil
		event.RiskLevel = models.RiskHigh
		event.Description = "Lockdown initiated"
		alertText = "🔒 Lockdown initiated"
		critical = true
	case models.EventUnknownFace:
		event.RiskLevel = models.RiskHigh
		event.Description = fmt.Sprintf("Unknown person detected in %s", room)
		alertText = fmt.Sprintf("⚠️ Unknown person detected in %s", room)
		critical = true
	default:
		event.Type = models.EventMotion
		event.Description = fmt.Sprintf("Motion detected in %s", room)
	}

	if err := s.events.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record simulated event: %w", err)
	}
	s.cache.Invalidate(ctx)
	s.cache.PublishEvent(ctx, event)

	if err := s.scorer.Boost(ctx, event.Type); err != nil {
		s.logger.Error("Failed to apply risk boost",
			zap.Error(err),
			zap.String("event_type", event.Type),
		)
	}

	if alertText != "" {
		s.notifier.Notify(ctx, alert.Message{
			Text:     alertText,
			Critical: critical,
		})
	}

	s.logger.Info("Simulated event injected",
		zap.String("event_type", event.Type),
		zap.String("risk_level", event.RiskLevel),
	)

	return event, nil
}

// Run 周期性随机注入事件，直到 ctx 取消
// 每个周期约 30% 概率产生事件，撤防状态下直接跳过
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Event simulator started",
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Event simulator stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Simulator) tick(ctx context.Context) {
	armed, err := s.settings.IsArmed(ctx)
	if err != nil {
		s.logger.Warn("Failed to read armed state",
			zap.Error(err),
		)
		return
	}
	if !armed {
		return
	}

	if s.rng.Float64() <= 0.7 {
		return
	}

	eventType := randomEventTypes[s.rng.Intn(len(randomEventTypes))]
	if _, err := s.SimulateEvent(ctx, eventType); err != nil {
		s.logger.Error("Failed to inject simulated event",
			zap.Error(err),
		)
	}
}
