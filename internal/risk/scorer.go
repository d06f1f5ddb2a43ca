// Package risk 风险评分引擎：基于事件日志的滑动窗口聚合出有界风险分，
// 并提供针对单个人员的访客行为分析。
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/models"
	"homewatch/internal/repository"
)

// 评分权重与阈值
const (
	highRiskWeight    = 20 // 每条高风险事件
	mediumRiskWeight  = 10 // 每条中风险事件
	unknownFaceWeight = 15 // 每条陌生人脸事件
	burstPenalty      = 30 // 爆发惩罚：10分钟内陌生人脸超过2条
	burstThreshold    = 2
	nightBonus        = 10 // 夜间加成：22:00 - 06:00
	maxScore          = 100

	highLevelThreshold   = 70 // score > 70 为 high
	mediumLevelThreshold = 40 // score > 40 为 medium
)

// severityBoost 单条高危事件的即时加分（不等下一轮窗口聚合）
var severityBoost = map[string]int{
	models.EventIntruder:    30,
	models.EventFire:        50,
	models.EventForcedEntry: 40,
	models.EventUnknownFace: 30,
}

// IsNightHour 是否处于夜间窗口（22:00 - 06:00，两端含）
func IsNightHour(hour int) bool {
	return hour >= 22 || hour <= 6
}

// ClassifyLevel 风险分到离散等级
func ClassifyLevel(score int) string {
	switch {
	case score > highLevelThreshold:
		return models.RiskHigh
	case score > mediumLevelThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// BoostFor 返回某事件类型的即时加分，非高危类型为 0
func BoostFor(eventType string) int {
	return severityBoost[eventType]
}

// ComputeScore 对窗口内事件计算风险快照（纯函数）
// events: 风险窗口（1小时）内的事件
// burstCount: 爆发窗口（10分钟）内的陌生人脸事件数
// now: 当前时间（决定夜间加成）
func ComputeScore(events []*models.Event, burstCount int, now time.Time) models.RiskSnapshot {
	var factors models.RiskFactors

	for _, event := range events {
		switch event.RiskLevel {
		case models.RiskHigh:
			factors.HighRiskEvents++
		case models.RiskMedium:
			factors.MediumRiskEvents++
		}
		if event.Type == models.EventUnknownFace {
			factors.UnknownFaces++
		}
	}

	score := factors.HighRiskEvents*highRiskWeight +
		factors.MediumRiskEvents*mediumRiskWeight +
		factors.UnknownFaces*unknownFaceWeight

	// 爆发惩罚
	if burstCount > burstThreshold {
		score += burstPenalty
	}

	// 夜间加成
	factors.NightTime = IsNightHour(now.Hour())
	if factors.NightTime {
		score += nightBonus
	}

	// 约束到 [0, 100]
	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}

	return models.RiskSnapshot{
		Score:   score,
		Level:   ClassifyLevel(score),
		Factors: factors,
	}
}

// AnalyzeVisits 访客行为分析（纯函数，events 按时间倒序）
// 频率按窗口内平均每天来访次数分档；夜间来访占比超过 30% 标记为可疑
func AnalyzeVisits(events []*models.Event) models.VisitorPattern {
	if len(events) == 0 {
		return models.VisitorPattern{
			Pattern:   "new",
			Frequency: "rare",
		}
	}

	firstVisit := events[len(events)-1].Timestamp
	lastVisit := events[0].Timestamp

	daysBetween := lastVisit.Sub(firstVisit).Hours() / 24
	divisor := daysBetween
	if divisor == 0 {
		divisor = 1
	}
	visitsPerDay := float64(len(events)) / divisor

	frequency := "rare"
	switch {
	case visitsPerDay > 2:
		frequency = "daily"
	case visitsPerDay > 0.5:
		frequency = "frequent"
	case visitsPerDay > 0.1:
		frequency = "occasional"
	}

	nightVisits := 0
	for _, event := range events {
		if IsNightHour(event.Timestamp.Hour()) {
			nightVisits++
		}
	}

	pattern := "normal"
	if float64(nightVisits) > float64(len(events))*0.3 {
		pattern = "suspicious"
	}

	return models.VisitorPattern{
		Pattern:     pattern,
		Frequency:   frequency,
		TotalVisits: len(events),
		NightVisits: nightVisits,
		DaysBetween: int(math.Round(daysBetween)),
	}
}

// Scorer 风险评分器（读取事件日志，写回 risk_score 设置）
type Scorer struct {
	events      *repository.EventsRepository
	settings    *repository.SettingsRepository
	riskWindow  time.Duration
	burstWindow time.Duration
	logger      *zap.Logger
}

// NewScorer 创建风险评分器
func NewScorer(
	events *repository.EventsRepository,
	settings *repository.SettingsRepository,
	riskWindow time.Duration,
	burstWindow time.Duration,
	logger *zap.Logger,
) *Scorer {
	if riskWindow <= 0 {
		riskWindow = time.Hour
	}
	if burstWindow <= 0 {
		burstWindow = 10 * time.Minute
	}
	return &Scorer{
		events:      events,
		settings:    settings,
		riskWindow:  riskWindow,
		burstWindow: burstWindow,
		logger:      logger,
	}
}

// Calculate 按需重算风险快照并持久化到 risk_score 设置
// 空窗口不报错，返回零分快照
func (s *Scorer) Calculate(ctx context.Context) (*models.RiskSnapshot, error) {
	now := time.Now()

	events, err := s.events.FindEventsSince(ctx, now.Add(-s.riskWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load risk window events: %w", err)
	}

	burstCount, err := s.events.CountEventsByTypeSince(ctx, models.EventUnknownFace, now.Add(-s.burstWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count unknown face burst: %w", err)
	}

	snapshot := ComputeScore(events, burstCount, now)

	if err := s.settings.SetRiskScore(ctx, snapshot.Score); err != nil {
		return nil, fmt.Errorf("failed to persist risk score: %w", err)
	}

	s.logger.Debug("Risk score recalculated",
		zap.Int("score", snapshot.Score),
		zap.String("level", snapshot.Level),
		zap.Int("burst_count", burstCount),
	)

	return &snapshot, nil
}

// Boost 单条高危事件的即时加分（在现有 risk_score 上累加并约束上限）
// 非高危类型直接返回
func (s *Scorer) Boost(ctx context.Context, eventType string) error {
	boost := BoostFor(eventType)
	if boost == 0 {
		return nil
	}

	if err := s.BoostBy(ctx, boost); err != nil {
		return err
	}

	s.logger.Info("Risk score boosted",
		zap.String("event_type", eventType),
		zap.Int("boost", boost),
	)

	return nil
}

// BoostBy 在现有 risk_score 上累加指定分值，上限由设置层约束
func (s *Scorer) BoostBy(ctx context.Context, amount int) error {
	if amount <= 0 {
		return nil
	}

	current, err := s.settings.GetRiskScore(ctx)
	if err != nil {
		return fmt.Errorf("failed to read risk score: %w", err)
	}

	if err := s.settings.SetRiskScore(ctx, current+amount); err != nil {
		return fmt.Errorf("failed to boost risk score: %w", err)
	}

	return nil
}

// AnalyzeVisitorPattern 分析某人员的来访规律（取最近 50 条事件）
func (s *Scorer) AnalyzeVisitorPattern(ctx context.Context, personID string) (*models.VisitorPattern, error) {
	if personID == "" {
		return nil, fmt.Errorf("person_id is required")
	}

	events, err := s.events.FindEventsByPerson(ctx, personID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to load person events: %w", err)
	}

	pattern := AnalyzeVisits(events)
	return &pattern, nil
}
