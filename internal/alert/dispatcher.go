// Package alert 告警分发：把引擎产生的告警推送到各个外部通道。
// 分发失败只记日志，绝不回滚已写入的事件。
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/models"
	"homewatch/internal/repository"
	"homewatch/internal/telegram"
	"homewatch/pkg/mqtt"
)

// Message 一条待分发的告警
type Message struct {
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"`
	Critical  bool   `json:"critical"`
}

// Dispatcher 告警通道
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// TelegramDispatcher 经 Telegram 推送给业主
type TelegramDispatcher struct {
	client *telegram.Client
	chatID int64
}

// NewTelegramDispatcher 创建 Telegram 告警通道
func NewTelegramDispatcher(client *telegram.Client, chatID int64) *TelegramDispatcher {
	return &TelegramDispatcher{
		client: client,
		chatID: chatID,
	}
}

// Dispatch 推送告警，带图时走 sendPhoto
func (d *TelegramDispatcher) Dispatch(_ context.Context, msg Message) error {
	if msg.ImagePath != "" {
		return d.client.SendPhoto(d.chatID, msg.ImagePath, msg.Text)
	}
	return d.client.SendMessage(d.chatID, msg.Text)
}

// MQTTDispatcher 向告警主题发布 JSON，供其他订阅方消费
type MQTTDispatcher struct {
	client *mqtt.Client
	topic  string
}

// NewMQTTDispatcher 创建 MQTT 告警通道
func NewMQTTDispatcher(client *mqtt.Client, topic string) *MQTTDispatcher {
	return &MQTTDispatcher{
		client: client,
		topic:  topic,
	}
}

// Dispatch 发布告警 JSON
func (d *MQTTDispatcher) Dispatch(_ context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"text":       msg.Text,
		"image_path": msg.ImagePath,
		"critical":   msg.Critical,
		"timestamp":  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}
	return d.client.Publish(d.topic, 1, false, payload)
}

// Notifier 告警出口：读取 alert_mode，静默模式下只放行 critical 告警
// 通道失败一律吞掉，调用方不感知
type Notifier struct {
	settings    *repository.SettingsRepository
	dispatchers []Dispatcher
	logger      *zap.Logger
}

// NewNotifier 创建告警出口
func NewNotifier(settings *repository.SettingsRepository, dispatchers []Dispatcher, logger *zap.Logger) *Notifier {
	return &Notifier{
		settings:    settings,
		dispatchers: dispatchers,
		logger:      logger,
	}
}

// Notify 分发告警到全部通道
// 静默模式下非 critical 告警直接丢弃
func (n *Notifier) Notify(ctx context.Context, msg Message) {
	mode, err := n.settings.GetSettingValue(ctx, models.SettingAlertMode, models.AlertModeNormal)
	if err != nil {
		n.logger.Warn("Failed to read alert mode, assuming normal",
			zap.Error(err),
		)
		mode = models.AlertModeNormal
	}

	if mode == models.AlertModeSilent && !msg.Critical {
		n.logger.Debug("Alert suppressed by silent mode",
			zap.String("text", msg.Text),
		)
		return
	}

	for _, dispatcher := range n.dispatchers {
		if err := dispatcher.Dispatch(ctx, msg); err != nil {
			n.logger.Error("Failed to dispatch alert",
				zap.Error(err),
				zap.Bool("critical", msg.Critical),
			)
		}
	}
}
