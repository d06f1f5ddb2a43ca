// Package consumer 检测输入消费者：订阅 MQTT 检测主题，
// 把摄像头/传感器侧的上报路由到检测管线。
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"homewatch/internal/detection"
	"homewatch/pkg/mqtt"
)

// DetectionInput 一条检测上报
// kind: motion / motion_cleared / detection / descriptor
type DetectionInput struct {
	Kind       string    `json:"kind"`
	Room       string    `json:"room"`
	PersonName string    `json:"person_name,omitempty"`
	Known      bool      `json:"known,omitempty"`
	Descriptor []float64 `json:"descriptor,omitempty"`
	ImagePath  string    `json:"image_path,omitempty"`
}

// DetectionConsumer MQTT 检测输入消费者
type DetectionConsumer struct {
	client    *mqtt.Client
	detection *detection.Service
	topic     string
	qos       byte
	logger    *zap.Logger
}

// NewDetectionConsumer 创建检测输入消费者
func NewDetectionConsumer(
	client *mqtt.Client,
	detectionService *detection.Service,
	topic string,
	qos byte,
	logger *zap.Logger,
) *DetectionConsumer {
	return &DetectionConsumer{
		client:    client,
		detection: detectionService,
		topic:     topic,
		qos:       qos,
		logger:    logger,
	}
}

// Start 订阅检测主题，回调在 paho 的处理协程中运行
func (c *DetectionConsumer) Start(ctx context.Context) error {
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(ctx, msg.Payload())
	}

	if err := c.client.Subscribe(c.topic, c.qos, handler); err != nil {
		return fmt.Errorf("failed to subscribe detection topic: %w", err)
	}

	c.logger.Info("Detection consumer started",
		zap.String("topic", c.topic),
	)
	return nil
}

// handleMessage 解析并路由一条检测上报，失败只记日志
func (c *DetectionConsumer) handleMessage(ctx context.Context, payload []byte) {
	var input DetectionInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.logger.Warn("Failed to parse detection payload",
			zap.Error(err),
		)
		return
	}

	if err := c.route(ctx, input); err != nil {
		c.logger.Error("Failed to process detection input",
			zap.Error(err),
			zap.String("kind", input.Kind),
			zap.String("room", input.Room),
		)
	}
}

func (c *DetectionConsumer) route(ctx context.Context, input DetectionInput) error {
	switch input.Kind {
	case "motion":
		_, err := c.detection.ReportMotion(ctx, input.Room)
		return err
	case "motion_cleared":
		_, err := c.detection.ClearMotion(ctx, input.Room)
		return err
	case "detection":
		_, err := c.detection.Detect(ctx, input.Room, input.PersonName, input.Known)
		return err
	case "descriptor":
		_, err := c.detection.RecognizeDescriptor(ctx, input.Descriptor, input.Room, input.ImagePath)
		return err
	default:
		return fmt.Errorf("unknown detection kind: %s", input.Kind)
	}
}
