package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"treeguard/internal/config"
	"treeguard/internal/engine"
	"treeguard/internal/models"
	"treeguard/internal/mqttx"

	"go.uber.org/zap"
)

// Ingestor 摄入接口（由 engine.Engine 实现）
type Ingestor interface {
	Ingest(ctx context.Context, raw models.RawPayload) (engine.IngestionResult, error)
}

// MQTTConsumer MQTT消息消费者
// 订阅 tree/+/data，主题中间段是设备编号
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttx.Client
	ingestor   Ingestor
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttx.Client,
	ingestor Ingestor,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		ingestor:   ingestor,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := c.config.MQTTTopics.Data
	if topic == "" {
		return fmt.Errorf("data topic not configured")
	}

	if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to data topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", topic),
	)

	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	topic := c.config.MQTTTopics.Data
	if topic != "" {
		if err := c.mqttClient.Unsubscribe(topic); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// 1. 解析消息体
	var raw models.RawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.logger.Error("Failed to unmarshal device payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	// 2. 消息体没有 deviceId 时从主题段补齐（老固件只在主题里带编号）
	if raw.DeviceID == 0 {
		deviceID, err := deviceIDFromTopic(topic)
		if err != nil {
			c.logger.Error("Cannot determine device id",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return err
		}
		raw.DeviceID = deviceID
	}

	// 3. 摄入
	result, err := c.ingestor.Ingest(context.Background(), raw)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidDevice) {
			// 未知设备编号：记录后丢弃，不算消费失败
			c.logger.Warn("Dropped message from unknown device",
				zap.String("topic", topic),
				zap.Int("device_id", raw.DeviceID),
			)
			return nil
		}
		return fmt.Errorf("failed to ingest reading: %w", err)
	}

	if result.AlertCreated {
		c.logger.Info("Hazard alert raised from MQTT reading",
			zap.Int("device_id", raw.DeviceID),
			zap.String("kind", string(result.Hazard)),
		)
	}

	return nil
}

// deviceIDFromTopic 从 tree/<id>/data 主题中解析设备编号
func deviceIDFromTopic(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("unexpected topic format: %s", topic)
	}

	deviceID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid device id in topic %s: %w", topic, err)
	}

	return deviceID, nil
}
