package fanout

import (
	"context"

	"treeguard/internal/models"
	"treeguard/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 事件发布器
// 先广播到进程内总线，再镜像到 Redis Streams 供兄弟服务消费。
// 两条路径都是尽力而为：任何失败只记录日志，绝不影响摄入请求。
type Publisher struct {
	bus         *Bus
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger
}

// NewPublisher 创建事件发布器
// redisClient 可以为 nil（仅进程内广播，不镜像到 Streams）
func NewPublisher(bus *Bus, redisClient *redis.Client, stream string, logger *zap.Logger) *Publisher {
	return &Publisher{
		bus:         bus,
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// PublishReading 广播读数事件（每次成功摄入都调用，无论是否有危险）
func (p *Publisher) PublishReading(ctx context.Context, ev models.ReadingEvent) {
	p.publish(ctx, Envelope{Type: EventTypeReading, Payload: ev})
}

// PublishAlert 广播报警事件
func (p *Publisher) PublishAlert(ctx context.Context, ev models.AlertEvent) {
	p.publish(ctx, Envelope{Type: EventTypeAlert, Payload: ev})
}

func (p *Publisher) publish(ctx context.Context, env Envelope) {
	p.bus.Publish(env)

	if p.redisClient == nil {
		return
	}

	if _, err := redisx.PublishJSONToStream(ctx, p.redisClient, p.stream, env); err != nil {
		p.logger.Error("Failed to publish event to Redis Streams",
			zap.String("stream", p.stream),
			zap.String("event_type", env.Type),
			zap.Error(err),
		)
	}
}
