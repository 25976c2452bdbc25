package sink

import (
	"context"
	"fmt"

	rediscommon "wisefido-threshold/common/redis"
	"wisefido-threshold/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamNotifier 追加报警到 Redis Stream，供下游服务消费
type StreamNotifier struct {
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger
}

// NewStreamNotifier 创建 Stream 通知器
func NewStreamNotifier(redisClient *redis.Client, stream string, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// Name 通知器名称
func (n *StreamNotifier) Name() string { return "stream" }

// Notify 追加报警
func (n *StreamNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, n.redisClient, n.stream, event)
	if err != nil {
		return fmt.Errorf("failed to append alarm to stream: %w", err)
	}

	n.logger.Debug("Appended alarm to stream",
		zap.String("stream", n.stream),
		zap.String("stream_id", id),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// EnsureGroup 预建下游消费者组，组创建之后的报警都能被该组读到
func (n *StreamNotifier) EnsureGroup(ctx context.Context, group string) error {
	if err := rediscommon.CreateConsumerGroup(ctx, n.redisClient, n.stream, group); err != nil {
		return err
	}
	n.logger.Info("Alarm stream consumer group ready",
		zap.String("stream", n.stream),
		zap.String("group", group),
	)
	return nil
}
