package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-threshold/internal/models"
	"wisefido-threshold/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 最新值缓存（LATEST_BACKEND=redis 时替代 latest_values 表）
type CacheManager struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

func (c *CacheManager) key(deviceID, sensorID string) string {
	return fmt.Sprintf("%s%s/%s", c.keyPrefix, deviceID, sensorID)
}

// Update 无条件覆盖最新值（不设置 TTL）
func (c *CacheManager) Update(ctx context.Context, deviceID, sensorID string, value float64, ts time.Time) error {
	jsonData, err := json.Marshal(models.LatestValue{
		DeviceID: deviceID,
		SensorID: sensorID,
		Value:    value,
		TS:       ts,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal latest value: %w", err)
	}

	key := c.key(deviceID, sensorID)
	if err := c.redisClient.Set(ctx, key, jsonData, 0).Err(); err != nil {
		return fmt.Errorf("set latest value: %w: %w", repository.ErrStoreUnavailable, err)
	}

	c.logger.Debug("Updated latest value",
		zap.String("key", key),
		zap.Float64("value", value),
	)
	return nil
}

// Get 获取最新值，ok=false 表示从未上报过
func (c *CacheManager) Get(ctx context.Context, deviceID, sensorID string) (float64, bool, error) {
	val, err := c.redisClient.Get(ctx, c.key(deviceID, sensorID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get latest value: %w: %w", repository.ErrStoreUnavailable, err)
	}

	var latest models.LatestValue
	if err := json.Unmarshal([]byte(val), &latest); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal latest value: %w", err)
	}
	return latest.Value, true, nil
}
