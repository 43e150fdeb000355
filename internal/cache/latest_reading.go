package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"treeguard/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LatestReadingCache 最新读数缓存
// 每台设备缓存最后一条标准化读数，TTL = 在线超时 + 展示宽限期：
// 设备静默后展示层仍能在宽限期内拿到最后已知读数，之后键自然过期。
type LatestReadingCache struct {
	redisClient *redis.Client
	keyPrefix   string
	keySuffix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewLatestReadingCache 创建最新读数缓存
func NewLatestReadingCache(redisClient *redis.Client, keyPrefix, keySuffix string, ttl time.Duration, logger *zap.Logger) *LatestReadingCache {
	return &LatestReadingCache{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		keySuffix:   keySuffix,
		ttl:         ttl,
		logger:      logger,
	}
}

// key 构建缓存键，如 "treeguard:device:1:latest"
func (c *LatestReadingCache) key(deviceID int) string {
	return fmt.Sprintf("%s%d%s", c.keyPrefix, deviceID, c.keySuffix)
}

// Set 写入最新读数（带 TTL）
func (c *LatestReadingCache) Set(ctx context.Context, reading *models.Reading) error {
	jsonData, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	err = c.redisClient.Set(ctx, c.key(reading.DeviceID), jsonData, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set latest reading cache: %w", err)
	}

	return nil
}

// Get 读取设备的最新读数
// 缓存未命中（设备静默超过 TTL）时返回 (nil, nil)
func (c *LatestReadingCache) Get(ctx context.Context, deviceID int) (*models.Reading, error) {
	val, err := c.redisClient.Get(ctx, c.key(deviceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest reading cache: %w", err)
	}

	var reading models.Reading
	if err := json.Unmarshal([]byte(val), &reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest reading: %w", err)
	}

	return &reading, nil
}
