package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

const (
	// Redis key 前缀
	historyKeyPrefix = "history:"

	// 默认历史过期时间
	defaultHistoryExpiration = 24 * time.Hour
)

// RedisStore Redis 历史存储，每个会话一个 list
type RedisStore struct {
	client     *redis.Client
	maxLen     int
	expiration time.Duration
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, maxLen int, expiration time.Duration) *RedisStore {
	if expiration <= 0 {
		expiration = defaultHistoryExpiration
	}
	return &RedisStore{
		client:     client,
		maxLen:     maxLen,
		expiration: expiration,
	}
}

// Append 追加一条消息，并裁剪到 maxLen、刷新过期时间
func (rs *RedisStore) Append(ctx context.Context, sessionID string, msg protocol.HistoryMessage) error {
	data, err := encodeRecord(msg)
	if err != nil {
		return err
	}

	key := historyKeyPrefix + sessionID
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if rs.maxLen > 0 {
			pipe.LTrim(ctx, key, int64(-rs.maxLen), -1)
		}
		pipe.Expire(ctx, key, rs.expiration)
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入历史消息失败: %w", err)
	}
	return nil
}

// LoadHistory 返回最近 limit 条消息，最早的在前
func (rs *RedisStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]protocol.HistoryMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	items, err := rs.client.LRange(ctx, historyKeyPrefix+sessionID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取历史消息失败: %w", err)
	}

	messages := make([]protocol.HistoryMessage, 0, len(items))
	for _, item := range items {
		msg, err := decodeRecord([]byte(item))
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Close 关闭 Redis 连接
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
