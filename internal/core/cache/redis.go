package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

const redisKeyPrefix = "studykb:chunkcache:"

// Redis shares chunking results across processes. Any Redis error is
// treated as a miss; the cache never fails a caller.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log logger.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log.Named("chunkcache")}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Redis) Get(ctx context.Context, key string) ([]models.ChunkProposal, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("chunk cache get failed", logger.String("key", key), logger.Error(err))
		}
		return nil, false
	}
	var out []models.ChunkProposal
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("chunk cache entry corrupt", logger.String("key", key), logger.Error(err))
		return nil, false
	}
	return out, true
}

func (c *Redis) Set(ctx context.Context, key string, chunks []models.ChunkProposal) {
	raw, err := json.Marshal(chunks)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("chunk cache set failed", logger.String("key", key), logger.Error(err))
	}
}

var _ core.ChunkCache = (*Redis)(nil)
