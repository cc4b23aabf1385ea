package lib

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient(url string) *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

const signatureKeyPrefix = "ticket:sig:"

// RedisSignatureCache maps ticket signatures to ticket ids. It is a lookup
// shortcut only; callers verify hits against the database.
type RedisSignatureCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSignatureCache(rdb *redis.Client, ttl time.Duration) *RedisSignatureCache {
	return &RedisSignatureCache{rdb: rdb, ttl: ttl}
}

func (c *RedisSignatureCache) Get(ctx context.Context, sig string) (uint, bool, error) {
	val, err := c.rdb.Get(ctx, signatureKeyPrefix+sig).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return uint(id), true, nil
}

func (c *RedisSignatureCache) Set(ctx context.Context, sig string, ticketID uint) error {
	return c.rdb.Set(ctx, signatureKeyPrefix+sig, strconv.FormatUint(uint64(ticketID), 10), c.ttl).Err()
}
