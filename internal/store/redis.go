package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldData     = "data"
	fieldCreated  = "created"
	fieldModified = "modified"
)

// Redis is a DurableStore keeping each blob in a hash with data and timestamp fields.
// All keys are stored below a namespace so one Redis instance can host several deployments.
type Redis struct {
	rdb       *redis.Client
	namespace string
	clock     func() time.Time
}

// NewRedis connects to the Redis server at url (redis://host:port/db) and pings it.
func NewRedis(ctx context.Context, url, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFromClient(rdb, namespace), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "brieflow"
	}
	return &Redis{rdb: rdb, namespace: namespace + ":", clock: time.Now}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) redisKey(key string) string {
	return r.namespace + key
}

// Put stores data under key. The creation time is only set on first write.
func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	now := strconv.FormatInt(r.clock().UnixNano(), 10)
	rk := r.redisKey(key)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, rk, fieldCreated, now)
		pipe.HSet(ctx, rk, fieldData, data, fieldModified, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.rdb.HGet(ctx, r.redisKey(key), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.rdb.Del(ctx, r.redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	return nil
}

// List scans for keys starting with prefix and loads their metadata in one pipeline.
func (r *Redis) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	match := escapeGlob(r.redisKey(prefix)) + "*"
	var keys []string
	iter := r.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return []BlobInfo{}, nil
	}

	pipe := r.rdb.Pipeline()
	metas := make([]*redis.SliceCmd, len(keys))
	sizes := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		metas[i] = pipe.HMGet(ctx, k, fieldCreated, fieldModified)
		sizes[i] = pipe.HStrLen(ctx, k, fieldData)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	infos := make([]BlobInfo, 0, len(keys))
	for i, k := range keys {
		vals, err := metas[i].Result()
		if err != nil || len(vals) != 2 || vals[1] == nil {
			// Deleted between SCAN and HMGET.
			continue
		}
		infos = append(infos, BlobInfo{
			Key:        strings.TrimPrefix(k, r.namespace),
			Size:       sizes[i].Val(),
			CreatedAt:  parseNanos(vals[0]),
			ModifiedAt: parseNanos(vals[1]),
		})
	}
	slices.SortFunc(infos, func(a, b BlobInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return infos, nil
}

func parseNanos(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
