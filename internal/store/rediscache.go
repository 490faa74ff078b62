package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcore/agentrt/internal/logger"
)

// cacheCompressionThreshold mirrors the teacher's Redis debug store: payloads
// above this size are gzipped before being written, since a template with a
// long Designer-authored reasoning trail in its feedback tail can grow past
// what's worth storing raw.
const cacheCompressionThreshold = 16 * 1024

// cacheTTL bounds how long a cached template may serve reads before falling
// back to the filesystem-backed index. Templates are re-cached on every
// Save/RecordOutcome, so staleness only matters for a replica that hasn't
// handled the write itself.
const cacheTTL = 30 * time.Minute

// redisCache is an optional write-through cache in front of Store's
// filesystem index, consulted by Store.Get only (FindSimilar does not read
// it). Grounded on the teacher's
// RedisExecutionDebugStore (same client construction, same
// compress-above-threshold wire format); adapted here to the Workflow
// Store's read/write pattern instead of debug-record archival.
type redisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    logger.Logger
}

func newRedisCache(addr string, log logger.Logger) (*redisCache, error) {
	if log == nil {
		log = logger.Noop{}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisCache{client: client, keyPrefix: "agentrt:template:", logger: log}, nil
}

func (c *redisCache) key(id string) string {
	return c.keyPrefix + id
}

func (c *redisCache) get(ctx context.Context, id string) (Template, bool) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis cache get failed", map[string]interface{}{"id": id, "error": err.Error()})
		}
		return Template{}, false
	}
	data, err := decompress(raw)
	if err != nil {
		c.logger.Warn("redis cache payload corrupt", map[string]interface{}{"id": id, "error": err.Error()})
		return Template{}, false
	}
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("redis cache payload unparsable", map[string]interface{}{"id": id, "error": err.Error()})
		return Template{}, false
	}
	return t, true
}

func (c *redisCache) put(ctx context.Context, t Template) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(t.ID), compress(data), cacheTTL).Err(); err != nil {
		c.logger.Warn("redis cache set failed", map[string]interface{}{"id": t.ID, "error": err.Error()})
	}
}

func (c *redisCache) invalidate(ctx context.Context, id string) {
	c.client.Del(ctx, c.key(id))
}

func compress(data []byte) []byte {
	if len(data) < cacheCompressionThreshold {
		return append([]byte{0}, data...)
	}
	var buf bytes.Buffer
	buf.WriteByte(1)
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(data)
	_ = gz.Close()
	return buf.Bytes()
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == 0 {
		return data[1:], nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
