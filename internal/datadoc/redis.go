package datadoc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisEncodingPrefix = "redis+"
	defaultKeyPrefix    = "weaver:result:"
	defaultResultTTL    = 7 * 24 * time.Hour
)

// RedisStore хранит сериализованные результаты в Redis.
//
// Документ содержит только ключ, поэтому State остаётся компактным даже
// для больших результатов. Inline-документы декодируются как обычно,
// это позволяет читать историю, записанную до переключения backend.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisConfig — конфигурация RedisStore.
type RedisConfig struct {
	Client redis.Cmdable
	Prefix string        // default: "weaver:result:"
	TTL    time.Duration // default: 7 дней; отрицательное значение — без TTL
}

// NewRedisStore создаёт RedisStore.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultResultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: cfg.Client, prefix: prefix, ttl: ttl}
}

// Encode сериализует значение и сохраняет его в Redis.
func (s *RedisStore) Encode(ctx context.Context, format string, v any) (*Document, error) {
	c, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	blob, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	key := s.prefix + uuid.NewString()
	if err := s.client.Set(ctx, key, blob, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis set %s: %w", key, err)
	}

	return &Document{Encoding: redisEncodingPrefix + c.Name(), Blob: []byte(key)}, nil
}

// Decode читает данные по ключу из документа.
func (s *RedisStore) Decode(ctx context.Context, doc *Document, v any) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrNotFound)
	}
	format, ok := strings.CutPrefix(doc.Encoding, redisEncodingPrefix)
	if !ok {
		return Decode(doc, v)
	}
	c, err := CodecFor(format)
	if err != nil {
		return err
	}

	key := string(doc.Blob)
	blob, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := c.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("decode %s: %w", format, err)
	}
	return nil
}

// Delete удаляет данные, на которые ссылается документ.
func (s *RedisStore) Delete(ctx context.Context, doc *Document) error {
	if doc == nil || !strings.HasPrefix(doc.Encoding, redisEncodingPrefix) {
		return nil
	}
	return s.client.Del(ctx, string(doc.Blob)).Err()
}

// DialRedis подключается к Redis по URL ("redis://...") и проверяет соединение.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
