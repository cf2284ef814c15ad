package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/scitix/netpulse/internal/config"
	"github.com/scitix/netpulse/internal/logging"
)

type redisStore struct {
	log *logging.Logger
	rdb *goredis.Client
}

// NewRedisStore dials the configured Redis instance (or sentinel cluster,
// via go-redis' failover client, when SentinelMaster is set) and verifies
// connectivity with a bounded Ping, matching the teacher's
// NewSSEBus connect-then-ping pattern in internal/clients/redis.
func NewRedisStore(cfg config.StateStoreConfig, log *logging.Logger) (Store, error) {
	var rdb *goredis.Client
	if cfg.UsesSentinel() {
		rdb = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout(),
			ReadTimeout:   cfg.ReadTimeout(),
			WriteTimeout:  cfg.WriteTimeout(),
		})
	} else {
		opts := &goredis.Options{
			Addr:         cfg.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout(),
			ReadTimeout:  cfg.ReadTimeout(),
			WriteTimeout: cfg.WriteTimeout(),
		}
		if cfg.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb = goredis.NewClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{log: log.With("component", "RedisStore"), rdb: rdb}, nil
}

func (s *redisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == goredis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *redisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *redisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return s.rdb.HSetNX(ctx, key, field, value).Result()
}

func (s *redisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *redisStore) HScan(ctx context.Context, key, match string) (map[string]string, error) {
	out := make(map[string]string)
	iter := s.rdb.HScan(ctx, key, 0, match, 0).Iterator()
	var pendingField string
	have := false
	for iter.Next(ctx) {
		if !have {
			pendingField = iter.Val()
			have = true
			continue
		}
		out[pendingField] = iter.Val()
		have = false
	}
	return out, iter.Err()
}

func (s *redisStore) HMGet(ctx context.Context, key string, fields ...string) ([]string, error) {
	vals, err := s.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if sv, ok := v.(string); ok {
			out[i] = sv
		}
	}
	return out, nil
}

func (s *redisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.LPush(ctx, key, args...).Err()
}

func (s *redisStore) RPop(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.RPop(ctx, key).Result()
	if err == goredis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (s *redisStore) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := s.rdb.BRPop(ctx, timeout, key).Result()
	if err == goredis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", ErrNotFound
	}
	return res[1], nil
}

func (s *redisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *redisStore) LRem(ctx context.Context, key string, value string) error {
	return s.rdb.LRem(ctx, key, 0, value).Err()
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.rdb.Keys(ctx, pattern).Result()
}

func (s *redisStore) PutWorker(ctx context.Context, w WorkerRecord) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, workerRegistryKey, w.Name, string(raw)).Err()
}

func (s *redisStore) GetWorker(ctx context.Context, name string) (*WorkerRecord, error) {
	raw, err := s.rdb.HGet(ctx, workerRegistryKey, name).Result()
	if err == goredis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var w WorkerRecord
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *redisStore) ListWorkers(ctx context.Context) ([]WorkerRecord, error) {
	all, err := s.rdb.HGetAll(ctx, workerRegistryKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]WorkerRecord, 0, len(all))
	for _, raw := range all {
		var w WorkerRecord
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			s.log.Warn("skipping unreadable worker record", "error", err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *redisStore) DeleteWorker(ctx context.Context, name string) error {
	return s.rdb.HDel(ctx, workerRegistryKey, name).Err()
}

func (s *redisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

func (s *redisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := s.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan string, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				default:
				}
			}
		}
	}()
	return &redisSubscription{ch: out, sub: sub}, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

const workerRegistryKey = "worker_registry"

type redisSubscription struct {
	ch  chan string
	sub *goredis.PubSub
}

func (r *redisSubscription) Channel() <-chan string { return r.ch }
func (r *redisSubscription) Close() error           { return r.sub.Close() }

// redisPipeline wraps a go-redis Pipeliner. Exec runs every queued command
// in one round trip and returns the first error, but (matching go-redis
// semantics) every command still executes — callers observe exactly
// which writes landed via the per-command *Cmd values if they need to.
type redisPipeline struct {
	pipe goredis.Pipeliner
}

func (s *redisStore) Pipeline() Pipeline {
	return &redisPipeline{pipe: s.rdb.TxPipeline()}
}

func (p *redisPipeline) HSet(key, field, value string)   { p.pipe.HSet(context.Background(), key, field, value) }
func (p *redisPipeline) HSetNX(key, field, value string) { p.pipe.HSetNX(context.Background(), key, field, value) }
func (p *redisPipeline) HDel(key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	p.pipe.HDel(context.Background(), key, fields...)
}
func (p *redisPipeline) LPush(key string, values ...string) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	p.pipe.LPush(context.Background(), key, args...)
}
func (p *redisPipeline) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	p.pipe.Del(context.Background(), keys...)
}
func (p *redisPipeline) Set(key, value string, ttl time.Duration) {
	p.pipe.Set(context.Background(), key, value, ttl)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.pipe.Exec(ctx)
	if err == goredis.Nil {
		return nil
	}
	return err
}
