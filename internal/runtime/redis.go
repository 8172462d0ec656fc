package runtime

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// compile-time interface check
var _ Store = (*RedisStore)(nil)

// RedisStore implements Store over Redis. Batches execute as a single
// transactional pipeline, which gives the projector its atomic multi-op
// write.
type RedisStore struct {
	rdb goredis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb goredis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// DialRedis connects to a single Redis node.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get returns the value at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

// SMembers returns the members of a set. Missing sets are empty.
func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

// Batch runs fn over a transactional pipeline and executes it.
func (s *RedisStore) Batch(ctx context.Context, fn func(Pipe)) error {
	pipe := s.rdb.TxPipeline()
	fn(&redisPipe{ctx: ctx, pipe: pipe})
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type redisPipe struct {
	ctx  context.Context
	pipe goredis.Pipeliner
}

func (p *redisPipe) Set(key string, value []byte) {
	p.pipe.Set(p.ctx, key, value, 0)
}

func (p *redisPipe) Delete(key string) {
	p.pipe.Del(p.ctx, key)
}

func (p *redisPipe) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(p.ctx, key, args...)
}

func (p *redisPipe) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SRem(p.ctx, key, args...)
}

func (p *redisPipe) ZAdd(key string, score float64, member string) {
	p.pipe.ZAdd(p.ctx, key, goredis.Z{Score: score, Member: member})
}

func (p *redisPipe) ZRem(key string, member string) {
	p.pipe.ZRem(p.ctx, key, member)
}
