package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a Redis server. Each logical key lives in a
// hash holding the value and its version, drawn from a store-wide counter,
// and every key is mirrored into a sorted set so that List can walk prefixes
// in lexicographic order via ZRANGEBYLEX. All mutations run as Lua scripts,
// so the hash and the key set never diverge and multi-key transactions are
// evaluated atomically on the server.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// Namespaced key of the sorted set tracking all logical keys.
func (s *RedisStore) keySet() string { return s.namespace + "keys" }

// Namespaced key of the store-wide version counter. A single counter, rather
// than one per key, keeps tokens unambiguous across delete/recreate cycles.
func (s *RedisStore) verKey() string { return s.namespace + "ver" }

// Namespaced hash key for a logical key.
func (s *RedisStore) hashKey(key string) string { return s.namespace + "k:" + key }

var redisSetScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'v', v, 'd', ARGV[2])
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 1
`)

var redisDeleteScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] is the key set, KEYS[2] the version counter; KEYS[3..2+ncheck] are
// check hashes; the rest are write hashes. ARGV[1] is ncheck followed by
// expected versions ("0" asserts absence), then one (delete flag, member,
// value) triplet per write.
var redisAtomicScript = redis.NewScript(`
local nchecks = tonumber(ARGV[1])
for i = 1, nchecks do
	local cur = redis.call('HGET', KEYS[2+i], 'v')
	local want = ARGV[1+i]
	if want == '0' then
		if cur then return 0 end
	elseif not cur or cur ~= want then
		return 0
	end
end
local argi = 2 + nchecks
for j = 3 + nchecks, #KEYS do
	local del = ARGV[argi]
	local member = ARGV[argi+1]
	if del == '1' then
		redis.call('DEL', KEYS[j])
		redis.call('ZREM', KEYS[1], member)
	else
		local v = redis.call('INCR', KEYS[2])
		redis.call('HSET', KEYS[j], 'v', v, 'd', ARGV[argi+2])
		redis.call('ZADD', KEYS[1], 0, member)
	end
	argi = argi + 3
end
return 1
`)

// NewRedisStore wraps an existing Redis client. The namespace prefixes every
// key written by the store so that several stores can share one server.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "jobkit:"
	}
	return &RedisStore{client: client, namespace: namespace}
}

// ConnectRedis establishes a Redis connection using the provided
// configuration, retrying per RetryAttempts/RetryInterval, and returns a
// store on top of it.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrRedisNotReady, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisStore(client, cfg.Namespace), nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, Version, error) {
	vals, err := s.client.HMGet(ctx, s.hashKey(key), "v", "d").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	if vals[0] == nil {
		return nil, 0, ErrKeyNotFound
	}

	ver, err := strconv.ParseUint(vals[0].(string), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("redis get %q: malformed version: %w", key, err)
	}
	var value []byte
	if vals[1] != nil {
		value = []byte(vals[1].(string))
	}
	return value, Version(ver), nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	keys := []string{s.hashKey(key), s.keySet(), s.verKey()}
	if err := redisSetScript.Run(ctx, s.client, keys, key, value).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	keys := []string{s.hashKey(key), s.keySet()}
	if err := redisDeleteScript.Run(ctx, s.client, keys, key).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, prefix, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		return nil, "", ErrInvalidLimit
	}

	min := "[" + prefix
	if cursor != "" {
		min = "(" + cursor
	}
	max := "+"
	if end := prefixRangeEnd(prefix); end != "" {
		max = "(" + end
	}

	// Fetch one extra member to know whether another page exists.
	members, err := s.client.ZRangeByLex(ctx, s.keySet(), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis list %q: %w", prefix, err)
	}

	more := len(members) > limit
	if more {
		members = members[:limit]
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HMGet(ctx, s.hashKey(m), "v", "d")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, "", fmt.Errorf("redis list %q: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		vals := cmds[i].Val()
		if vals[0] == nil {
			// Deleted between ZRANGEBYLEX and HMGET; skip.
			continue
		}
		ver, err := strconv.ParseUint(vals[0].(string), 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("redis list %q: malformed version for %q: %w", prefix, m, err)
		}
		var value []byte
		if vals[1] != nil {
			value = []byte(vals[1].(string))
		}
		entries = append(entries, Entry{Key: m, Value: value, Version: Version(ver)})
	}

	next := ""
	if more && len(members) > 0 {
		next = members[len(members)-1]
	}
	return entries, next, nil
}

// Atomic implements Store.
func (s *RedisStore) Atomic(ctx context.Context, tx Transaction) error {
	keys := make([]string, 0, 2+len(tx.Checks)+len(tx.Writes))
	keys = append(keys, s.keySet(), s.verKey())
	argv := make([]any, 0, 1+len(tx.Checks)+3*len(tx.Writes))
	argv = append(argv, len(tx.Checks))

	for _, c := range tx.Checks {
		keys = append(keys, s.hashKey(c.Key))
		argv = append(argv, strconv.FormatUint(uint64(c.Version), 10))
	}
	for _, w := range tx.Writes {
		keys = append(keys, s.hashKey(w.Key))
		if w.Delete {
			argv = append(argv, "1", w.Key, "")
		} else {
			argv = append(argv, "0", w.Key, w.Value)
		}
	}

	ok, err := redisAtomicScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("redis atomic: %w", err)
	}
	if ok != 1 {
		return ErrTxnConflict
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// prefixRangeEnd returns the smallest key greater than every key with the
// given prefix, or an empty string when the range is unbounded.
func prefixRangeEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
