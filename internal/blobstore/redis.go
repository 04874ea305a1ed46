package blobstore

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okarvi/tideflow/pkg/api"
)

// RedisStore is a Store backed by Redis. Each blob lives in one hash:
//
//	<key> => { rev = <n>, cas = <token>, state = <json> }
//
// Compare-and-write runs as a Lua script so the token check and the write
// are a single atomic step on the server.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore using the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// casPut checks the stored token (or absence, when ARGV[1] is empty) and
// writes rev+cas+state atomically. Returns the new rev, or -1 on conflict.
var casPut = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'cas')
if ARGV[1] == '' then
	if cur then return -1 end
else
	if not cur or cur ~= ARGV[1] then return -1 end
end
local rev = redis.call('HINCRBY', KEYS[1], 'rev', 1)
redis.call('HSET', KEYS[1], 'cas', ARGV[2], 'state', ARGV[3])
return rev
`)

func (s *RedisStore) Get(ctx context.Context, key string) (*Rec, error) {
	vals, err := s.client.HMGet(ctx, key, "rev", "cas", "state").Result()
	if err != nil {
		return nil, err
	}
	if vals[0] == nil || vals[1] == nil || vals[2] == nil {
		return nil, ErrNotFound
	}

	rec := &Rec{CAS: vals[1].(string)}
	if revStr, ok := vals[0].(string); ok {
		rec.Rev, _ = strconv.ParseInt(revStr, 10, 64)
	}
	st, err := DecodeState([]byte(vals[2].(string)))
	if err != nil {
		return nil, err
	}
	rec.State = st
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, st *api.State, cas string) (int64, error) {
	data, err := EncodeState(st)
	if err != nil {
		return 0, err
	}

	res, err := casPut.Run(ctx, s.client, []string{key}, cas, uuid.NewString(), string(data)).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, ErrConflict
	}
	return res, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
