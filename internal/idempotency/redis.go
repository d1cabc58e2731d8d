package idempotency

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bytekart:idempotency:"

// reserveScript returns nil after claiming the key, or the stored
// fingerprint, status, headers and body when the key is already held.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HMGET', KEYS[1], 'fingerprint', 'status', 'headers', 'body')
end
redis.call('HSET', KEYS[1], 'fingerprint', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return false
`)

var saveScript = redis.NewScript(`
local fp = redis.call('HGET', KEYS[1], 'fingerprint')
if fp and fp ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'fingerprint', ARGV[1], 'status', ARGV[2], 'headers', ARGV[3], 'body', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'fingerprint') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps records in Redis hashes so every API replica sees the
// same reservations.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key string) string {
	return redisKeyPrefix + sha256Hex([]byte(key))
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	ttl = ttlOrDefault(ttl)
	values, err := reserveScript.Run(ctx, s.client, []string{redisKey(key)}, fingerprint, ttl.Milliseconds()).Slice()
	if errors.Is(err, redis.Nil) {
		return Reservation{State: StateNew}, nil
	}
	if err != nil {
		return Reservation{}, errors.Wrap(err, "reserve idempotency key")
	}
	if len(values) != 4 {
		return Reservation{}, errors.Errorf("reserve idempotency key: unexpected reply length %d", len(values))
	}

	stored, _ := values[0].(string)
	if stored != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	status, _ := values[1].(string)
	if status == "" {
		return Reservation{State: StatePending}, nil
	}

	code, err := strconv.Atoi(status)
	if err != nil {
		return Reservation{}, errors.Wrap(err, "decode stored status")
	}
	headers, _ := values[2].(string)
	h, err := decodeHeaders(headers)
	if err != nil {
		return Reservation{}, err
	}
	body, _ := values[3].(string)
	return Reservation{
		State:    StateCompleted,
		Response: &Response{Status: code, Headers: h, Body: []byte(body)},
	}, nil
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	ttl = ttlOrDefault(ttl)
	saved, err := saveScript.Run(ctx, s.client, []string{redisKey(key)},
		fingerprint,
		strconv.Itoa(resp.Status),
		encodeHeaders(storedHeaders(resp.Headers)),
		resp.Body,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return errors.Wrap(err, "save idempotent response")
	}
	if saved == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := releaseScript.Run(ctx, s.client, []string{redisKey(key)}, fingerprint).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}

func encodeHeaders(h http.Header) string {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	for name, values := range h {
		e.FieldStart(name)
		e.ArrStart()
		for _, v := range values {
			e.Str(v)
		}
		e.ArrEnd()
	}
	e.ObjEnd()
	return e.String()
}

func decodeHeaders(s string) (http.Header, error) {
	h := http.Header{}
	if s == "" {
		return h, nil
	}
	err := jx.DecodeStr(s).ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := string(key)
		return d.Arr(func(d *jx.Decoder) error {
			v, err := d.Str()
			if err != nil {
				return err
			}
			h[name] = append(h[name], v)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode stored headers")
	}
	return h, nil
}
