package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"arbiter/internal/sentinel"
)

const (
	readyKey    = "arbiter:queue:ready"
	inflightKey = "arbiter:queue:inflight"
	leasesKey   = "arbiter:queue:leases"
)

// dequeueScript atomically moves the oldest ready message into the in-flight
// hash under a lease token, bumping its attempt counter.
// KEYS[1] = ready list, KEYS[2] = in-flight hash, KEYS[3] = lease zset
// ARGV[1] = lease token
// ARGV[2] = lease deadline (unix seconds, float)
var dequeueScript = redis.NewScript(`
local body = redis.call("RPOP", KEYS[1])
if not body then
    return false
end
local msg = cjson.decode(body)
msg["attempt"] = (tonumber(msg["attempt"]) or 0) + 1
body = cjson.encode(msg)
redis.call("HSET", KEYS[2], ARGV[1], body)
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
return body
`)

// ackScript removes a leased message for good.
// KEYS[1] = in-flight hash, KEYS[2] = lease zset
// ARGV[1] = lease token
var ackScript = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 1 then
    redis.call("ZREM", KEYS[2], ARGV[1])
    return 1
end
return 0
`)

// requeueScript returns a leased message to the back of the ready list.
// KEYS[1] = ready list, KEYS[2] = in-flight hash, KEYS[3] = lease zset
// ARGV[1] = lease token
var requeueScript = redis.NewScript(`
local body = redis.call("HGET", KEYS[2], ARGV[1])
if not body then
    return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("LPUSH", KEYS[1], body)
return 1
`)

// reapScript moves every lease past its deadline back to the ready list so
// another worker can retry the event.
// KEYS[1] = ready list, KEYS[2] = in-flight hash, KEYS[3] = lease zset
// ARGV[1] = now (unix seconds, float)
var reapScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1])
local moved = 0
for _, token in ipairs(expired) do
    local body = redis.call("HGET", KEYS[2], token)
    if body then
        redis.call("LPUSH", KEYS[1], body)
        redis.call("HDEL", KEYS[2], token)
        moved = moved + 1
    end
    redis.call("ZREM", KEYS[3], token)
end
return moved
`)

// RedisQueue is a Redis-backed queue shared by multiple server instances.
// All multi-key steps run as Lua scripts so a crash between steps cannot
// strand a message half-moved.
type RedisQueue struct {
	client redis.Cmdable
}

// NewRedis constructs a Redis-backed queue.
func NewRedis(client redis.Cmdable) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, body).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, leaseTTL time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := float64(time.Now().Add(leaseTTL).UnixMicro()) / 1e6

	res, err := dequeueScript.Run(ctx, q.client,
		[]string{readyKey, inflightKey, leasesKey},
		token, deadline,
	).Result()
	if err == redis.Nil {
		return nil, sentinel.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	body, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("dequeue: unexpected script result %T", res)
	}

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return &Lease{Message: msg, token: token}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, lease *Lease) error {
	res, err := ackScript.Run(ctx, q.client,
		[]string{inflightKey, leasesKey},
		lease.token,
	).Int()
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if res == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, lease *Lease) error {
	res, err := requeueScript.Run(ctx, q.client,
		[]string{readyKey, inflightKey, leasesKey},
		lease.token,
	).Int()
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if res == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

func (q *RedisQueue) ReapExpired(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	moved, err := reapScript.Run(ctx, q.client,
		[]string{readyKey, inflightKey, leasesKey},
		now,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return moved, nil
}
