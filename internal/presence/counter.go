package presence

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const connectionsKey = "presence:connections"

// RedisCounter keeps session counts in a redis hash shared by every
// instance.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, userID int64) (int64, error) {
	return c.client.HIncrBy(ctx, connectionsKey, field(userID), 1).Result()
}

// decrScript decrements and drops a count that reaches zero in one step, so
// an Incr from another instance cannot land between the two.
var decrScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return n
`)

func (c *RedisCounter) Decr(ctx context.Context, userID int64) (int64, error) {
	return decrScript.Run(ctx, c.client, []string{connectionsKey}, field(userID)).Int64()
}

func field(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// LocalCounter is the single-instance counter.
type LocalCounter struct {
	mu     sync.Mutex
	counts map[int64]int64
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{counts: make(map[int64]int64)}
}

func (c *LocalCounter) Incr(_ context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

func (c *LocalCounter) Decr(_ context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[userID] - 1
	if n <= 0 {
		delete(c.counts, userID)
		return 0, nil
	}
	c.counts[userID] = n
	return n, nil
}
