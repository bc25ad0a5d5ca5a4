package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/modrelay/pkg/content"
)

// ErrEntryNotFound reports a lookup for an entry id that was never enqueued.
var ErrEntryNotFound = errors.New("queue entry not found")

// Redis keyspace:
//   - moderation:seq                    INCR counter for monotonic entry ids
//   - moderation:entry:{id}             hash of entry fields
//   - moderation:pending                ZSET of ids scored by created_at (FIFO)
//   - moderation:processing             ZSET of ids scored by claim time
//   - moderation:completed              ZSET of ids scored by processed_at
//   - moderation:failed                 ZSET of ids scored by processed_at
//   - moderation:decision:{content_id}  last applied decision, 24h TTL
const (
	seqKey        = "moderation:seq"
	entryPrefix   = "moderation:entry:"
	pendingKey    = "moderation:pending"
	processingKey = "moderation:processing"
	completedKey  = "moderation:completed"
	failedKey     = "moderation:failed"
	decisionTTL   = 24 * time.Hour
)

func entryKey(id int64) string {
	return fmt.Sprintf("%s%d", entryPrefix, id)
}

func decisionKey(contentID string) string {
	return "moderation:decision:" + contentID
}

// Client manages the connection to Redis and provides the moderation queue
// operations. All operations are context-aware.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a queue client connected to the specified Redis address
// ("host:port").
func NewClient(addr string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Client{rdb: rdb}
}

// Ping checks the backing store connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Enqueue appends a new pending entry for the given content reference and
// returns it. Duplicate enqueues for the same content produce duplicate
// entries; the vendor dedupes on its side. The insert is a dedicated
// pipeline against fresh keys, so it never clobbers concurrent sweep updates
// to other entries.
func (c *Client) Enqueue(ctx context.Context, ctype content.Type, contentID string) (*Entry, error) {
	id, err := c.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:          id,
		ContentType: ctype,
		ContentID:   contentID,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, entryKey(id), e.hashFields())
	pipe.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(e.CreatedAt.UnixNano()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// claimScript atomically takes the oldest pending ids, marks them processing
// and moves them into the processing set scored by claim time. Two
// concurrent callers can never claim the same entry.
var claimScript = redis.NewScript(`
	local pending = KEYS[1]
	local processing = KEYS[2]
	local prefix = ARGV[1]
	local limit = tonumber(ARGV[2])
	local now = ARGV[3]

	local ids = redis.call('ZRANGE', pending, 0, limit - 1)
	for _, id in ipairs(ids) do
		redis.call('ZREM', pending, id)
		redis.call('ZADD', processing, now, id)
		redis.call('HSET', prefix .. id, 'status', 'processing')
	end
	return ids
`)

// ClaimBatch returns up to limit pending entries, oldest first, atomically
// transitioning them to processing.
func (c *Client) ClaimBatch(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UnixNano()
	raw, err := claimScript.Run(ctx, c.rdb,
		[]string{pendingKey, processingKey},
		entryPrefix, limit, now,
	).Result()
	if err != nil {
		return nil, err
	}

	ids, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("claim script: unexpected result %T", raw)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, idv := range ids {
		idStr, ok := idv.(string)
		if !ok {
			return nil, fmt.Errorf("claim script: unexpected id %T", idv)
		}
		fields, err := c.rdb.HGetAll(ctx, entryPrefix+idStr).Result()
		if err != nil {
			return nil, err
		}
		e, err := entryFromHash(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MarkCompleted transitions a claimed entry to the terminal completed status.
func (c *Client) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now()
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, entryKey(id),
		"status", string(StatusCompleted),
		"processed_at", now.UnixNano(),
	)
	pipe.ZRem(ctx, processingKey, id)
	pipe.ZAdd(ctx, completedKey, redis.Z{Score: float64(now.UnixNano()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// failAttemptScript increments the retry counter and either reverts the
// entry to pending (budget left, original created_at score preserved for
// FIFO) or fails it terminally. Returns 1 when the entry is now failed.
var failAttemptScript = redis.NewScript(`
	local entry = KEYS[1]
	local pending = KEYS[2]
	local processing = KEYS[3]
	local failed = KEYS[4]
	local id = ARGV[1]
	local max = tonumber(ARGV[2])
	local now = ARGV[3]
	local msg = ARGV[4]

	local retries = redis.call('HINCRBY', entry, 'retries', 1)
	redis.call('HSET', entry, 'last_error', msg)
	redis.call('ZREM', processing, id)

	if retries >= max then
		redis.call('HSET', entry, 'status', 'failed')
		redis.call('HSET', entry, 'processed_at', now)
		redis.call('ZADD', failed, now, id)
		return 1
	end

	redis.call('HSET', entry, 'status', 'pending')
	local created = redis.call('HGET', entry, 'created_at')
	redis.call('ZADD', pending, created, id)
	return 0
`)

// MarkFailedAttempt records a failed attempt. The retry counter is
// incremented atomically; when it reaches MaxRetries the entry becomes
// terminally failed with last_error set, otherwise it reverts to pending for
// a later sweep. Returns true when the entry is now terminal.
func (c *Client) MarkFailedAttempt(ctx context.Context, id int64, errMsg string) (bool, error) {
	raw, err := failAttemptScript.Run(ctx, c.rdb,
		[]string{entryKey(id), pendingKey, processingKey, failedKey},
		id, MaxRetries, time.Now().UnixNano(), errMsg,
	).Result()
	if err != nil {
		return false, err
	}
	n, _ := raw.(int64)
	return n == 1, nil
}

// MarkFailed fails an entry terminally regardless of remaining retry budget.
// Used for non-retryable rejections, where resubmitting the same payload
// cannot succeed.
func (c *Client) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now()
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, entryKey(id),
		"status", string(StatusFailed),
		"processed_at", now.UnixNano(),
		"last_error", errMsg,
	)
	pipe.ZRem(ctx, processingKey, id)
	pipe.ZAdd(ctx, failedKey, redis.Z{Score: float64(now.UnixNano()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// releaseScript puts a claimed entry back into pending without touching its
// retry counter, keyed by its original created_at so FIFO order holds.
var releaseScript = redis.NewScript(`
	local entry = KEYS[1]
	local pending = KEYS[2]
	local processing = KEYS[3]
	local id = ARGV[1]

	redis.call('ZREM', processing, id)
	redis.call('HSET', entry, 'status', 'pending')
	local created = redis.call('HGET', entry, 'created_at')
	redis.call('ZADD', pending, created, id)
	return 1
`)

// Release returns a claimed entry to pending without consuming a retry.
// Used when a sweep defers work (e.g. the outbound rate limit is exhausted).
func (c *Client) Release(ctx context.Context, id int64) error {
	return releaseScript.Run(ctx, c.rdb,
		[]string{entryKey(id), pendingKey, processingKey},
		id,
	).Err()
}

// reclaimScript moves entries whose claim is older than the cutoff back to
// pending. Atomic so a concurrent sweep cannot double-claim.
var reclaimScript = redis.NewScript(`
	local processing = KEYS[1]
	local pending = KEYS[2]
	local prefix = ARGV[1]
	local cutoff = ARGV[2]

	local ids = redis.call('ZRANGEBYSCORE', processing, '-inf', cutoff)
	for _, id in ipairs(ids) do
		redis.call('ZREM', processing, id)
		redis.call('HSET', prefix .. id, 'status', 'pending')
		local created = redis.call('HGET', prefix .. id, 'created_at')
		redis.call('ZADD', pending, created, id)
	end
	return #ids
`)

// ReclaimStale reverts entries stuck in processing longer than olderThan back
// to pending. A sweep that crashed mid-batch leaves its claims behind; this
// runs at the start of every sweep so those entries cannot starve.
func (c *Client) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	raw, err := reclaimScript.Run(ctx, c.rdb,
		[]string{processingKey, pendingKey},
		entryPrefix, cutoff,
	).Result()
	if err != nil {
		return 0, err
	}
	n, _ := raw.(int64)
	return n, nil
}

// Entry loads a single entry by id.
func (c *Client) Entry(ctx context.Context, id int64) (*Entry, error) {
	fields, err := c.rdb.HGetAll(ctx, entryKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return entryFromHash(fields)
}

// Entries lists up to limit entries in the given status, in queue order
// (created_at for pending, claim/terminal time otherwise).
func (c *Client) Entries(ctx context.Context, status Status, limit int64) ([]*Entry, error) {
	var key string
	switch status {
	case StatusPending:
		key = pendingKey
	case StatusProcessing:
		key = processingKey
	case StatusCompleted:
		key = completedKey
	case StatusFailed:
		key = failedKey
	default:
		return nil, fmt.Errorf("unknown queue status %q", status)
	}

	ids, err := c.rdb.ZRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		fields, err := c.rdb.HGetAll(ctx, entryPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		e, err := entryFromHash(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Depths returns the number of entries per status. Used by the metrics
// collector and the stats endpoint.
func (c *Client) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)
	for status, key := range map[Status]string{
		StatusPending:    pendingKey,
		StatusProcessing: processingKey,
		StatusCompleted:  completedKey,
		StatusFailed:     failedKey,
	} {
		if n, err := c.rdb.ZCard(ctx, key).Result(); err == nil {
			depths[string(status)] = n
		}
	}
	return depths
}

// Allow checks the outbound submission rate limit using a Token Bucket
// implemented in Lua.
//
// Parameters:
//   - key: unique key for the limit (e.g. "ratelimit:submit")
//   - limit: tokens added per second (rate)
//   - burst: maximum tokens in the bucket (capacity)
//
// Returns true if the call may proceed.
func (c *Client) Allow(ctx context.Context, key string, limit, burst int) (bool, error) {
	// Lua script for Token Bucket
	// KEYS[1]: Rate limit key
	// ARGV[1]: Rate (tokens/sec)
	// ARGV[2]: Burst (capacity)
	// ARGV[3]: Current timestamp (seconds)
	// ARGV[4]: Tokens to consume (1)
	luaScript := redis.NewScript(`
		local key = KEYS[1]
		local rate = tonumber(ARGV[1])
		local burst = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])
		local requested = tonumber(ARGV[4])

		local tokens = tonumber(redis.call('HGET', key, 'tokens'))
		local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

		if not tokens then
			tokens = burst
			last_refill = now
		end

		-- Refill tokens
		local delta = math.max(0, now - last_refill)
		local new_tokens = math.min(burst, tokens + (delta * rate))

		if new_tokens >= requested then
			new_tokens = new_tokens - requested
			redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
			return 1 -- Allowed
		else
			redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
			return 0 -- Denied
		end
	`)

	result, err := luaScript.Run(ctx, c.rdb,
		[]string{key},
		limit,
		burst,
		time.Now().Unix(),
		1,
	).Result()
	if err != nil {
		return false, err
	}
	return result.(int64) == 1, nil
}

// StoreDecision caches the last applied decision for a content id with a
// 24-hour TTL. The cache backs the ops decision endpoint; it is not the
// audit log of record.
func (c *Client) StoreDecision(ctx context.Context, contentID string, decision any) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, decisionKey(contentID), data, decisionTTL).Err()
}

// LastDecision retrieves the cached decision for a content id as raw JSON.
// Returns redis.Nil when nothing is cached.
func (c *Client) LastDecision(ctx context.Context, contentID string) (string, error) {
	return c.rdb.Get(ctx, decisionKey(contentID)).Result()
}
