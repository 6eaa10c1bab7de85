package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage represents a raw entry read from a Redis Stream.
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

// ScoredMember is a sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Adapter is the Redis surface the job queue and the engine build on:
// plain keys for guards, streams for the queues themselves, and sorted
// sets for delay scheduling.
type Adapter interface {
	Set(key string, value []byte, ttl time.Duration) error
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, error)
	Del(key string) error
	Exist(key string) (int64, error)
	Client() goredis.UniversalClient

	// Stream operations
	XAdd(key string, values map[string]interface{}) (string, error)
	XReadGroup(group, consumer, key, id string, count int64) ([]StreamMessage, error)
	XAck(key, group string, ids ...string) error
	XGroupCreateMkStream(key, group, start string) error
	XLen(key string) (int64, error)
	XDel(key string, ids ...string) error
	XTrimApprox(key string, maxLen int64) error
	XPending(key, group string) (*goredis.XPending, error)
	XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error)
	XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error)

	// Sorted-set operations (delayed job scheduling)
	ZAdd(key string, score float64, member string) error
	ZRangeByScoreWithScores(key string, min, max string, count int64) ([]ScoredMember, error)
	ZRem(key string, members ...string) error
	ZCard(key string) (int64, error)
}

type adapter struct {
	prefix string
	conn   goredis.UniversalClient
	name   string
}

var (
	instLock  = &sync.RWMutex{}
	instances map[string]Adapter
)

// NewAdapter creates (or returns the already-registered) adapter for the
// given connection name. Adapters are shared process-wide by name.
func NewAdapter(connName string, keysPrefix string, opts *goredis.UniversalOptions) (Adapter, error) {
	instLock.RLock()
	if a, ok := instances[connName]; ok {
		instLock.RUnlock()
		return a, nil
	}
	instLock.RUnlock()

	c := goredis.NewUniversalClient(opts)
	if cmd := c.Ping(context.Background()); cmd.Err() != nil {
		return nil, cmd.Err()
	}

	a := &adapter{conn: c, prefix: keysPrefix, name: connName}

	instLock.Lock()
	if instances == nil {
		instances = make(map[string]Adapter)
	}
	if existing, ok := instances[connName]; ok {
		instLock.Unlock()
		_ = c.Close()
		return existing, nil
	}
	instances[connName] = a
	instLock.Unlock()

	return a, nil
}

func Get(connName ...string) Adapter {
	instLock.RLock()
	defer instLock.RUnlock()

	name := "default"
	if len(connName) > 0 && connName[0] != "" {
		name = connName[0]
	}
	if a, ok := instances[name]; ok {
		return a
	}
	return instances["default"]
}

func (r *adapter) Client() goredis.UniversalClient {
	return r.conn
}

func (r *adapter) Set(key string, value []byte, ttl time.Duration) error {
	return r.conn.Set(context.Background(), r.prefix+key, value, ttl).Err()
}

func (r *adapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := r.conn.SetNX(context.Background(), r.prefix+key, value, ttl)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val(), nil
}

func (r *adapter) Get(key string) ([]byte, error) {
	cmd := r.conn.Get(context.Background(), r.prefix+key)
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	return cmd.Bytes()
}

func (r *adapter) Del(key string) error {
	return r.conn.Del(context.Background(), r.prefix+key).Err()
}

func (r *adapter) Exist(key string) (int64, error) {
	cmd := r.conn.Exists(context.Background(), r.prefix+key)
	if err := cmd.Err(); err != nil {
		return 0, err
	}
	return cmd.Val(), nil
}

func (r *adapter) XAdd(key string, values map[string]interface{}) (string, error) {
	cmd := r.conn.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: r.prefix + key,
		Values: values,
	})
	if err := cmd.Err(); err != nil {
		return "", err
	}
	return cmd.Val(), nil
}

func (r *adapter) XReadGroup(group, consumer, key, id string, count int64) ([]StreamMessage, error) {
	cmd := r.conn.XReadGroup(context.Background(), &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.prefix + key, id},
		Count:    count,
		Block:    -1,
	})
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	return flattenStreams(cmd.Val()), nil
}

func (r *adapter) XAck(key, group string, ids ...string) error {
	return r.conn.XAck(context.Background(), r.prefix+key, group, ids...).Err()
}

func (r *adapter) XGroupCreateMkStream(key, group, start string) error {
	return r.conn.XGroupCreateMkStream(context.Background(), r.prefix+key, group, start).Err()
}

func (r *adapter) XLen(key string) (int64, error) {
	cmd := r.conn.XLen(context.Background(), r.prefix+key)
	if err := cmd.Err(); err != nil {
		return 0, err
	}
	return cmd.Val(), nil
}

func (r *adapter) XDel(key string, ids ...string) error {
	return r.conn.XDel(context.Background(), r.prefix+key, ids...).Err()
}

func (r *adapter) XTrimApprox(key string, maxLen int64) error {
	return r.conn.XTrimMaxLenApprox(context.Background(), r.prefix+key, maxLen, 0).Err()
}

func (r *adapter) XPending(key, group string) (*goredis.XPending, error) {
	cmd := r.conn.XPending(context.Background(), r.prefix+key, group)
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	return cmd.Val(), nil
}

func (r *adapter) XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error) {
	cmd := r.conn.XPendingExt(context.Background(), &goredis.XPendingExtArgs{
		Stream: r.prefix + key,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	})
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	return cmd.Val(), nil
}

func (r *adapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	cmd := r.conn.XClaim(context.Background(), &goredis.XClaimArgs{
		Stream:   r.prefix + key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	})
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	out := make([]StreamMessage, 0, len(cmd.Val()))
	for _, m := range cmd.Val() {
		out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
	}
	return out, nil
}

func (r *adapter) ZAdd(key string, score float64, member string) error {
	return r.conn.ZAdd(context.Background(), r.prefix+key, goredis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

func (r *adapter) ZRangeByScoreWithScores(key string, min, max string, count int64) ([]ScoredMember, error) {
	cmd := r.conn.ZRangeByScoreWithScores(context.Background(), r.prefix+key, &goredis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: count,
	})
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(cmd.Val()))
	for _, z := range cmd.Val() {
		s, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: s, Score: z.Score})
	}
	return out, nil
}

func (r *adapter) ZRem(key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.conn.ZRem(context.Background(), r.prefix+key, args...).Err()
}

func (r *adapter) ZCard(key string) (int64, error) {
	cmd := r.conn.ZCard(context.Background(), r.prefix+key)
	if err := cmd.Err(); err != nil {
		return 0, err
	}
	return cmd.Val(), nil
}

func flattenStreams(streams []goredis.XStream) []StreamMessage {
	var out []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
		}
	}
	return out
}
