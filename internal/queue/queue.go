// Package queue is a Redis Streams job queue with at-least-once delivery.
//
// Retry is driven by the consumer group's pending-entries list: a handler
// that returns an error simply does not ACK, and the entry is reclaimed with
// XCLAIM once its visibility timeout expires. The reclaim delay doubles as
// the backoff between attempts. When an entry's attempt count reaches the
// queue's MaxAttempts, the per-queue exhaustion hook fires exactly once per
// queue instance, the entry is optionally copied to a dead-letter stream,
// and it is ACKed away.
//
// Delayed enqueue parks the job in a sorted set scored by its due time; each
// poll tick promotes due members into the stream. This is how jittered
// delivery schedules and the completion watcher's self-reschedule are
// expressed without occupying a worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/redis"
)

type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
}

// Handler processes one message. Return nil to ACK, an error to leave the
// message pending for retry.
type Handler func(ctx context.Context, msg *Message) error

// ExhaustedHandler fires when a message has used up its attempt budget,
// before the message is dead-lettered and ACKed.
type ExhaustedHandler func(ctx context.Context, msg *Message)

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxAttempts       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
	OnExhausted       ExhaustedHandler
}

type Queue struct {
	adapter redis.Adapter
	config  Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Stats struct {
	TotalMessages     int64
	PendingMessages   int64
	ScheduledMessages int64
	ConsumerCount     int64
}

// scheduledJob is the envelope parked in the delay zset. The nonce keeps
// members unique so identical payloads scheduled for the same instant do
// not collapse into one.
type scheduledJob struct {
	Nonce string            `json:"nonce"`
	Data  json.RawMessage   `json:"data"`
	Meta  map[string]string `json:"meta,omitempty"`
}

func New(adapter redis.Adapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Group may already exist, which is fine.
	_ = q.adapter.XGroupCreateMkStream(q.config.Name, q.config.ConsumerGroup, "0")

	return q, nil
}

// Name returns the stream key the queue publishes to.
func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) scheduledKey() string {
	return q.config.Name + ":scheduled"
}

func (q *Queue) dlqKey() string {
	return q.config.Name + ":dlq"
}

// Publish adds a message to the stream for immediate consumption.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().Unix(),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// PublishJSONDelayed schedules the message to enter the stream after delay.
// A non-positive delay publishes immediately.
func (q *Queue) PublishJSONDelayed(ctx context.Context, data interface{}, metadata map[string]string, delay time.Duration) error {
	if delay <= 0 {
		_, err := q.PublishJSON(ctx, data, metadata)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	member, err := json.Marshal(scheduledJob{
		Nonce: uuid.NewString(),
		Data:  jsonData,
		Meta:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled job: %w", err)
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.adapter.ZAdd(q.scheduledKey(), due, string(member)); err != nil {
		return fmt.Errorf("failed to schedule message: %w", err)
	}
	return nil
}

// Consume starts the poll loop with the given handler.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.promoteScheduled()
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

// promoteScheduled moves due members from the delay zset into the stream.
// XADD-then-ZREM keeps at-least-once semantics: a crash in between yields a
// duplicate, never a loss.
func (q *Queue) promoteScheduled() {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.adapter.ZRangeByScoreWithScores(q.scheduledKey(), "-inf", now, q.config.BatchSize)
	if err != nil || len(due) == 0 {
		return
	}

	for _, m := range due {
		var job scheduledJob
		if err := json.Unmarshal([]byte(m.Member), &job); err != nil {
			logger.Error("dropping malformed scheduled job", "queue", q.config.Name, "error", err)
			_ = q.adapter.ZRem(q.scheduledKey(), m.Member)
			continue
		}
		if _, err := q.Publish(q.ctx, job.Data, job.Meta); err != nil {
			logger.Error("failed to promote scheduled job", "queue", q.config.Name, "error", err)
			continue
		}
		_ = q.adapter.ZRem(q.scheduledKey(), m.Member)
	}
}

func (q *Queue) processMessages() {
	messages, err := q.adapter.XReadGroup(
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)
	if err != nil {
		if err != redis.NilError {
			logger.Debug("queue read failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		msg := q.toMessage(streamMsg)
		msg.Attempts = 1
		q.handleMessage(msg)
	}
}

// claimStuckMessages takes over pending entries whose consumer went quiet.
// The PEL's delivery count is the authoritative attempt counter.
func (q *Queue) claimStuckMessages() {
	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	attemptsByID := make(map[string]int, len(pendingExt))
	var idsToReclaim []string
	for _, p := range pendingExt {
		if p.Idle >= q.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, p.ID)
			attemptsByID[p.ID] = int(p.RetryCount)
		}
	}
	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(
		q.config.Name,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.VisibilityTimeout,
		idsToReclaim...,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		msg := q.toMessage(streamMsg)
		msg.Attempts = attemptsByID[streamMsg.ID] + 1
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	if msg.Attempts > q.config.MaxAttempts {
		q.exhaust(msg)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		// Not ACKed; the entry stays pending and is reclaimed after the
		// visibility timeout. If that was the last attempt, exhaust now
		// rather than waiting for another reclaim cycle.
		if msg.Attempts >= q.config.MaxAttempts {
			q.exhaust(msg)
		}
		return
	}

	_ = q.ack(msg.ID)
}

func (q *Queue) exhaust(msg *Message) {
	logger.Warn("message exhausted attempt budget",
		"queue", q.config.Name, "message_id", msg.ID, "attempts", msg.Attempts)

	if q.config.OnExhausted != nil {
		ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
		q.config.OnExhausted(ctx, msg)
		cancel()
	}
	q.moveToDeadLetter(msg)
	_ = q.ack(msg.ID)
}

func (q *Queue) ack(messageID string) error {
	return q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, messageID)
}

func (q *Queue) moveToDeadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"attempts":       msg.Attempts,
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}
	_, _ = q.adapter.XAdd(q.dlqKey(), values)
}

func (q *Queue) toMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range streamMsg.Values {
		switch k {
		case "data":
			if data, ok := v.(string); ok {
				msg.Data = []byte(data)
			}
		case "timestamp":
			if ts, ok := v.(string); ok {
				if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
					msg.Timestamp = time.Unix(unix, 0)
				}
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				if val, ok := v.(string); ok {
					msg.Metadata[k[5:]] = val
				}
			}
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalMessages: total}

	if scheduled, err := q.adapter.ZCard(q.scheduledKey()); err == nil {
		stats.ScheduledMessages = scheduled
	}
	if pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	return stats, nil
}
