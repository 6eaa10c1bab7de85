package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenantops/announcer/internal/config"
	"github.com/tenantops/announcer/internal/queue"
	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/redis"
	"github.com/tenantops/announcer/pkg/worker"
)

const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// The watch queue never legitimately exhausts; its attempt budget only
// exists because the queue requires one, and the exhaustion hook re-arms
// the chain anyway.
const watchMaxAttempts = 1_000_000

// Processor handles one job type end to end, including the accounting that
// must run when the attempt budget is spent.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) error
	GetType() string
	HandleExhausted(ctx context.Context, msg *queue.Message)
}

// Service owns the three job queues and routes their messages through a
// shared worker pool. Each queue carries its own retry policy; the only
// thing they share is the pool and the shutdown sequence.
type Service struct {
	adapter redis.Adapter

	fanout   Processor
	delivery Processor
	watch    Processor

	fanoutQueue  *queue.Queue
	deliverQueue *queue.Queue
	watchQueue   *queue.Queue

	timeouts map[string]time.Duration

	metrics *ServiceMetrics
	worker  *worker.Manager
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates the three queues with their per-job-type policies. The
// exhaustion hooks close over the service because processors are registered
// after queue construction: fan-out publishes into the deliver and watch
// queues, so the queues must exist first.
func NewService(adapter redis.Adapter, cfg *config.Config) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		adapter: adapter,
		metrics: NewServiceMetrics(),
		worker:  worker.NewManager(10_000, 100, nil),
		ctx:     ctx,
		cancel:  cancel,
		timeouts: map[string]time.Duration{
			"fanout":   cfg.FanoutTimeout,
			"delivery": cfg.DeliveryTimeout,
			"watch":    cfg.WatchTimeout,
		},
	}

	base := queue.Config{
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  cfg.QueueConsumerName,
		PollInterval:  cfg.QueuePollInterval,
		BatchSize:     cfg.QueueBatchSize,
		MaxLen:        cfg.QueueMaxLen,
		EnableDLQ:     cfg.QueueEnableDLQ,
	}

	fanoutCfg := base
	fanoutCfg.Name = QueueFanout
	fanoutCfg.MaxAttempts = cfg.FanoutAttempts
	fanoutCfg.VisibilityTimeout = cfg.FanoutTimeout
	fanoutCfg.OnExhausted = func(ctx context.Context, msg *queue.Message) {
		if s.fanout != nil {
			s.fanout.HandleExhausted(ctx, msg)
		}
	}

	deliverCfg := base
	deliverCfg.Name = QueueDeliver
	deliverCfg.MaxAttempts = cfg.DeliveryAttempts
	deliverCfg.VisibilityTimeout = cfg.DeliveryVisibilityTimeout
	deliverCfg.OnExhausted = func(ctx context.Context, msg *queue.Message) {
		if s.delivery != nil {
			s.delivery.HandleExhausted(ctx, msg)
		}
	}

	watchCfg := base
	watchCfg.Name = QueueWatch
	watchCfg.MaxAttempts = watchMaxAttempts
	watchCfg.VisibilityTimeout = 2 * cfg.WatchTimeout
	watchCfg.OnExhausted = func(ctx context.Context, msg *queue.Message) {
		if s.watch != nil {
			s.watch.HandleExhausted(ctx, msg)
		}
	}

	var err error
	if s.fanoutQueue, err = queue.New(adapter, fanoutCfg); err != nil {
		cancel()
		return nil, fmt.Errorf("create fanout queue: %w", err)
	}
	if s.deliverQueue, err = queue.New(adapter, deliverCfg); err != nil {
		cancel()
		return nil, fmt.Errorf("create deliver queue: %w", err)
	}
	if s.watchQueue, err = queue.New(adapter, watchCfg); err != nil {
		cancel()
		return nil, fmt.Errorf("create watch queue: %w", err)
	}

	return s, nil
}

// FanoutPublisher exposes the fan-out queue for the API layer: dispatching
// an announcement is just publishing a FanoutJob.
func (s *Service) FanoutPublisher() Publisher { return s.fanoutQueue }

func (s *Service) DeliverPublisher() Publisher { return s.deliverQueue }

func (s *Service) WatchPublisher() Publisher { return s.watchQueue }

// RegisterProcessors binds the three job handlers. Must be called before
// Start.
func (s *Service) RegisterProcessors(fanout, delivery, watch Processor) {
	s.fanout = fanout
	s.delivery = delivery
	s.watch = watch
	logger.Info("Registered processors",
		"fanout", fanout.GetType(), "delivery", delivery.GetType(), "watch", watch.GetType())
}

func (s *Service) Start() error {
	if s.fanout == nil || s.delivery == nil || s.watch == nil {
		return fmt.Errorf("processors must be registered before Start")
	}

	logger.Info("Starting dispatch service...")

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	consumers := []struct {
		q *queue.Queue
		p Processor
	}{
		{s.fanoutQueue, s.fanout},
		{s.deliverQueue, s.delivery},
		{s.watchQueue, s.watch},
	}
	for _, c := range consumers {
		proc := c.p
		if err := c.q.Consume(func(ctx context.Context, msg *queue.Message) error {
			return s.dispatch(ctx, proc, msg)
		}); err != nil {
			return fmt.Errorf("start consumer for %s: %w", proc.GetType(), err)
		}
		logger.Info("Started consumer", "type", proc.GetType())
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Dispatch service started", "queues", 3, "workers", 100)
	return nil
}

type jobResult struct {
	msg        *queue.Message
	processor  Processor
	resultChan chan error
	ctx        context.Context
}

// dispatch hands a message to the worker pool and blocks the queue's
// consumer goroutine until the pool reports back, so per-queue concurrency
// is still bounded by the pool.
func (s *Service) dispatch(ctx context.Context, proc Processor, msg *queue.Message) error {
	timeout := s.timeouts[proc.GetType()]
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	msgCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		processor:  proc,
		resultChan: make(chan error, 1),
		ctx:        msgCtx,
	}
	s.worker.Enqueue(job)

	select {
	case err := <-job.resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process %s job: %w", proc.GetType(), msgCtx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started",
			"worker", workerIndex, "type", jobRes.processor.GetType())
		return
	default:
	}

	start := time.Now()
	var resultErr error
	if err := jobRes.processor.Process(jobRes.ctx, jobRes.msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to process job", "worker", workerIndex,
			"type", jobRes.processor.GetType(), "error", err)
		resultErr = err
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result", "worker", workerIndex)
	}
}

func (s *Service) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("Service metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for _, q := range []*queue.Queue{s.fanoutQueue, s.deliverQueue, s.watchQueue} {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", q.Name(),
				"total", qStats.TotalMessages,
				"pending", qStats.PendingMessages,
				"scheduled", qStats.ScheduledMessages)
		}
	}
}

func (s *Service) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: redis connection error", "error", err)
		return
	}

	for _, q := range []*queue.Queue{s.fanoutQueue, s.deliverQueue, s.watchQueue} {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: queue stats unavailable", "queue", q.Name(), "error", err)
			continue
		}
		if stats.PendingMessages > 10_000 {
			logger.Warn("HEALTH CHECK WARNING: queue has high lag",
				"queue", q.Name(), "pending_messages", stats.PendingMessages)
		}
	}
}

// Stop drains the queues, then the worker pool, then the background tasks.
func (s *Service) Stop() {
	logger.Info("Shutting down dispatch service...")

	s.cancel()

	queues := []*queue.Queue{s.fanoutQueue, s.deliverQueue, s.watchQueue}
	stopChan := make(chan bool, len(queues))
	for _, q := range queues {
		go func(q *queue.Queue) {
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("Error stopping queue", "queue", q.Name(), "error", err)
			}
			stopChan <- true
		}(q)
	}
	for range queues {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("Dispatch service stopped")
}
