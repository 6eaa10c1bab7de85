package worker

import (
	"errors"
	"sync"

	"github.com/tenantops/announcer/pkg/logger"
)

type Handler = func(workerIndex int, job interface{})

// Manager is a fixed-size goroutine pool fed by a buffered job channel.
// Delivery jobs popped off the queue consumers are executed here so a slow
// transport call never blocks the consumer poll loop.
type Manager struct {
	bufferSize int
	jobs       chan interface{}
	numWorkers int
	quit       chan struct{}
	do         Handler
	waiter     *sync.WaitGroup
}

// NewManager builds a pool of numWorkers goroutines. If jobs is nil a fresh
// buffered channel is created; passing a channel lets multiple managers share
// one feed. The channel is never closed by the manager because other
// producers may still hold it.
func NewManager(bufferSize, numWorkers int, jobs chan interface{}) *Manager {
	if jobs == nil {
		jobs = make(chan interface{}, bufferSize)
	}
	return &Manager{
		bufferSize: bufferSize,
		numWorkers: numWorkers,
		jobs:       jobs,
		quit:       make(chan struct{}),
		waiter:     &sync.WaitGroup{},
	}
}

func (m *Manager) Backlog() int64 {
	if m.jobs == nil {
		return 0
	}
	return int64(len(m.jobs))
}

func (m *Manager) SetWorker(h Handler) {
	m.do = h
}

// Enqueue publishes a job onto the pool's channel. Blocks when the buffer
// is full, which applies backpressure to the queue consumers.
func (m *Manager) Enqueue(job interface{}) {
	m.jobs <- job
}

// Start blocks until Exit is called, running jobs across the pool.
func (m *Manager) Start() error {
	m.waiter.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go func(index int) {
			defer m.waiter.Done()
			for {
				select {
				case job := <-m.jobs:
					m.do(index, job)
				case <-m.quit:
					return
				}
			}
		}(i)
	}
	m.waiter.Wait()
	return errors.New("workers terminated")
}

// Exit stops all workers. Jobs still buffered in the channel are left there.
func (m *Manager) Exit() {
	logger.Info("worker manager shutting down")
	close(m.quit)
}
