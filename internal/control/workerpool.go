package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
)

// task is a unit of work submitted to a workerPool.
type task func()

// workerPool runs device-touching control handlers (enumeration, load,
// library scan) on a small set of reusable goroutines instead of spawning
// one goroutine per request.
type workerPool struct {
	taskCount   int64
	workerCount int64
	maxIdleTime time.Duration
	maxWorkers  int

	taskQueue chan task
	workerSem chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	logger zerolog.Logger
}

// newWorkerPool creates a pool with up to maxWorkers goroutines and a
// queue of queueSize pending tasks. Workers idle for maxIdleTime exit,
// down to a floor of 2 persistent workers.
func newWorkerPool(name string, maxWorkers, queueSize int, maxIdleTime time.Duration) *workerPool {
	p := &workerPool{
		maxWorkers:  maxWorkers,
		maxIdleTime: maxIdleTime,
		taskQueue:   make(chan task, queueSize),
		workerSem:   make(chan struct{}, maxWorkers),
		shutdown:    make(chan struct{}),
		logger:      logging.Component("control-workerpool").With().Str("pool", name).Logger(),
	}
	go p.supervisor()
	return p
}

// NewDefaultWorkerPool sizes the pool Engine uses for device-touching
// handlers (enumeration, load_audio, scan_library) for a single local
// control server.
func NewDefaultWorkerPool() *workerPool {
	return newWorkerPool("control", 4, 32, 30*time.Second)
}

// Submit enqueues t, returning false if the queue is full or the pool is
// shutting down.
func (p *workerPool) Submit(t task) bool {
	select {
	case <-p.shutdown:
		return false
	case p.taskQueue <- t:
		p.ensureWorkerAvailable()
		return true
	default:
		return false
	}
}

func (p *workerPool) ensureWorkerAvailable() {
	current := atomic.LoadInt64(&p.workerCount)
	queueLen := len(p.taskQueue)
	if current == 0 || (queueLen > int(current) && current < int64(p.maxWorkers)) {
		select {
		case p.workerSem <- struct{}{}:
			p.startWorker()
		default:
		}
	}
}

func (p *workerPool) startWorker() {
	p.wg.Add(1)
	atomic.AddInt64(&p.workerCount, 1)

	go func() {
		defer func() {
			atomic.AddInt64(&p.workerCount, -1)
			<-p.workerSem
			p.wg.Done()
			if r := recover(); r != nil {
				p.logger.Error().Interface("panic", r).Msg("worker recovered from panic")
			}
		}()

		idleTimer := time.NewTimer(p.maxIdleTime)
		defer idleTimer.Stop()

		for {
			select {
			case <-p.shutdown:
				return
			case t, ok := <-p.taskQueue:
				if !ok {
					return
				}
				if !idleTimer.Stop() {
					<-idleTimer.C
				}
				idleTimer.Reset(p.maxIdleTime)

				func() {
					defer func() {
						if r := recover(); r != nil {
							p.logger.Error().Interface("panic", r).Msg("task execution panic recovered")
						}
					}()
					t()
				}()
				atomic.AddInt64(&p.taskCount, 1)
			case <-idleTimer.C:
				if atomic.LoadInt64(&p.workerCount) > 2 {
					return
				}
				idleTimer.Reset(p.maxIdleTime * 3)
			}
		}
	}()
}

func (p *workerPool) supervisor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.logger.Info().
				Int64("workers", atomic.LoadInt64(&p.workerCount)).
				Int64("tasks_processed", atomic.LoadInt64(&p.taskCount)).
				Int("queue_length", len(p.taskQueue)).
				Msg("pool statistics")
		}
	}
}

// Shutdown stops accepting new tasks. If wait is true it drains the queue
// and waits for in-flight workers to finish.
func (p *workerPool) Shutdown(wait bool) {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
		if wait {
			close(p.taskQueue)
			p.wg.Wait()
		}
	})
}
