package background

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work executed on a scheduler worker. It is an alias
// so plain func() values and consumer-side scheduler interfaces match.
type Job = func()

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Scheduler runs jobs on a fixed pool of workers. Immediate jobs go
// straight onto the queue; delayed and periodic jobs are armed with a
// timer and enqueued when it fires.
type Scheduler struct {
	queue   chan namedJob
	workers int
	logger  Logger

	mu      sync.Mutex
	pending map[string]func() // token -> disarm
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type namedJob struct {
	name string
	fn   Job
}

// New creates a scheduler with the given worker count. Workers do not
// start until Start is called.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:   make(chan namedJob, 256),
		workers: workers,
		logger:  noopLogger{},
		pending: make(map[string]func()),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Debug("scheduler started", "workers", s.workers)
}

// Stop disarms all pending timers, stops accepting work and waits for
// in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for token, disarm := range s.pending {
		disarm()
		delete(s.pending, token)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// RunNow queues a job for immediate execution. The name appears in panic
// logs only. Returns false when the scheduler is stopped or the queue is
// full; the job is dropped in either case.
func (s *Scheduler) RunNow(name string, fn Job) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.queue <- namedJob{name: name, fn: fn}:
		return true
	default:
		s.logger.Error("scheduler queue full, dropping job", "job", name)
		return false
	}
}

// RunIn schedules a job to run once after the given delay. The returned
// token cancels the job if it has not yet been queued.
func (s *Scheduler) RunIn(name string, delay time.Duration, fn Job) string {
	token := uuid.NewString()
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.pending[token]
		delete(s.pending, token)
		s.mu.Unlock()
		if live {
			s.RunNow(name, fn)
		}
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		timer.Stop()
		return token
	}
	s.pending[token] = func() { timer.Stop() }
	s.mu.Unlock()
	return token
}

// RunEvery schedules a job to run repeatedly at the given interval, first
// firing one interval from now. The returned token stops the cycle.
func (s *Scheduler) RunEvery(name string, interval time.Duration, fn Job) string {
	token := uuid.NewString()
	done := make(chan struct{})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return token
	}
	var once sync.Once
	s.pending[token] = func() { once.Do(func() { close(done) }) }
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunNow(name, fn)
			case <-done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return token
}

// Cancel disarms a pending delayed or periodic job. Unknown or already
// fired tokens are ignored.
func (s *Scheduler) Cancel(token string) {
	s.mu.Lock()
	disarm, ok := s.pending[token]
	delete(s.pending, token)
	s.mu.Unlock()
	if ok {
		disarm()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			s.execute(job)
		case <-s.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-s.queue:
					s.execute(job)
				default:
					return
				}
			}
		}
	}
}

// execute runs one job with panic recovery so a misbehaving callback
// cannot take down the worker.
func (s *Scheduler) execute(job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic recovered", "job", job.name, "panic", r)
		}
	}()
	job.fn()
}
