package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handler executes one task; a returned error schedules a retry
type Handler func(ctx context.Context, t Task) error

// Backoff between retries, indexed by attempt
var retryBackoff = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

var (
	tasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "tasks",
		Name:      "processed_total",
		Help:      "Background tasks processed, by kind and result.",
	}, []string{"kind", "result"})

	tasksQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tusk",
		Subsystem: "tasks",
		Name:      "queued",
		Help:      "Tasks waiting for a worker.",
	})
)

func init() {
	prometheus.MustRegister(tasksProcessed, tasksQueued)
}

// Queue is a bounded in-process worker pool with delayed submission and retries
type Queue struct {
	mu          sync.RWMutex
	handlers    map[Kind]Handler
	ch          chan Task
	workers     int
	maxAttempts int
	closed      bool
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// NewQueue creates a queue holding at most depth pending tasks
func NewQueue(depth, workers, maxAttempts int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		handlers:    make(map[Kind]Handler),
		ch:          make(chan Task, depth),
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

// Register binds a handler to a task kind. Call before Start.
func (q *Queue) Register(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Start launches the workers
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	log.Printf("Tasks: Starting %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Submit enqueues t without blocking. Delayed tasks are enqueued when their delay elapses.
// Returns false if the queue is full or stopped.
func (q *Queue) Submit(t Task) bool {
	if t.Delay > 0 {
		delay := t.Delay
		t.Delay = 0
		time.AfterFunc(delay, func() { q.Submit(t) })
		return true
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- t:
		tasksQueued.Inc()
		return true
	default:
		log.Printf("Tasks: Queue full, dropping %s task for %s", t.Kind, t.URI)
		tasksProcessed.WithLabelValues(string(t.Kind), "dropped").Inc()
		return false
	}
}

// Stop refuses new tasks and waits for the workers to drain the queue
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Tasks: All workers stopped")
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		return fmt.Errorf("tasks did not drain: %w", ctx.Err())
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.ch {
		tasksQueued.Dec()
		q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t Task) {
	q.mu.RLock()
	h, ok := q.handlers[t.Kind]
	q.mu.RUnlock()
	if !ok {
		log.Printf("Tasks: No handler registered for %s", t.Kind)
		tasksProcessed.WithLabelValues(string(t.Kind), "unhandled").Inc()
		return
	}

	err := h(ctx, t)
	if err == nil {
		tasksProcessed.WithLabelValues(string(t.Kind), "ok").Inc()
		return
	}

	t.Attempt++
	if t.Attempt >= q.maxAttempts {
		log.Printf("Tasks: Giving up on %s task for %s after %d attempts: %v", t.Kind, t.URI, t.Attempt, err)
		tasksProcessed.WithLabelValues(string(t.Kind), "failed").Inc()
		return
	}

	t.Delay = retryBackoff[min(t.Attempt-1, len(retryBackoff)-1)]
	log.Printf("Tasks: %s task for %s failed (attempt %d), retry in %v: %v", t.Kind, t.URI, t.Attempt, t.Delay, err)
	tasksProcessed.WithLabelValues(string(t.Kind), "retry").Inc()
	q.Submit(t)
}
