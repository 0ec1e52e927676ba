// Package dispatch provides a serial task queue backed by one worker goroutine.
//
// Tasks run strictly in submission order and never concurrently with each
// other. Ownership of a task moves into the queue on submission and the
// closure is released once it has run.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tphakala/go-cubeb/internal/coreaudio/critsec"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// DefaultDepth is the number of tasks that may wait before RunAsync blocks.
const DefaultDepth = 64

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New(errors.NewStd("dispatch queue closed")).
	Component("coreaudio.dispatch").
	Category(errors.CategoryState).
	Build()

// Queue is a serial execution queue.
type Queue struct {
	label  string
	tasks  chan func()
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	workerID  atomic.Uint64
	executed  atomic.Uint64
	closeOnce sync.Once
}

// New starts a queue whose worker runs until Close.
func New(label string, depth int) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}
	logger := logging.ForService("coreaudio")
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		label:  label,
		tasks:  make(chan func(), depth),
		done:   make(chan struct{}),
		logger: logger.With("component", "dispatch", "queue", label),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	q.workerID.Store(critsec.CurrentGoroutineID())
	for task := range q.tasks {
		q.execute(task)
	}
}

// execute runs one task, keeping the worker alive if it panics.
func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
		q.executed.Add(1)
	}()
	task()
}

// RunAsync submits task and returns without waiting for it.
func (q *Queue) RunAsync(task func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks <- task
	return nil
}

// RunSync submits task and blocks until it has run. Called from the worker
// itself, the task runs inline since waiting would deadlock.
func (q *Queue) RunSync(task func()) error {
	if q.IsWorker() {
		task()
		return nil
	}
	finished := make(chan struct{})
	if err := q.RunAsync(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// IsWorker reports whether the caller is running on the queue's worker.
func (q *Queue) IsWorker() bool {
	id := q.workerID.Load()
	return id != 0 && id == critsec.CurrentGoroutineID()
}

// Executed returns the number of tasks that have run.
func (q *Queue) Executed() uint64 {
	return q.executed.Load()
}

// Label returns the queue name.
func (q *Queue) Label() string {
	return q.label
}

// Close stops accepting tasks, runs the ones already queued and waits for the
// worker to exit. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
	})
	if !q.IsWorker() {
		<-q.done
	}
}
