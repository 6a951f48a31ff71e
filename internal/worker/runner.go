package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/samber/do"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed    = errors.New("runner is shut down")
	ErrQueueFull = errors.New("runner queue is full")
)

var _ do.Shutdownable = (*Runner)(nil)

// Job is a unit of background work.
type Job func(ctx context.Context) error

type task struct {
	key  string
	name string
	job  Job
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Runner serialises work per key while different keys run concurrently.
// Submitted jobs run on a bounded pool and take the same per-key lock as Do.
type Runner struct {
	locksMu sync.Mutex
	locks   map[string]*keyedLock

	queueMu sync.RWMutex
	queue   chan task
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// ConversationKey is the lock key for turns of one conversation.
func ConversationKey(id uint) string {
	return fmt.Sprintf("conversation:%d", id)
}

// InteractionKey is the lock key for analysis of one inbound interaction.
func InteractionKey(id uint) string {
	return fmt.Sprintf("interaction:%d", id)
}

// DefaultWorkers mirrors the evaluation pool sizing: NumCPU clamped to [2, 12].
func DefaultWorkers() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}

// New starts a runner with the given number of background workers and queue capacity.
func New(workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		locks:  make(map[string]*keyedLock),
		queue:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.group.Go(r.work)
	}
	return r
}

// Do runs fn while holding the lock for key.
func (r *Runner) Do(ctx context.Context, key string, fn Job) error {
	unlock := r.lock(key)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Submit queues fn to run in the background under the lock for key. It never blocks.
func (r *Runner) Submit(key, name string, fn Job) error {
	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- task{key: key, name: name, job: fn}:
		return nil
	default:
		logrus.WithFields(logrus.Fields{"key": key, "job": name}).Warn("worker queue is full")
		return ErrQueueFull
	}
}

// Shutdown stops accepting work, drains the queue and waits for running jobs.
func (r *Runner) Shutdown() error {
	r.queueMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.queueMu.Unlock()

	err := r.group.Wait()
	r.cancel()
	return err
}

func (r *Runner) work() error {
	for t := range r.queue {
		logger := logrus.WithFields(logrus.Fields{"key": t.key, "job": t.name})
		if err := r.Do(r.ctx, t.key, t.job); err != nil {
			logger.WithError(err).Error("background job failed")
			continue
		}
		logger.Debug("background job finished")
	}
	return nil
}

func (r *Runner) lock(key string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyedLock{}
		r.locks[key] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.locksMu.Unlock()
	}
}

func (r *Runner) pendingLocks() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}
