package btle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"

	"krypt.co/krbtle/common/util"
)

type queueKey struct{}

// identifies one job execution on one queue
type queueToken struct {
	queue *Queue
}

// Queue runs jobs one at a time, in submission order, on a dedicated goroutine.
// Every job receives a context marking it as running on the queue: RunSync
// called with that context executes inline instead of deadlocking.
type Queue struct {
	label string
	log   *logging.Logger

	mu     sync.Mutex
	jobs   []func(tok *queueToken)
	closed bool

	current atomic.Pointer[queueToken]
	wake    chan struct{}
	stopped chan struct{}
}

func NewQueue(label string, log *logging.Logger) *Queue {
	q := &Queue{
		label:   label,
		log:     log,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		tok := &queueToken{q}
		q.current.Store(tok)
		util.RecoverToLog(func() {
			job(tok)
		}, q.log)
		q.current.Store(nil)
	}
}

func (q *Queue) enqueue(job func(tok *queueToken)) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// IsCurrent reports whether ctx belongs to the job the queue is executing right now.
func (q *Queue) IsCurrent(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	tok, ok := ctx.Value(queueKey{}).(*queueToken)
	return ok && tok.queue == q && q.current.Load() == tok
}

func (q *Queue) RunSync(ctx context.Context, fn func(ctx context.Context)) (err error) {
	if q.IsCurrent(ctx) {
		fn(ctx)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	ok := q.enqueue(func(tok *queueToken) {
		defer close(done)
		fn(context.WithValue(ctx, queueKey{}, tok))
	})
	if !ok {
		err = ErrQueueClosed
		return
	}
	select {
	case <-done:
	case <-q.stopped:
		select {
		case <-done:
		default:
			err = ErrQueueClosed
		}
	}
	return
}

// Async never blocks; jobs submitted after Close are dropped.
func (q *Queue) Async(fn func(ctx context.Context)) {
	q.enqueue(func(tok *queueToken) {
		fn(context.WithValue(context.Background(), queueKey{}, tok))
	})
}

// Close drops queued jobs and stops the worker once the running job returns.
// Safe to call from a job.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.jobs = nil
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Done() <-chan struct{} {
	return q.stopped
}
