package btle

import (
	"context"
)

// Outcome of an asynchronous add or write. Resolved exactly once, always on the driver queue.
type Outcome struct {
	queue    *Queue
	done     chan struct{}
	err      error
	resolved bool
}

func newOutcome(queue *Queue) *Outcome {
	return &Outcome{
		queue: queue,
		done:  make(chan struct{}),
	}
}

func (o *Outcome) resolve(err error) bool {
	if o.resolved {
		return false
	}
	o.resolved = true
	o.err = err
	close(o.done)
	return true
}

func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// only meaningful once Done is closed
func (o *Outcome) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the outcome resolves or ctx is done. Waiting from the
// driver queue would block the event that resolves it, so it fails instead.
func (o *Outcome) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.queue != nil && o.queue.IsCurrent(ctx) {
		select {
		case <-o.done:
			return o.err
		default:
			return ErrReentrantWait
		}
	}
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
