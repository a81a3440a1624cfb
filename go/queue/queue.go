// Package queue moves order jobs from intake to the execution workers
// with at-least-once delivery.
//
// Two drivers share one contract: a Redis driver for production, where
// jobs survive process restarts and retries are scheduled through a
// delayed set, and an in-memory driver for development and tests. A job
// handed to a processor is redelivered, after backoff, until the
// processor succeeds, the attempt budget is spent, or the error is
// marked Permanent.
package queue

import (
	"context"
	"errors"
	"time"

	"go.gazette.dev/core/task"

	"github.com/riptidelabs/orderflow/go/order"
)

// Processor handles one delivery of a job. Returning an error schedules
// a retry (or dead-letters the job once attempts are exhausted).
// Processors must tolerate redelivery of a job they partially handled.
type Processor func(ctx context.Context, job *order.Job) error

// FailedFunc observes a job that exhausted its attempts (or failed
// permanently) and will not be delivered again.
type FailedFunc func(ctx context.Context, job *order.Job, err error)

// Queue is the pipeline's reliable job transport.
type Queue interface {
	// Enqueue makes job available to consumers. The job is owned by the
	// queue until a consumer dequeues it.
	Enqueue(ctx context.Context, job *order.Job) error
	// Consume starts the consumer loops on tasks: `concurrency` workers
	// each processing one job at a time, plus any driver bookkeeping
	// loops. Consumers drain when the task group is cancelled.
	Consume(tasks *task.Group, processor Processor, concurrency int)
	// NotifyFailed registers the terminal-failure observer. Must be
	// called before Consume.
	NotifyFailed(fn FailedFunc)
	// Close releases driver resources.
	Close() error
}

// RetryPolicy schedules redelivery of failed jobs with exponential
// backoff: attempt n waits Initial * Factor^(n-1).
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
}

// DefaultRetryPolicy matches the deployed queue settings: three
// attempts, 2s initial backoff, doubling.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 2 * time.Second, Factor: 2}

// Delay returns the backoff before redelivering a job that has already
// been attempted `attempt` times (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	var d = float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	return time.Duration(d)
}

// Exhausted reports whether a job attempted `attempt` times has no
// retries left.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.Attempts
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the job dead-letters on this
// attempt regardless of the retry budget. Used for failures that would
// only repeat, like an order whose tokens don't match any pool
// direction.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
