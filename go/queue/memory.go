package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/riptidelabs/orderflow/go/order"
)

// memoryBuffer bounds how many jobs may await a consumer before
// Enqueue refuses. Far beyond anything a test or dev session produces.
const memoryBuffer = 1024

// retainRecords caps the completed and dead job lists kept for
// inspection.
const retainRecords = 1000

type memoryDelivery struct {
	job *order.Job
	// attempts already made before this delivery.
	attempts int
}

// Memory is the in-process Queue driver. Delivery, backoff, and
// dead-lettering match the Redis driver; nothing survives a restart.
type Memory struct {
	policy RetryPolicy
	ready  chan memoryDelivery

	mu        sync.Mutex
	failedFn  FailedFunc
	completed []*order.Job
	dead      []*order.Job
	closed    bool
}

// NewMemory returns an in-memory queue with the given retry policy.
func NewMemory(policy RetryPolicy) *Memory {
	return &Memory{
		policy: policy,
		ready:  make(chan memoryDelivery, memoryBuffer),
	}
}

func (m *Memory) Enqueue(_ context.Context, job *order.Job) error {
	select {
	case m.ready <- memoryDelivery{job: job}:
		return nil
	default:
		return fmt.Errorf("memory queue is full (%d jobs waiting)", memoryBuffer)
	}
}

func (m *Memory) NotifyFailed(fn FailedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedFn = fn
}

func (m *Memory) Consume(tasks *task.Group, processor Processor, concurrency int) {
	for i := 0; i < concurrency; i++ {
		tasks.Queue(fmt.Sprintf("queue.memory.consume(%d)", i), func() error {
			for {
				select {
				case <-tasks.Context().Done():
					return nil
				case d := <-m.ready:
					m.process(tasks.Context(), d, processor)
				}
			}
		})
	}
}

func (m *Memory) process(ctx context.Context, d memoryDelivery, processor Processor) {
	var started = time.Now()
	var attempt = d.attempts + 1
	var err = processor(ctx, d.job)
	processDuration.WithLabelValues("memory").Observe(time.Since(started).Seconds())

	if err == nil {
		jobsTotal.WithLabelValues("memory", "completed").Inc()
		m.retain(&m.completed, d.job)
		return
	}

	if IsPermanent(err) || m.policy.Exhausted(attempt) {
		jobsTotal.WithLabelValues("memory", "dead").Inc()
		log.WithFields(log.Fields{
			"orderId":  d.job.OrderID,
			"attempts": attempt,
			"error":    err,
		}).Warn("job exhausted its retries; dead-lettering")
		m.retain(&m.dead, d.job)

		m.mu.Lock()
		var fn = m.failedFn
		m.mu.Unlock()
		if fn != nil {
			fn(ctx, d.job, err)
		}
		return
	}

	jobsTotal.WithLabelValues("memory", "retried").Inc()
	var delay = m.policy.Delay(attempt)
	log.WithFields(log.Fields{
		"orderId": d.job.OrderID,
		"attempt": attempt,
		"backoff": delay.String(),
		"error":   err,
	}).Info("job failed; scheduling retry")

	time.AfterFunc(delay, func() {
		m.mu.Lock()
		var closed = m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.ready <- memoryDelivery{job: d.job, attempts: attempt}:
		default:
			log.WithField("orderId", d.job.OrderID).
				Error("dropping retry of a job: queue is full")
		}
	})
}

// Completed returns the retained records of successfully processed jobs,
// oldest first.
func (m *Memory) Completed() []*order.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*order.Job(nil), m.completed...)
}

// Dead returns the retained records of dead-lettered jobs, oldest first.
func (m *Memory) Dead() []*order.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*order.Job(nil), m.dead...)
}

func (m *Memory) retain(list *[]*order.Job, job *order.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*list = append(*list, job)
	if n := len(*list); n > retainRecords {
		*list = (*list)[n-retainRecords:]
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
