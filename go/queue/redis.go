package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/riptidelabs/orderflow/go/order"
)

// defaultKeyPrefix namespaces every queue key in Redis.
const defaultKeyPrefix = "orderflow:orders"

// promoteInterval is how often due delayed jobs move back to the wait
// list, and the upper bound on extra latency a retry suffers beyond its
// scheduled backoff.
const promoteInterval = time.Second

// dequeueBlock bounds a single blocking pop so consumers notice
// cancellation promptly.
const dequeueBlock = 5 * time.Second

// Job states recorded on the per-job hash.
const (
	stateWait      = "wait"
	stateActive    = "active"
	stateDelayed   = "delayed"
	stateCompleted = "completed"
	stateDead      = "dead"
)

// Redis is the production Queue driver. Layout under the key prefix:
//
//	wait      list of order IDs ready for a consumer
//	active    list of order IDs currently being processed
//	delayed   zset of order IDs scored by their retry-ready time
//	completed list of finished order IDs, newest first, trimmed
//	dead      list of dead-lettered order IDs, newest first, trimmed
//	job:<id>  hash: payload, attempts, state, lastError, updatedAt
//
// A consumer moves an ID wait -> active atomically (BLMOVE), so a crash
// leaves the ID on active; Consume returns such orphans to wait before
// starting, which is what makes delivery at-least-once.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	policy   RetryPolicy
	failedFn FailedFunc
}

// NewRedis wraps client as a queue under the default key prefix.
func NewRedis(client redis.UniversalClient, policy RetryPolicy) *Redis {
	return &Redis{client: client, prefix: defaultKeyPrefix, policy: policy}
}

func (q *Redis) key(parts ...string) string {
	var k = q.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Redis) Enqueue(ctx context.Context, job *order.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.OrderID, err)
	}

	var pipe = q.client.TxPipeline()
	pipe.HSet(ctx, q.key("job", job.OrderID),
		"payload", payload,
		"attempts", 0,
		"state", stateWait,
		"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.LPush(ctx, q.key(stateWait), job.OrderID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.OrderID, err)
	}
	return nil
}

func (q *Redis) NotifyFailed(fn FailedFunc) { q.failedFn = fn }

func (q *Redis) Consume(tasks *task.Group, processor Processor, concurrency int) {
	if err := q.requeueOrphans(tasks.Context()); err != nil {
		log.WithField("error", err).Warn("failed to requeue orphaned active jobs")
	}

	tasks.Queue("queue.redis.promote", func() error {
		return q.promoteLoop(tasks.Context())
	})
	for i := 0; i < concurrency; i++ {
		tasks.Queue(fmt.Sprintf("queue.redis.consume(%d)", i), func() error {
			return q.consumeLoop(tasks.Context(), processor)
		})
	}
}

// requeueOrphans returns jobs a prior process left on the active list
// back to wait, so a crash mid-job means redelivery rather than loss.
func (q *Redis) requeueOrphans(ctx context.Context) error {
	ids, err := q.client.LRange(ctx, q.key(stateActive), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("listing active jobs: %w", err)
	}
	for _, id := range ids {
		var pipe = q.client.TxPipeline()
		pipe.LRem(ctx, q.key(stateActive), 1, id)
		pipe.RPush(ctx, q.key(stateWait), id)
		pipe.HSet(ctx, q.key("job", id), "state", stateWait)
		if _, err = pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeueing orphaned job %s: %w", id, err)
		}
		log.WithField("orderId", id).Info("returned orphaned job to the wait list")
	}
	return nil
}

// promoteLoop moves delayed jobs whose backoff has elapsed back onto
// the wait list.
func (q *Redis) promoteLoop(ctx context.Context) error {
	var ticker = time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var now = strconv.FormatInt(time.Now().UnixMilli(), 10)
		ids, err := q.client.ZRangeByScore(ctx, q.key(stateDelayed), &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithField("error", err).Warn("polling delayed jobs failed")
			continue
		}
		for _, id := range ids {
			var pipe = q.client.TxPipeline()
			pipe.ZRem(ctx, q.key(stateDelayed), id)
			pipe.LPush(ctx, q.key(stateWait), id)
			pipe.HSet(ctx, q.key("job", id), "state", stateWait)
			if _, err = pipe.Exec(ctx); err != nil {
				log.WithFields(log.Fields{"orderId": id, "error": err}).
					Warn("promoting delayed job failed")
			}
		}
	}
}

func (q *Redis) consumeLoop(ctx context.Context, processor Processor) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		id, err := q.client.BLMove(ctx,
			q.key(stateWait), q.key(stateActive), "RIGHT", "LEFT", dequeueBlock).Result()
		if errors.Is(err, redis.Nil) {
			continue // Nothing waiting; poll again.
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithField("error", err).Warn("dequeue failed; backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		q.process(ctx, id, processor)
	}
}

func (q *Redis) process(ctx context.Context, id string, processor Processor) {
	var jobKey = q.key("job", id)

	payload, err := q.client.HGet(ctx, jobKey, "payload").Result()
	if err != nil {
		log.WithFields(log.Fields{"orderId": id, "error": err}).
			Error("dropping job with no payload hash")
		q.client.LRem(ctx, q.key(stateActive), 1, id)
		return
	}
	var job = new(order.Job)
	if err = json.Unmarshal([]byte(payload), job); err != nil {
		log.WithFields(log.Fields{"orderId": id, "error": err}).
			Error("dropping job with undecodable payload")
		q.client.LRem(ctx, q.key(stateActive), 1, id)
		return
	}

	attempts, err := q.client.HIncrBy(ctx, jobKey, "attempts", 1).Result()
	if err != nil {
		attempts = 1
	}
	q.client.HSet(ctx, jobKey, "state", stateActive)

	var started = time.Now()
	var procErr = processor(ctx, job)
	processDuration.WithLabelValues("redis").Observe(time.Since(started).Seconds())

	// Persist the mutated payload so a redelivery resumes from the
	// statuses this attempt already emitted.
	if updated, err := json.Marshal(job); err == nil {
		q.client.HSet(ctx, jobKey, "payload", updated,
			"updatedAt", time.Now().UTC().Format(time.RFC3339Nano))
	}

	if procErr == nil {
		jobsTotal.WithLabelValues("redis", "completed").Inc()
		q.settle(ctx, id, stateCompleted, "")
		return
	}

	if IsPermanent(procErr) || q.policy.Exhausted(int(attempts)) {
		jobsTotal.WithLabelValues("redis", "dead").Inc()
		log.WithFields(log.Fields{
			"orderId":  id,
			"attempts": attempts,
			"error":    procErr,
		}).Warn("job exhausted its retries; dead-lettering")
		q.settle(ctx, id, stateDead, procErr.Error())
		if q.failedFn != nil {
			q.failedFn(ctx, job, procErr)
		}
		return
	}

	jobsTotal.WithLabelValues("redis", "retried").Inc()
	var delay = q.policy.Delay(int(attempts))
	log.WithFields(log.Fields{
		"orderId": id,
		"attempt": attempts,
		"backoff": delay.String(),
		"error":   procErr,
	}).Info("job failed; scheduling retry")

	var pipe = q.client.TxPipeline()
	pipe.LRem(ctx, q.key(stateActive), 1, id)
	pipe.ZAdd(ctx, q.key(stateDelayed), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	pipe.HSet(ctx, jobKey, "state", stateDelayed, "lastError", procErr.Error())
	if _, err = pipe.Exec(ctx); err != nil {
		log.WithFields(log.Fields{"orderId": id, "error": err}).
			Error("scheduling retry failed; job remains on the active list")
	}
}

// settle moves a finished job off the active list and onto its terminal
// record list, trimmed to the retention cap.
func (q *Redis) settle(ctx context.Context, id, state, lastError string) {
	var pipe = q.client.TxPipeline()
	pipe.LRem(ctx, q.key(stateActive), 1, id)
	pipe.LPush(ctx, q.key(state), id)
	pipe.LTrim(ctx, q.key(state), 0, retainRecords-1)
	if lastError != "" {
		pipe.HSet(ctx, q.key("job", id), "state", state, "lastError", lastError)
	} else {
		pipe.HSet(ctx, q.key("job", id), "state", state)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithFields(log.Fields{"orderId": id, "state": state, "error": err}).
			Warn("recording job outcome failed")
	}
}

func (q *Redis) Close() error { return q.client.Close() }
