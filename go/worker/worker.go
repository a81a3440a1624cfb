// Package worker drives accepted orders through their lifecycle: it
// drains the queue, routes each order to the best venue, builds and
// submits the swap transaction, and emits every status transition to
// both the history store and the subscriber hub.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	log "github.com/sirupsen/logrus"

	"github.com/riptidelabs/orderflow/go/chain"
	"github.com/riptidelabs/orderflow/go/dex"
	"github.com/riptidelabs/orderflow/go/history"
	"github.com/riptidelabs/orderflow/go/order"
	"github.com/riptidelabs/orderflow/go/queue"
)

// Router produces an execution plan for an order. *dex.Router satisfies
// it; tests substitute stubs.
type Router interface {
	FindBestRoute(ctx context.Context, job *order.Job) (dex.RoutePlan, error)
}

// History is the slice of the history store the worker writes through.
type History interface {
	AppendStatus(ctx context.Context, u history.Update) error
	RecordRoutingDecision(ctx context.Context, orderID, venue string, quote any) error
}

// Broadcaster fans a status message out to the order's subscriber.
type Broadcaster interface {
	SendStatus(orderID string, status order.Status, detail, link string)
}

// Submitter signs, submits, and confirms a built transaction.
type Submitter interface {
	Wallet() solana.PublicKey
	SendAndConfirm(ctx context.Context, built chain.BuiltTransaction, onSubmitted func(signature string)) (string, error)
}

// Worker executes one order per queue delivery. It holds no per-job
// state: everything an attempt needs rides on the job payload, so a
// redelivery resumes idempotently on any worker.
type Worker struct {
	router    Router
	history   History
	hub       Broadcaster
	submitter Submitter
	limiter   *FixedWindowLimiter
	explorer  chain.Explorer
}

// New wires a worker. The limiter gates routing, not intake: orders
// beyond the window's budget wait in the worker rather than being
// rejected.
func New(router Router, hist History, hub Broadcaster, submitter Submitter, limiter *FixedWindowLimiter, explorer chain.Explorer) *Worker {
	return &Worker{
		router:    router,
		history:   hist,
		hub:       hub,
		submitter: submitter,
		limiter:   limiter,
		explorer:  explorer,
	}
}

// Process handles one delivery of job. Errors propagate to the queue,
// which applies its retry policy; a *queue.Permanent error (an order
// whose tokens cannot match the winning pool) dead-letters immediately.
func (w *Worker) Process(ctx context.Context, job *order.Job) error {
	var started = time.Now()

	w.emit(ctx, job, history.Update{Status: order.StatusQueued})
	w.emit(ctx, job, history.Update{Status: order.StatusRouting})

	if err := w.limiter.Acquire(ctx); err != nil {
		// Shutdown while gated: hand the job back without failing it.
		return fmt.Errorf("awaiting a routing slot: %w", err)
	}

	plan, err := w.router.FindBestRoute(ctx, job)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("routing order: %w", err))
	}
	if err = w.history.RecordRoutingDecision(ctx, job.OrderID, plan.Venue.Name(), plan.Quote); err != nil {
		return w.fail(ctx, job, err)
	}

	w.emit(ctx, job, history.Update{Status: order.StatusBuilding, Venue: plan.Venue.Name()})

	built, err := dex.BuildTransaction(ctx, plan, w.submitter.Wallet())
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("building %s swap: %w", plan.Venue.Name(), err))
	}

	sig, err := w.submitter.SendAndConfirm(ctx, built, func(signature string) {
		// First signature receipt. The job carries it from here on, and
		// submitted is emitted exactly once even across redeliveries.
		job.Signature = signature
		var link = w.explorer.TxLink(signature)
		w.emit(ctx, job, history.Update{
			Status:       order.StatusSubmitted,
			Detail:       signature,
			Link:         link,
			Venue:        plan.Venue.Name(),
			TxHash:       signature,
			ExplorerLink: link,
		})
	})
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("submitting transaction: %w", err))
	}

	var link = w.explorer.TxLink(sig)
	var executed = int64(plan.Quote.EstimatedOut)
	w.emit(ctx, job, history.Update{
		Status:         order.StatusConfirmed,
		Detail:         sig,
		Link:           link,
		TxHash:         sig,
		ExplorerLink:   link,
		ExecutedAmount: &executed,
	})

	ordersTotal.WithLabelValues("confirmed").Inc()
	executeDuration.Observe(time.Since(started).Seconds())
	log.WithFields(log.Fields{
		"orderId":   job.OrderID,
		"venue":     plan.Venue.Name(),
		"signature": sig,
		"took":      time.Since(started).String(),
	}).Info("order confirmed")
	return nil
}

// JobFailed observes a job the queue will not redeliver. The final
// attempt already emitted failed; this re-emission covers an attempt
// that crashed between failing and recording, and refreshes the detail
// subscribers see.
func (w *Worker) JobFailed(ctx context.Context, job *order.Job, err error) {
	w.emit(ctx, job, history.Update{
		Status:    order.StatusFailed,
		Detail:    failureDetail(err),
		LastError: err.Error(),
	})
}

// emit records one lifecycle transition: at most once per status and
// order (failed excepted), appended to history and broadcast to the
// hub in the same order.
func (w *Worker) emit(ctx context.Context, job *order.Job, u history.Update) {
	if !job.MarkEmitted(u.Status) {
		return
	}
	u.OrderID = job.OrderID
	if err := w.history.AppendStatus(ctx, u); err != nil {
		log.WithFields(log.Fields{
			"orderId": job.OrderID,
			"status":  u.Status,
			"error":   err,
		}).Warn("failed to record status transition")
	}
	w.hub.SendStatus(job.OrderID, u.Status, u.Detail, u.Link)
}

// fail records the error on the job, emits failed, and returns the
// error for the queue's retry policy. Redeliveries may emit failed
// again with a refreshed detail.
func (w *Worker) fail(ctx context.Context, job *order.Job, err error) error {
	job.LastError = err.Error()
	w.emit(ctx, job, history.Update{
		Status:    order.StatusFailed,
		Detail:    failureDetail(err),
		LastError: err.Error(),
	})
	ordersTotal.WithLabelValues("failed").Inc()

	log.WithFields(log.Fields{"orderId": job.OrderID, "error": err}).
		Warn("order attempt failed")

	if errors.Is(err, dex.ErrInvalidDirection) {
		// Retrying the same tokens against the same pool can only
		// repeat the outcome.
		return queue.Permanent(err)
	}
	return err
}

// failureDetail renders an error for subscribers: short, with the
// routing case spelled out per venue.
func failureDetail(err error) string {
	var noQuotes *dex.NoQuotesError
	if errors.As(err, &noQuotes) {
		var parts = make([]string, len(noQuotes.Outcomes))
		for i, o := range noQuotes.Outcomes {
			parts[i] = fmt.Sprintf("%s: %s", o.Venue, o.Err)
		}
		return "Unable to fetch quotes: " + strings.Join(parts, "; ")
	}
	return err.Error()
}
