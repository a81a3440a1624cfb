// Package intake accepts raw order submissions: it validates the
// payload, assigns an identifier, seeds the history row, broadcasts
// pending, and hands the job to the queue.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/riptidelabs/orderflow/go/hub"
	"github.com/riptidelabs/orderflow/go/ids"
	"github.com/riptidelabs/orderflow/go/order"
	"github.com/riptidelabs/orderflow/go/queue"
)

// acceptedDetail seeds the pending entry of every order's history.
const acceptedDetail = "Order accepted"

// Issue is one validation finding, addressed by field path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError rejects a submission with the full set of issues
// found, so a client can fix everything in one round trip.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var buf bytes.Buffer
	buf.WriteString("invalid order payload:")
	for _, i := range e.Issues {
		fmt.Fprintf(&buf, " %s: %s;", i.Path, i.Message)
	}
	return buf.String()
}

// History is the slice of the store intake writes through.
type History interface {
	Insert(ctx context.Context, job *order.Job, detail string) error
}

// Service validates and admits orders.
type Service struct {
	history History
	queue   queue.Queue
	hub     *hub.Hub
}

// NewService wires an intake service.
func NewService(hist History, q queue.Queue, h *hub.Hub) *Service {
	return &Service{history: hist, queue: q, hub: h}
}

// rawOrder is the wire shape of a submission. Amount decodes as a
// json.Number so a fractional amount is rejected rather than truncated.
type rawOrder struct {
	TokenIn   *string      `json:"tokenIn"`
	TokenOut  *string      `json:"tokenOut"`
	Amount    *json.Number `json:"amount"`
	OrderType *string      `json:"orderType"`
}

// Submit validates raw, and on success returns the accepted job with
// its pending history row written, pending broadcast, and the job
// enqueued. A malformed or invalid payload returns *ValidationError.
func (s *Service) Submit(ctx context.Context, raw []byte) (*order.Job, error) {
	req, verr := parseOrder(raw)
	if verr != nil {
		return nil, verr
	}

	var job = &order.Job{
		Request:    req,
		OrderID:    ids.New(),
		ReceivedAt: time.Now().UTC(),
	}

	if err := s.history.Insert(ctx, job, acceptedDetail); err != nil {
		return nil, fmt.Errorf("recording order %s: %w", job.OrderID, err)
	}
	s.hub.SendStatus(job.OrderID, order.StatusPending, acceptedDetail, "")

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing order %s: %w", job.OrderID, err)
	}

	ordersAccepted.Inc()
	log.WithFields(log.Fields{
		"orderId":  job.OrderID,
		"tokenIn":  job.TokenIn,
		"tokenOut": job.TokenOut,
		"amount":   job.Amount,
	}).Info("order accepted")
	return job, nil
}

// parseOrder decodes and validates a submission, collecting every issue
// rather than stopping at the first.
func parseOrder(raw []byte) (order.Request, *ValidationError) {
	var in rawOrder
	var dec = json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&in); err != nil {
		return order.Request{}, &ValidationError{Issues: []Issue{
			{Path: "", Message: "body must be a JSON object"},
		}}
	}

	var issues []Issue
	var req order.Request

	if in.TokenIn == nil || *in.TokenIn == "" {
		issues = append(issues, Issue{Path: "tokenIn", Message: "must be a non-empty string"})
	} else {
		req.TokenIn = *in.TokenIn
	}
	if in.TokenOut == nil || *in.TokenOut == "" {
		issues = append(issues, Issue{Path: "tokenOut", Message: "must be a non-empty string"})
	} else {
		req.TokenOut = *in.TokenOut
	}
	if req.TokenIn != "" && req.TokenIn == req.TokenOut {
		issues = append(issues, Issue{Path: "tokenOut", Message: "must differ from tokenIn"})
	}

	if in.Amount == nil {
		issues = append(issues, Issue{Path: "amount", Message: "is required"})
	} else if amount, err := parseAmount(*in.Amount); err != nil {
		issues = append(issues, Issue{Path: "amount", Message: err.Error()})
	} else {
		req.Amount = amount
	}

	if in.OrderType == nil {
		issues = append(issues, Issue{Path: "orderType", Message: "is required"})
	} else if *in.OrderType != string(order.TypeMarket) {
		issues = append(issues, Issue{Path: "orderType", Message: `must be "market"`})
	} else {
		req.OrderType = order.TypeMarket
	}

	if len(issues) != 0 {
		return order.Request{}, &ValidationError{Issues: issues}
	}
	return req, nil
}

// parseAmount accepts a strictly positive integer in base units.
func parseAmount(n json.Number) (uint64, error) {
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("must be an integer in base units")
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return uint64(v), nil
}
