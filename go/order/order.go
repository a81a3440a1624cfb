// Package order defines the lifecycle of a swap order as it moves through
// the execution pipeline: the submitted request, the queued job envelope,
// and the status vocabulary broadcast to subscribers and persisted to the
// order history.
package order

import (
	"time"
)

// Type is the category of an order. Only market orders are supported.
type Type string

// TypeMarket executes immediately at the best quoted price.
const TypeMarket Type = "market"

// Status is a lifecycle state of an order. An order always begins pending
// and advances monotonically until it reaches a terminal status.
type Status string

const (
	// StatusPending is assigned at intake, before the order is enqueued.
	StatusPending Status = "pending"
	// StatusQueued means an execution worker has picked up the order.
	StatusQueued Status = "queued"
	// StatusRouting means venue quotes are being gathered.
	StatusRouting Status = "routing"
	// StatusBuilding means a transaction is being assembled for the
	// winning venue.
	StatusBuilding Status = "building"
	// StatusSubmitted means the transaction was accepted by the RPC node
	// and a signature is known.
	StatusSubmitted Status = "submitted"
	// StatusConfirmed means the transaction reached the configured
	// commitment level. Terminal.
	StatusConfirmed Status = "confirmed"
	// StatusFailed is reached from any non-terminal status. Terminal.
	StatusFailed Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusRouting:   2,
	StatusBuilding:  3,
	StatusSubmitted: 4,
	StatusConfirmed: 5,
	StatusFailed:    6,
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further status may follow s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Rank returns the pipeline position of s, with pending first.
// Failed ranks after confirmed so that sorting a mixed history
// places terminal statuses last.
func (s Status) Rank() int { return statusRank[s] }

// Request is the client-supplied body of a swap order.
type Request struct {
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	Amount    uint64 `json:"amount"`
	OrderType Type   `json:"orderType"`
}

// Job is the envelope carried on the work queue. It embeds the original
// request plus everything a worker needs to resume an attempt: the assigned
// identifier, the set of statuses already broadcast (so redeliveries don't
// repeat them), and the most recent signature and error observed.
type Job struct {
	Request
	OrderID    string          `json:"orderId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Emitted    map[Status]bool `json:"emittedStatuses,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	LastError  string          `json:"lastError,omitempty"`
}

// MarkEmitted records that status has been broadcast for this job and
// reports whether this was the first time. Failed is never deduplicated:
// a later attempt may fail for a different reason and subscribers should
// see the refreshed detail.
func (j *Job) MarkEmitted(status Status) (first bool) {
	if j.Emitted == nil {
		j.Emitted = make(map[Status]bool)
	}
	if j.Emitted[status] && status != StatusFailed {
		return false
	}
	j.Emitted[status] = true
	return true
}

// StatusMessage is the frame delivered to subscribers and appended to an
// order's status history.
type StatusMessage struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Link    string `json:"link,omitempty"`
}
