package dex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/riptidelabs/orderflow/go/order"
)

// VenueOutcome records what one venue returned during routing: a quote,
// or the reason it produced none.
type VenueOutcome struct {
	Venue string         `json:"venue"`
	Quote *QuoteResponse `json:"quote,omitempty"`
	Err   string         `json:"error,omitempty"`
}

// RouteDecision is the full routing record for an order: the winning
// venue and every outcome considered, successful or not. It is persisted
// with the order so failed routes remain inspectable.
type RouteDecision struct {
	Winner   string         `json:"winner"`
	Outcomes []VenueOutcome `json:"outcomes"`
}

// RoutePlan pairs the winning venue with its quote. Transaction assembly
// is a separate step (BuildTransaction) so a plan can be logged, persisted,
// and tested without touching the chain.
type RoutePlan struct {
	Venue    Venue
	Quote    QuoteResponse
	Decision RouteDecision
}

// NoQuotesError reports that every venue failed to quote, with per-venue
// reasons.
type NoQuotesError struct {
	Outcomes []VenueOutcome
}

func (e *NoQuotesError) Error() string {
	var parts = make([]string, len(e.Outcomes))
	for i, o := range e.Outcomes {
		parts[i] = fmt.Sprintf("%s: %s", o.Venue, o.Err)
	}
	return "no venue produced a quote: " + strings.Join(parts, "; ")
}

// Router fans quote requests out to registered venues and picks the best
// result. It holds no mutable state and is safe for concurrent use.
type Router struct {
	venues      []Venue
	timeout     time.Duration
	slippageBps int
}

// NewRouter builds a router. timeout bounds each venue's quote
// individually; slippage is the fractional tolerance applied to every
// quote request.
func NewRouter(venues []Venue, timeout time.Duration, slippage float64) *Router {
	return &Router{
		venues:      venues,
		timeout:     timeout,
		slippageBps: SlippageToBps(slippage),
	}
}

// SlippageBps exposes the tolerance the router quotes with.
func (r *Router) SlippageBps() int { return r.slippageBps }

// FindBestRoute quotes job's pair on every venue concurrently and returns
// the plan with the highest estimated output. Ties resolve to the venue
// registered first. When no venue quotes, the error is a *NoQuotesError
// carrying each venue's reason.
func (r *Router) FindBestRoute(ctx context.Context, job *order.Job) (RoutePlan, error) {
	var started = time.Now()
	var req = QuoteRequest{
		TokenIn:     job.TokenIn,
		TokenOut:    job.TokenOut,
		Amount:      job.Amount,
		SlippageBps: r.slippageBps,
	}

	var outcomes = make([]VenueOutcome, len(r.venues))
	var quotes = make([]*QuoteResponse, len(r.venues))
	var wg sync.WaitGroup
	for i, venue := range r.venues {
		wg.Add(1)
		go func(i int, venue Venue) {
			defer wg.Done()
			var qctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()

			q, err := venue.Quote(qctx, req)
			if err != nil {
				outcomes[i] = VenueOutcome{Venue: venue.Name(), Err: quoteFailureReason(err, r.timeout)}
				quotesTotal.WithLabelValues(venue.Name(), quoteOutcomeLabel(err)).Inc()
				return
			}
			outcomes[i] = VenueOutcome{Venue: venue.Name(), Quote: &q}
			quotes[i] = &q
			quotesTotal.WithLabelValues(venue.Name(), "ok").Inc()
		}(i, venue)
	}
	wg.Wait()
	routeDuration.Observe(time.Since(started).Seconds())

	var bestIdx = -1
	for i, q := range quotes {
		if q == nil {
			continue
		}
		if bestIdx == -1 || q.EstimatedOut > quotes[bestIdx].EstimatedOut {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		log.WithFields(log.Fields{
			"orderId": job.OrderID,
			"venues":  len(r.venues),
		}).Warn("routing produced no quotes")
		return RoutePlan{}, &NoQuotesError{Outcomes: outcomes}
	}

	var decision = RouteDecision{Winner: r.venues[bestIdx].Name(), Outcomes: outcomes}
	log.WithFields(log.Fields{
		"orderId":      job.OrderID,
		"winner":       decision.Winner,
		"estimatedOut": quotes[bestIdx].EstimatedOut,
		"considered":   len(r.venues),
		"took":         time.Since(started).String(),
	}).Info("routing decision")

	return RoutePlan{
		Venue:    r.venues[bestIdx],
		Quote:    *quotes[bestIdx],
		Decision: decision,
	}, nil
}

// quoteFailureReason renders a venue failure for the routing record.
// Deadline expiry is named explicitly so a slow venue reads differently
// from a broken one.
func quoteFailureReason(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("quote timed out after %s", timeout)
	}
	return err.Error()
}

func quoteOutcomeLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNoPool):
		return "no_pool"
	case errors.Is(err, ErrStaleData):
		return "stale"
	default:
		return "error"
	}
}
