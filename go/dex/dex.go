// Package dex models swap venues and routes orders across them.
//
// A Venue adapter quotes a token pair from on-chain pool state and builds
// the swap transaction for an accepted quote. The Router fans a quote
// request out to every registered venue, admits quotes that return within
// the deadline, and picks the best estimated output. Routing is stateless:
// retry policy belongs to the work queue, not here.
package dex

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/riptidelabs/orderflow/go/chain"
)

var (
	// ErrNoPool means no registered pool serves the requested pair, or
	// the matching pools hold no liquidity.
	ErrNoPool = errors.New("no pool serves this token pair")
	// ErrStaleData means cached reserves expired and a refresh failed,
	// so any quote would be priced against unknown state.
	ErrStaleData = errors.New("pool reserves are stale and could not be refreshed")
	// ErrPoolChanged means the pool backing a quote vanished or moved
	// between quoting and building.
	ErrPoolChanged = errors.New("pool changed since quoting")
	// ErrInvalidDirection means the order's tokens don't match the
	// pool's pair in either direction. Not retryable.
	ErrInvalidDirection = errors.New("order tokens do not match pool direction")
	// ErrInsufficientBalance means the wallet cannot fund the swap input.
	ErrInsufficientBalance = errors.New("wallet balance below order amount")
)

// QuoteRequest asks a venue to price a swap of Amount base units of
// TokenIn into TokenOut. SlippageBps caps acceptable deviation and is
// always within [1, 10000].
type QuoteRequest struct {
	TokenIn     string `json:"tokenIn"`
	TokenOut    string `json:"tokenOut"`
	Amount      uint64 `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

// QuoteResponse is a venue's priced answer. MinOut is derived from
// EstimatedOut by the slippage bound and is embedded verbatim into the
// eventual swap instruction; slippage is never applied twice.
type QuoteResponse struct {
	Venue          string       `json:"venue"`
	PoolID         string       `json:"poolId"`
	EstimatedOut   uint64       `json:"estimatedOut"`
	MinOut         uint64       `json:"minOut"`
	PriceImpactBps int          `json:"priceImpactBps"`
	FeeBps         int          `json:"feeBps"`
	Request        QuoteRequest `json:"request"`
}

// BuildRequest carries an accepted quote into transaction assembly.
// Owner is the wallet which funds, signs, and receives the swap.
type BuildRequest struct {
	Quote QuoteResponse
	Owner solana.PublicKey
}

// Venue is a DEX adapter. Implementations are safe for concurrent use;
// both methods respect context cancellation.
type Venue interface {
	// Name identifies the venue in routing decisions and status details.
	Name() string
	// Quote prices the request against current pool state.
	Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	// BuildSwap assembles the instructions executing a previously
	// returned quote.
	BuildSwap(ctx context.Context, req BuildRequest) (chain.BuiltTransaction, error)
}

// BuildTransaction assembles the winning venue's swap for the plan's
// quote on behalf of owner.
func BuildTransaction(ctx context.Context, plan RoutePlan, owner solana.PublicKey) (chain.BuiltTransaction, error) {
	return plan.Venue.BuildSwap(ctx, BuildRequest{Quote: plan.Quote, Owner: owner})
}
