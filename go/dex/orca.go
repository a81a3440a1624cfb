package dex

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/riptidelabs/orderflow/go/chain"
)

// OrcaSwapProgramID is the Orca token-swap v2 program.
var OrcaSwapProgramID = solana.MustPublicKeyFromBase58("9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP")

// orcaSwap is the token-swap program's swap instruction tag.
const orcaSwap uint8 = 1

type orcaSwapArgs struct {
	Instruction      uint8
	AmountIn         uint64
	MinimumAmountOut uint64
}

// Orca adapts Orca token-swap pools to the Venue interface. Token-swap
// pools additionally carry a pool mint and trading-fee account, which the
// swap instruction must reference.
type Orca struct {
	client   ChainReader
	reserves ReserveSource
	pools    []Pool
	fanout   int
}

// NewOrca returns a venue over the given pool registrations.
func NewOrca(client ChainReader, reserves ReserveSource, pools []Pool, fanout int) *Orca {
	return &Orca{client: client, reserves: reserves, pools: pools, fanout: fanout}
}

func (o *Orca) Name() string { return "orca" }

func (o *Orca) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	q, err := quotePools(ctx, o.Name(), o.pools, o.reserves, o.fanout, req)
	if err != nil {
		return QuoteResponse{}, err
	}
	logQuote(o.Name(), q)
	return q, nil
}

func (o *Orca) BuildSwap(ctx context.Context, req BuildRequest) (chain.BuiltTransaction, error) {
	acc, err := prepareSwap(ctx, o.client, o.pools, req)
	if err != nil {
		return chain.BuiltTransaction{}, err
	}
	if acc.pool.PoolMint.IsZero() || acc.pool.FeeAccount.IsZero() {
		return chain.BuiltTransaction{}, fmt.Errorf(
			"pool %s registration is missing poolMint or feeAccount", acc.pool.Address)
	}
	data, err := encodeSwapArgs(orcaSwapArgs{
		Instruction:      orcaSwap,
		AmountIn:         req.Quote.Request.Amount,
		MinimumAmountOut: req.Quote.MinOut,
	})
	if err != nil {
		return chain.BuiltTransaction{}, err
	}

	var swap = solana.NewInstruction(OrcaSwapProgramID, solana.AccountMetaSlice{
		solana.Meta(acc.pool.Address),
		solana.Meta(acc.pool.Authority),
		solana.Meta(req.Owner).SIGNER(),
		solana.Meta(acc.source).WRITE(),
		solana.Meta(acc.vaultIn).WRITE(),
		solana.Meta(acc.vaultOut).WRITE(),
		solana.Meta(acc.dest).WRITE(),
		solana.Meta(acc.pool.PoolMint).WRITE(),
		solana.Meta(acc.pool.FeeAccount).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, data)

	return chain.BuiltTransaction{
		Instructions: append(acc.prelude, swap),
	}, nil
}
