package dex

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/riptidelabs/orderflow/go/chain"
)

// RaydiumProgramID is the Raydium liquidity pool v4 program.
var RaydiumProgramID = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

// raydiumSwapBaseIn is the program's fixed-input swap instruction tag.
const raydiumSwapBaseIn uint8 = 9

type raydiumSwapArgs struct {
	Instruction  uint8
	AmountIn     uint64
	MinAmountOut uint64
}

// Raydium adapts Raydium AMM pools to the Venue interface.
type Raydium struct {
	client   ChainReader
	reserves ReserveSource
	pools    []Pool
	fanout   int
}

// NewRaydium returns a venue over the given pool registrations. fanout
// bounds how many pools of the same pair are priced per quote.
func NewRaydium(client ChainReader, reserves ReserveSource, pools []Pool, fanout int) *Raydium {
	return &Raydium{client: client, reserves: reserves, pools: pools, fanout: fanout}
}

func (r *Raydium) Name() string { return "raydium" }

func (r *Raydium) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	q, err := quotePools(ctx, r.Name(), r.pools, r.reserves, r.fanout, req)
	if err != nil {
		return QuoteResponse{}, err
	}
	logQuote(r.Name(), q)
	return q, nil
}

func (r *Raydium) BuildSwap(ctx context.Context, req BuildRequest) (chain.BuiltTransaction, error) {
	acc, err := prepareSwap(ctx, r.client, r.pools, req)
	if err != nil {
		return chain.BuiltTransaction{}, err
	}
	data, err := encodeSwapArgs(raydiumSwapArgs{
		Instruction:  raydiumSwapBaseIn,
		AmountIn:     req.Quote.Request.Amount,
		MinAmountOut: req.Quote.MinOut,
	})
	if err != nil {
		return chain.BuiltTransaction{}, err
	}

	var swap = solana.NewInstruction(RaydiumProgramID, solana.AccountMetaSlice{
		solana.Meta(solana.TokenProgramID),
		solana.Meta(acc.pool.Address).WRITE(),
		solana.Meta(acc.pool.Authority),
		solana.Meta(acc.vaultIn).WRITE(),
		solana.Meta(acc.vaultOut).WRITE(),
		solana.Meta(acc.source).WRITE(),
		solana.Meta(acc.dest).WRITE(),
		solana.Meta(req.Owner).SIGNER(),
	}, data)

	return chain.BuiltTransaction{
		Instructions: append(acc.prelude, swap),
	}, nil
}
