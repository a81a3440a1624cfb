package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// feeReserveLamports is held back from native balances so a swap never
// strands the wallet without the transaction fee.
const feeReserveLamports = 5_000

// quotePools evaluates req against every registered pool serving the
// pair, up to fanout pools, and returns the quote with the best estimated
// output. Pools that fail to price (fetch errors, empty reserves) are
// skipped; when nothing prices, the most specific error seen wins.
func quotePools(ctx context.Context, venue string, pools []Pool, reserves ReserveSource, fanout int, req QuoteRequest) (QuoteResponse, error) {
	tokenIn, err := solana.PublicKeyFromBase58(req.TokenIn)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("parsing tokenIn: %w", err)
	}
	tokenOut, err := solana.PublicKeyFromBase58(req.TokenOut)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("parsing tokenOut: %w", err)
	}

	var candidates []Pool
	for _, pool := range pools {
		if _, _, _, ok := pool.orient(tokenIn, tokenOut); ok {
			candidates = append(candidates, pool)
		}
	}
	if len(candidates) == 0 {
		return QuoteResponse{}, ErrNoPool
	}
	if fanout > 0 && len(candidates) > fanout {
		candidates = candidates[:fanout]
	}

	var best QuoteResponse
	var priced bool
	var lastErr error
	for _, pool := range candidates {
		snap, err := reserves.PoolReserves(ctx, pool)
		if err != nil {
			lastErr = err
			continue
		}
		_, _, aToB, _ := pool.orient(tokenIn, tokenOut)
		var reserveIn, reserveOut = snap.VaultA, snap.VaultB
		if !aToB {
			reserveIn, reserveOut = snap.VaultB, snap.VaultA
		}
		var estimated = constantProductOut(reserveIn, reserveOut, req.Amount, pool.FeeBps)
		if estimated == 0 {
			lastErr = fmt.Errorf("%w: pool %s has no liquidity for this size", ErrNoPool, pool.Address)
			continue
		}
		if !priced || estimated > best.EstimatedOut {
			best = QuoteResponse{
				Venue:          venue,
				PoolID:         pool.Address.String(),
				EstimatedOut:   estimated,
				MinOut:         applySlippage(estimated, req.SlippageBps),
				PriceImpactBps: priceImpactBps(reserveIn, reserveOut, req.Amount, estimated),
				FeeBps:         pool.FeeBps,
				Request:        req,
			}
			priced = true
		}
	}
	if !priced {
		if lastErr != nil {
			return QuoteResponse{}, lastErr
		}
		return QuoteResponse{}, ErrNoPool
	}
	return best, nil
}

// swapAccounts is everything a venue needs beyond its own instruction
// layout: the resolved pool, oriented vaults, the owner's source and
// destination token accounts, and any prelude instructions (account
// creation, native SOL wrapping) that must run before the swap itself.
type swapAccounts struct {
	pool     Pool
	vaultIn  solana.PublicKey
	vaultOut solana.PublicKey
	source   solana.PublicKey
	dest     solana.PublicKey
	prelude  []solana.Instruction
}

// prepareSwap re-resolves the quoted pool, validates direction and wallet
// funding, and assembles the shared prelude.
func prepareSwap(ctx context.Context, client ChainReader, pools []Pool, req BuildRequest) (swapAccounts, error) {
	var q = req.Quote
	tokenIn, err := solana.PublicKeyFromBase58(q.Request.TokenIn)
	if err != nil {
		return swapAccounts{}, fmt.Errorf("parsing tokenIn: %w", err)
	}
	tokenOut, err := solana.PublicKeyFromBase58(q.Request.TokenOut)
	if err != nil {
		return swapAccounts{}, fmt.Errorf("parsing tokenOut: %w", err)
	}

	var acc swapAccounts
	var found bool
	for _, pool := range pools {
		if pool.Address.String() == q.PoolID {
			acc.pool, found = pool, true
			break
		}
	}
	if !found {
		return swapAccounts{}, fmt.Errorf("pool %s: %w", q.PoolID, ErrPoolChanged)
	}

	var ok bool
	if acc.vaultIn, acc.vaultOut, _, ok = acc.pool.orient(tokenIn, tokenOut); !ok {
		return swapAccounts{}, fmt.Errorf("pool %s: %w", q.PoolID, ErrInvalidDirection)
	}

	if acc.source, _, err = solana.FindAssociatedTokenAddress(req.Owner, tokenIn); err != nil {
		return swapAccounts{}, fmt.Errorf("deriving source token account: %w", err)
	}
	if acc.dest, _, err = solana.FindAssociatedTokenAddress(req.Owner, tokenOut); err != nil {
		return swapAccounts{}, fmt.Errorf("deriving destination token account: %w", err)
	}

	var nativeIn = tokenIn.Equals(solana.SolMint)
	if err = checkFunding(ctx, client, req.Owner, acc.source, q.Request.Amount, nativeIn); err != nil {
		return swapAccounts{}, err
	}

	if nativeIn {
		// Wrap lamports into the owner's wSOL account so the pool can
		// pull them like any other SPL balance.
		exists, err := accountExists(ctx, client, acc.source)
		if err != nil {
			return swapAccounts{}, err
		}
		if !exists {
			acc.prelude = append(acc.prelude,
				ata.NewCreateInstruction(req.Owner, req.Owner, tokenIn).Build())
		}
		acc.prelude = append(acc.prelude,
			system.NewTransferInstruction(q.Request.Amount, req.Owner, acc.source).Build(),
			syncNativeInstruction(acc.source),
		)
	}

	exists, err := accountExists(ctx, client, acc.dest)
	if err != nil {
		return swapAccounts{}, err
	}
	if !exists {
		acc.prelude = append(acc.prelude,
			ata.NewCreateInstruction(req.Owner, req.Owner, tokenOut).Build())
	}
	return acc, nil
}

// checkFunding verifies the wallet can cover the swap input, reading the
// native balance for SOL and the source token account otherwise.
func checkFunding(ctx context.Context, client ChainReader, owner, source solana.PublicKey, amount uint64, nativeIn bool) error {
	if nativeIn {
		out, err := client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("fetching wallet balance: %w", err)
		}
		if out.Value < amount+feeReserveLamports {
			return fmt.Errorf("wallet holds %d lamports, order needs %d plus fees: %w",
				out.Value, amount, ErrInsufficientBalance)
		}
		return nil
	}

	out, err := client.GetTokenAccountBalance(ctx, source, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return fmt.Errorf("wallet has no account for the input token: %w", ErrInsufficientBalance)
		}
		return fmt.Errorf("fetching source token balance: %w", err)
	}
	held, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing source token balance %q: %w", out.Value.Amount, err)
	}
	if held < amount {
		return fmt.Errorf("wallet holds %d, order needs %d: %w", held, amount, ErrInsufficientBalance)
	}
	return nil
}

func accountExists(ctx context.Context, client ChainReader, account solana.PublicKey) (bool, error) {
	_, err := client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking account %s: %w", account, err)
	}
	return true, nil
}

// syncNativeInstruction refreshes a wSOL account's recorded amount after
// a lamport transfer (SPL token instruction 17).
func syncNativeInstruction(account solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.TokenProgramID,
		solana.AccountMetaSlice{solana.Meta(account).WRITE()},
		[]byte{17},
	)
}

// encodeSwapArgs borsh-encodes a venue's swap argument struct.
func encodeSwapArgs(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encoding swap args: %w", err)
	}
	return buf.Bytes(), nil
}

func logQuote(venue string, q QuoteResponse) {
	log.WithFields(log.Fields{
		"venue":        venue,
		"pool":         q.PoolID,
		"estimatedOut": q.EstimatedOut,
		"minOut":       q.MinOut,
		"impactBps":    q.PriceImpactBps,
	}).Debug("venue produced a quote")
}
