package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// Pool is a registered liquidity pool of a venue. Registration is static
// (loaded from configuration at startup); reserve balances are live state
// fetched from the vault token accounts.
type Pool struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	TokenA    solana.PublicKey
	TokenB    solana.PublicKey
	VaultA    solana.PublicKey
	VaultB    solana.PublicKey
	FeeBps    int

	// PoolMint and FeeAccount are required by token-swap style venues
	// and absent for AMM-style ones.
	PoolMint   solana.PublicKey
	FeeAccount solana.PublicKey
}

// orient returns the in/out vaults for a swap of tokenIn into tokenOut,
// or ok == false when the pair doesn't match the pool in either direction.
func (p Pool) orient(tokenIn, tokenOut solana.PublicKey) (vaultIn, vaultOut solana.PublicKey, aToB, ok bool) {
	switch {
	case tokenIn.Equals(p.TokenA) && tokenOut.Equals(p.TokenB):
		return p.VaultA, p.VaultB, true, true
	case tokenIn.Equals(p.TokenB) && tokenOut.Equals(p.TokenA):
		return p.VaultB, p.VaultA, false, true
	default:
		return solana.PublicKey{}, solana.PublicKey{}, false, false
	}
}

// poolSeed is the JSON form of a Pool in the pools file.
type poolSeed struct {
	Address    string `json:"address"`
	Authority  string `json:"authority"`
	TokenA     string `json:"tokenA"`
	TokenB     string `json:"tokenB"`
	VaultA     string `json:"vaultA"`
	VaultB     string `json:"vaultB"`
	FeeBps     int    `json:"feeBps"`
	PoolMint   string `json:"poolMint,omitempty"`
	FeeAccount string `json:"feeAccount,omitempty"`
}

// LoadPools reads a venue => pools mapping from a JSON file:
//
//	{"raydium": [{"address": ..., "vaultA": ..., ...}], "orca": [...]}
func LoadPools(path string) (map[string][]Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pools file: %w", err)
	}
	var seeds map[string][]poolSeed
	if err = json.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("parsing pools file %s: %w", path, err)
	}

	var out = make(map[string][]Pool, len(seeds))
	for venue, list := range seeds {
		for i, s := range list {
			pool, err := s.toPool()
			if err != nil {
				return nil, fmt.Errorf("pools file %s: venue %s pool %d: %w", path, venue, i, err)
			}
			out[venue] = append(out[venue], pool)
		}
	}
	return out, nil
}

func (s poolSeed) toPool() (Pool, error) {
	var pool Pool
	var err error
	for _, f := range []struct {
		name string
		raw  string
		dst  *solana.PublicKey
	}{
		{"address", s.Address, &pool.Address},
		{"authority", s.Authority, &pool.Authority},
		{"tokenA", s.TokenA, &pool.TokenA},
		{"tokenB", s.TokenB, &pool.TokenB},
		{"vaultA", s.VaultA, &pool.VaultA},
		{"vaultB", s.VaultB, &pool.VaultB},
	} {
		if *f.dst, err = solana.PublicKeyFromBase58(f.raw); err != nil {
			return Pool{}, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *solana.PublicKey
	}{
		{"poolMint", s.PoolMint, &pool.PoolMint},
		{"feeAccount", s.FeeAccount, &pool.FeeAccount},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = solana.PublicKeyFromBase58(f.raw); err != nil {
			return Pool{}, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	if s.FeeBps < 0 || s.FeeBps >= bpsDenominator {
		return Pool{}, fmt.Errorf("feeBps %d out of range", s.FeeBps)
	}
	pool.FeeBps = s.FeeBps
	return pool, nil
}

// ChainReader is the slice of the RPC client surface venues read from.
// *rpc.Client satisfies it; tests substitute fakes.
type ChainReader interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
}

// ReserveSnapshot is a point-in-time read of a pool's two vault balances.
type ReserveSnapshot struct {
	VaultA    uint64
	VaultB    uint64
	FetchedAt time.Time
}

// ReserveSource fetches reserve snapshots for pools.
type ReserveSource interface {
	PoolReserves(ctx context.Context, pool Pool) (ReserveSnapshot, error)
}

// rpcReserves reads vault token-account balances in one batched call.
type rpcReserves struct {
	client ChainReader
}

// NewRPCReserves returns a ReserveSource reading live vault state.
func NewRPCReserves(client ChainReader) ReserveSource {
	return &rpcReserves{client: client}
}

func (r *rpcReserves) PoolReserves(ctx context.Context, pool Pool) (ReserveSnapshot, error) {
	out, err := r.client.GetMultipleAccounts(ctx, pool.VaultA, pool.VaultB)
	if err != nil {
		return ReserveSnapshot{}, fmt.Errorf("fetching vault accounts of pool %s: %w", pool.Address, err)
	}
	if out == nil || len(out.Value) != 2 {
		return ReserveSnapshot{}, fmt.Errorf("pool %s: unexpected vault account response", pool.Address)
	}

	var amounts [2]uint64
	for i, acct := range out.Value {
		if acct == nil {
			return ReserveSnapshot{}, fmt.Errorf("pool %s: vault account %d is missing", pool.Address, i)
		}
		var parsed token.Account
		if err = bin.NewBinDecoder(acct.Data.GetBinary()).Decode(&parsed); err != nil {
			return ReserveSnapshot{}, fmt.Errorf("pool %s: decoding vault account %d: %w", pool.Address, i, err)
		}
		amounts[i] = parsed.Amount
	}
	return ReserveSnapshot{VaultA: amounts[0], VaultB: amounts[1], FetchedAt: time.Now()}, nil
}

// CachedReserves fronts a ReserveSource with a TTL'd LRU. A snapshot past
// its TTL is refreshed on demand; when the refresh fails and only an
// expired snapshot remains, quoting surfaces ErrStaleData rather than
// pricing against unknown state.
type CachedReserves struct {
	src   ReserveSource
	ttl   time.Duration
	cache *lru.Cache[string, ReserveSnapshot]
}

// NewCachedReserves wraps src with an LRU of at most size pools and the
// given snapshot TTL.
func NewCachedReserves(src ReserveSource, size int, ttl time.Duration) (*CachedReserves, error) {
	cache, err := lru.New[string, ReserveSnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("building reserve cache: %w", err)
	}
	return &CachedReserves{src: src, ttl: ttl, cache: cache}, nil
}

func (c *CachedReserves) PoolReserves(ctx context.Context, pool Pool) (ReserveSnapshot, error) {
	var key = pool.Address.String()
	if snap, ok := c.cache.Get(key); ok && time.Since(snap.FetchedAt) < c.ttl {
		return snap, nil
	}

	snap, err := c.src.PoolReserves(ctx, pool)
	if err == nil {
		c.cache.Add(key, snap)
		return snap, nil
	}
	if _, hadStale := c.cache.Get(key); hadStale {
		log.WithFields(log.Fields{"pool": key, "error": err}).
			Warn("reserve refresh failed with only an expired snapshot on hand")
		return ReserveSnapshot{}, fmt.Errorf("refreshing reserves of pool %s: %w", key, ErrStaleData)
	}
	return ReserveSnapshot{}, err
}
