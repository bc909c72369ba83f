package dex

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/michaelpento.lv/flasharb/types"
)

// DefaultAddressCacheSize bounds the derived-address cache of a PoolRegistry
const DefaultAddressCacheSize = 256

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

// PoolRegistry tracks the pools one deployer has created. Derived addresses
// are cached since every swap resolves its pool by key.
type PoolRegistry struct {
	mu       sync.RWMutex
	deployer Deployer
	pools    map[common.Address]*Pool
	addrs    *lru.Cache
}

// NewPoolRegistry creates a registry for pools deployed by deployer
func NewPoolRegistry(deployer Deployer, cacheSize int) (*PoolRegistry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultAddressCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}
	return &PoolRegistry{
		deployer: deployer,
		pools:    make(map[common.Address]*Pool),
		addrs:    cache,
	}, nil
}

// PoolAddress returns the derived address for a pair and fee tier
func (r *PoolRegistry) PoolAddress(tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	token0, token1 := types.SortTokens(tokenA, tokenB)
	key := poolKey{token0: token0, token1: token1, fee: fee}
	if addr, ok := r.addrs.Get(key); ok {
		return addr.(common.Address), nil
	}

	addr, err := ComputePoolAddress(r.deployer, token0, token1, fee)
	if err != nil {
		return common.Address{}, err
	}
	r.addrs.Add(key, addr)
	return addr, nil
}

// Create registers a new pool for the pair and fee tier
func (r *PoolRegistry) Create(tokenA, tokenB common.Address, fee uint32) (*Pool, error) {
	if _, err := types.NewAssetPair(tokenA, tokenB, fee); err != nil {
		return nil, err
	}
	addr, err := r.PoolAddress(tokenA, tokenB, fee)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, addr.Hex())
	}

	token0, token1 := types.SortTokens(tokenA, tokenB)
	pool := &Pool{Address: addr, Token0: token0, Token1: token1, Fee: fee}
	r.pools[addr] = pool
	return pool, nil
}

// Get returns the registered pool for the pair and fee tier
func (r *PoolRegistry) Get(tokenA, tokenB common.Address, fee uint32) (*Pool, error) {
	addr, err := r.PoolAddress(tokenA, tokenB, fee)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, tokenA.Hex(), tokenB.Hex(), fee)
	}
	return pool, nil
}

// Len returns the number of registered pools
func (r *PoolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
