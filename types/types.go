package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Fee tiers in hundredths of a bip, as used by V3 pools
const (
	FeeTier001 uint32 = 100
	FeeTier005 uint32 = 500
	FeeTier025 uint32 = 2500
	FeeTier030 uint32 = 3000
	FeeTier100 uint32 = 10000

	// FeeDenominator is the divisor for fee tiers (1e6 = 100%)
	FeeDenominator uint32 = 1_000_000
)

var (
	ErrIdenticalAssets = errors.New("identical assets")
	ErrZeroAsset       = errors.New("zero asset address")
	ErrInvalidFeeTier  = errors.New("invalid fee tier")
	ErrInvalidVenue    = errors.New("invalid venue")
	ErrEmptyLoan       = errors.New("at least one borrow amount must be nonzero")
	ErrNoMinimum       = errors.New("minimum output must be set")
)

// Venue selects one of the two trading venues an instruction is routed to
type Venue uint8

const (
	VenueA Venue = iota
	VenueB
)

// Valid reports whether v is one of the known venues
func (v Venue) Valid() bool {
	switch v {
	case VenueA, VenueB:
		return true
	}
	return false
}

func (v Venue) String() string {
	switch v {
	case VenueA:
		return "A"
	case VenueB:
		return "B"
	}
	return fmt.Sprintf("Venue(%d)", uint8(v))
}

// ParseVenue accepts "A"/"B" (any case) or the numeric selectors "0"/"1"
func ParseVenue(s string) (Venue, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "0":
		return VenueA, nil
	case "B", "1":
		return VenueB, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidVenue, s)
}

// AssetPair identifies the lending pool: two sorted tokens and a fee tier
type AssetPair struct {
	Asset0  common.Address
	Asset1  common.Address
	FeeTier uint32
}

// NewAssetPair sorts the tokens the way a V3 pool key does
func NewAssetPair(tokenA, tokenB common.Address, feeTier uint32) (AssetPair, error) {
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return AssetPair{}, ErrZeroAsset
	}
	if tokenA == tokenB {
		return AssetPair{}, ErrIdenticalAssets
	}
	if feeTier == 0 || feeTier >= FeeDenominator {
		return AssetPair{}, fmt.Errorf("%w: %d", ErrInvalidFeeTier, feeTier)
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	return AssetPair{Asset0: token0, Asset1: token1, FeeTier: feeTier}, nil
}

// Contains reports whether token is one of the pair's assets
func (p AssetPair) Contains(token common.Address) bool {
	return token == p.Asset0 || token == p.Asset1
}

func (p AssetPair) String() string {
	return fmt.Sprintf("%s/%s@%d", p.Asset0.Hex(), p.Asset1.Hex(), p.FeeTier)
}

// SortTokens orders two token addresses ascending
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// SwapInstruction describes one leg of the arbitrage
type SwapInstruction struct {
	TokenIn      common.Address
	TokenOut     common.Address
	FeeTier      uint32
	Venue        Venue
	MinAmountOut *uint256.Int
}

// Validate checks the instruction's static shape
func (s SwapInstruction) Validate() error {
	if s.TokenIn == (common.Address{}) || s.TokenOut == (common.Address{}) {
		return ErrZeroAsset
	}
	if s.TokenIn == s.TokenOut {
		return ErrIdenticalAssets
	}
	if s.FeeTier == 0 || s.FeeTier >= FeeDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidFeeTier, s.FeeTier)
	}
	if !s.Venue.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidVenue, s.Venue)
	}
	if s.MinAmountOut == nil {
		return ErrNoMinimum
	}
	return nil
}

// MinOut returns the minimum acceptable output. Validate rejects nil; MinOut
// reads it as zero for instructions that were never validated.
func (s SwapInstruction) MinOut() *uint256.Int {
	if s.MinAmountOut == nil {
		return new(uint256.Int)
	}
	return s.MinAmountOut
}

// LoanRequest is the owner's request to borrow and route two swaps
type LoanRequest struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
	Swap1   SwapInstruction
	Swap2   SwapInstruction
}

// Validate requires one nonzero borrow amount and two well-formed legs
func (r LoanRequest) Validate() error {
	if isZero(r.Amount0) && isZero(r.Amount1) {
		return ErrEmptyLoan
	}
	if err := r.Swap1.Validate(); err != nil {
		return fmt.Errorf("swap1: %w", err)
	}
	if err := r.Swap2.Validate(); err != nil {
		return fmt.Errorf("swap2: %w", err)
	}
	return nil
}

// CallbackContext travels from the initiator through the pool back to the
// borrower's callback. It is passed by value and never stored.
type CallbackContext struct {
	Initiator common.Address
	Amount0   *uint256.Int
	Amount1   *uint256.Int
	Swap1     SwapInstruction
	Swap2     SwapInstruction
}

// NewCallbackContext copies the request's amounts so the pool cannot alias them
func NewCallbackContext(initiator common.Address, req LoanRequest) CallbackContext {
	return CallbackContext{
		Initiator: initiator,
		Amount0:   Clone(req.Amount0),
		Amount1:   Clone(req.Amount1),
		Swap1:     req.Swap1,
		Swap2:     req.Swap2,
	}
}

// Settlement records what was repaid and what stayed behind
type Settlement struct {
	Owed0    *uint256.Int
	Owed1    *uint256.Int
	Surplus0 *uint256.Int
	Surplus1 *uint256.Int
}

// LegResult is the realized outcome of one swap leg
type LegResult struct {
	Leg       int
	Venue     Venue
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// Receipt is the outcome of one engine transaction
type Receipt struct {
	Success    bool
	Reason     string
	Legs       []LegResult
	Settlement *Settlement
	Err        error
}

// Clone returns a copy of x, or zero for nil
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}
