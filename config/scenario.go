package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flasharb/types"
)

// Scenario step actions
const (
	ActionLoan     = "loan"
	ActionWithdraw = "withdraw"
)

// ExpectSuccess is the expectation of a step that must not revert
const ExpectSuccess = "success"

// Scenario is a scripted simulation: initial liquidity on every pool, stray
// deposits, then a sequence of calls against the engine.
type Scenario struct {
	Name     string          `yaml:"name"`
	Clock    int64           `yaml:"clock"` // unix seconds, zero uses the wall clock
	Lender   Liquidity       `yaml:"lender"`
	VenueA   []PoolLiquidity `yaml:"venue_a"`
	VenueB   []PoolLiquidity `yaml:"venue_b"`
	Deposits []Deposit       `yaml:"deposits"`
	Steps    []Step          `yaml:"steps"`
}

// Liquidity is held by a pool in the pair's asset0/asset1 order
type Liquidity struct {
	Reserve0 string `yaml:"reserve0"`
	Reserve1 string `yaml:"reserve1"`
}

// PoolLiquidity seeds one venue pool of the configured pair
type PoolLiquidity struct {
	Fee       uint32 `yaml:"fee"`
	Liquidity `yaml:",inline"`
}

// Deposit mints tokens to an account before the first step
type Deposit struct {
	Token  string `yaml:"token"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

type Step struct {
	Name    string    `yaml:"name"`
	Action  string    `yaml:"action"`
	Caller  string    `yaml:"caller"` // defaults to owner
	Amount0 string    `yaml:"amount0"`
	Amount1 string    `yaml:"amount1"`
	Swap1   *SwapStep `yaml:"swap1"`
	Swap2   *SwapStep `yaml:"swap2"`
	Token   string    `yaml:"token"`
	Expect  string    `yaml:"expect"` // "success", a revert reason, or empty to skip the check
}

type SwapStep struct {
	TokenIn  string `yaml:"token_in"`
	TokenOut string `yaml:"token_out"`
	Fee      uint32 `yaml:"fee"`
	Venue    string `yaml:"venue"`
	MinOut   string `yaml:"min_out"`
}

// LoadScenario reads and validates a scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes YAML, rejecting unknown fields
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.UnmarshalStrict(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks everything that does not depend on the deployment
func (s *Scenario) Validate() error {
	var errors []string

	if len(s.Steps) == 0 {
		errors = append(errors, "scenario has no steps")
	}
	if err := s.Lender.validate(); err != nil {
		errors = append(errors, fmt.Sprintf("lender: %v", err))
	}
	for name, pools := range map[string][]PoolLiquidity{"venue_a": s.VenueA, "venue_b": s.VenueB} {
		seen := make(map[uint32]bool)
		for i, p := range pools {
			if p.Fee == 0 || p.Fee >= types.FeeDenominator {
				errors = append(errors, fmt.Sprintf("%s[%d]: invalid fee %d", name, i, p.Fee))
			}
			if seen[p.Fee] {
				errors = append(errors, fmt.Sprintf("%s[%d]: duplicate fee %d", name, i, p.Fee))
			}
			seen[p.Fee] = true
			if err := p.validate(); err != nil {
				errors = append(errors, fmt.Sprintf("%s[%d]: %v", name, i, err))
			}
		}
	}
	for i, d := range s.Deposits {
		if d.Token == "" || d.To == "" {
			errors = append(errors, fmt.Sprintf("deposits[%d]: token and to are required", i))
		}
		if _, err := ParseAmount(d.Amount); err != nil {
			errors = append(errors, fmt.Sprintf("deposits[%d]: %v", i, err))
		}
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			errors = append(errors, fmt.Sprintf("steps[%d] %s: %v", i, st.Label(i), err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("scenario validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (l Liquidity) validate() error {
	if _, err := ParseAmount(l.Reserve0); err != nil {
		return fmt.Errorf("reserve0: %w", err)
	}
	if _, err := ParseAmount(l.Reserve1); err != nil {
		return fmt.Errorf("reserve1: %w", err)
	}
	return nil
}

func (s Step) validate() error {
	switch s.Action {
	case ActionLoan:
		if s.Swap1 == nil || s.Swap2 == nil {
			return fmt.Errorf("loan needs swap1 and swap2")
		}
		for _, a := range []string{s.Amount0, s.Amount1} {
			if _, err := ParseAmount(a); err != nil {
				return err
			}
		}
		for _, sw := range []*SwapStep{s.Swap1, s.Swap2} {
			if _, err := types.ParseVenue(sw.Venue); err != nil {
				return err
			}
			if _, err := ParseAmount(sw.MinOut); err != nil {
				return err
			}
		}
	case ActionWithdraw:
		if s.Token == "" {
			return fmt.Errorf("withdraw needs a token")
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// Label names the step for logs
func (s Step) Label(i int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s#%d", s.Action, i)
}

// Request builds the loan request, resolving token names through names
func (s Step) Request(names map[string]common.Address) (types.LoanRequest, error) {
	amount0, err := ParseAmount(s.Amount0)
	if err != nil {
		return types.LoanRequest{}, err
	}
	amount1, err := ParseAmount(s.Amount1)
	if err != nil {
		return types.LoanRequest{}, err
	}
	if s.Swap1 == nil || s.Swap2 == nil {
		return types.LoanRequest{}, fmt.Errorf("loan needs swap1 and swap2")
	}
	swap1, err := s.Swap1.Instruction(names)
	if err != nil {
		return types.LoanRequest{}, fmt.Errorf("swap1: %w", err)
	}
	swap2, err := s.Swap2.Instruction(names)
	if err != nil {
		return types.LoanRequest{}, fmt.Errorf("swap2: %w", err)
	}
	return types.LoanRequest{Amount0: amount0, Amount1: amount1, Swap1: swap1, Swap2: swap2}, nil
}

// Instruction converts the YAML leg into a swap instruction
func (s SwapStep) Instruction(names map[string]common.Address) (types.SwapInstruction, error) {
	tokenIn, err := Resolve(s.TokenIn, names)
	if err != nil {
		return types.SwapInstruction{}, err
	}
	tokenOut, err := Resolve(s.TokenOut, names)
	if err != nil {
		return types.SwapInstruction{}, err
	}
	venue, err := types.ParseVenue(s.Venue)
	if err != nil {
		return types.SwapInstruction{}, err
	}
	minOut, err := ParseAmount(s.MinOut)
	if err != nil {
		return types.SwapInstruction{}, err
	}
	return types.SwapInstruction{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		FeeTier:      s.Fee,
		Venue:        venue,
		MinAmountOut: minOut,
	}, nil
}

// ParseAmount parses a base-10 token amount. Underscores are ignored and an
// empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// Resolve maps a name from names (case-insensitive) or a hex string to an address
func Resolve(ref string, names map[string]common.Address) (common.Address, error) {
	ref = strings.TrimSpace(ref)
	if addr, ok := names[strings.ToLower(ref)]; ok {
		return addr, nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, fmt.Errorf("unknown address %q", ref)
}
