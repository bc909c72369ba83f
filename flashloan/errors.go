package flashloan

import (
	"errors"

	"github.com/michaelpento.lv/flasharb/types"
)

var (
	ErrUnauthorizedCaller   = errors.New("caller is not the owner")
	ErrUnauthorizedCallback = errors.New("callback caller is not the lending pool")
	ErrSlippageExceeded     = errors.New("swap output below minimum")
	ErrRepaymentShortfall   = errors.New("holdings do not cover principal plus fee")
	ErrNothingToRecover     = errors.New("nothing to recover")
	ErrUnknownVenue         = errors.New("unknown venue")
	ErrInvalidRoute         = errors.New("swap leg has no input")
	ErrInvalidRequest       = errors.New("invalid loan request")
	ErrUnexpectedCallback   = errors.New("callback does not match the loan in flight")
	ErrReentrantCall        = errors.New("reentrant call while a loan is in flight")
	ErrLoanFailed           = errors.New("flash loan failed")
)

// Reason strings reported on receipts and metrics
const (
	ReasonUnauthorizedCaller   = "unauthorized-caller"
	ReasonUnauthorizedCallback = "unauthorized-callback"
	ReasonSlippageExceeded     = "slippage-exceeded"
	ReasonRepaymentShortfall   = "repayment-shortfall"
	ReasonNothingToRecover     = "nothing-to-recover"
	ReasonUnknownVenue         = "unknown-venue"
	ReasonInvalidRoute         = "invalid-route"
	ReasonInvalidRequest       = "invalid-request"
	ReasonUnexpectedCallback   = "unexpected-callback"
	ReasonReentrantCall        = "reentrant-call"
	ReasonLoanFailed           = "loan-failed"
)

// errors raised inside the callback keep their own reason even when the
// engine wraps them in ErrLoanFailed
var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthorizedCaller, ReasonUnauthorizedCaller},
	{ErrUnauthorizedCallback, ReasonUnauthorizedCallback},
	{ErrSlippageExceeded, ReasonSlippageExceeded},
	{ErrRepaymentShortfall, ReasonRepaymentShortfall},
	{ErrNothingToRecover, ReasonNothingToRecover},
	{ErrUnknownVenue, ReasonUnknownVenue},
	{types.ErrInvalidVenue, ReasonUnknownVenue},
	{ErrInvalidRoute, ReasonInvalidRoute},
	{ErrInvalidRequest, ReasonInvalidRequest},
	{ErrUnexpectedCallback, ReasonUnexpectedCallback},
	{ErrReentrantCall, ReasonReentrantCall},
}

// Reason maps an engine error to its revert reason. Nil maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonLoanFailed
}
