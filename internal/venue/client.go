// Package venue provides access to liquidity venues behind a thin quote/swap
// contract. The engine core treats every venue as opaque: an in-process AMM
// simulator and a remote HTTP gateway both satisfy the same Client interface,
// and the Monitor tracks per-venue health for the scheduler's fan-out set.
package venue

import (
	"context"

	"swap-router/pkg/types"
)

// Client is the venue contract consumed by the workers. Implementations must
// return tagged errors (venue_transient for retryable conditions,
// venue_permanent for terminal refusals) so the retry policy can act on them.
type Client interface {
	GetQuote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.Quote, error)
	ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.SwapResult, error)
}
