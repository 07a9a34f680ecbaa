package venue

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swap-router/internal/config"
	"swap-router/pkg/types"
)

// Simulator is an in-process constant-product AMM, one pool per venue per
// token pair. Each venue seeds its reserves from a hash of its name, so the
// four venues quote slightly different prices for the same pair, and swaps
// move the pool so subsequent quotes reflect the executed trade.
//
// Quote math for a pool with reserves (Rin, Rout) and fee f (bps):
//
//	in'  = amountIn * (1 - f/10000)
//	out  = Rout * in' / (Rin + in')
//
// Slippage is the price impact amountIn / (Rin + amountIn).
type Simulator struct {
	cfg config.SimulatorConfig

	mu    sync.Mutex
	pools map[string]*pool // key: venue|tokenIn|tokenOut
	rng   *rand.Rand
}

type pool struct {
	reserveIn  decimal.Decimal
	reserveOut decimal.Decimal
	feeBps     int64
}

// NewSimulator creates a simulator seeded from config.
func NewSimulator(cfg config.SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:   cfg,
		pools: make(map[string]*pool),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func poolKey(venue, tokenIn, tokenOut string) string {
	return venue + "|" + tokenIn + "|" + tokenOut
}

// venueSkew derives a stable per-venue reserve multiplier in [0.99, 1.01]
// from the venue name, so prices differ across venues deterministically.
func venueSkew(venue string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(venue)))
	offset := int64(h.Sum32()%200) - 100 // -100..99
	return decimal.NewFromInt(10000 + offset).Div(decimal.NewFromInt(10000))
}

func (s *Simulator) poolFor(venue, tokenIn, tokenOut string) *pool {
	key := poolKey(venue, tokenIn, tokenOut)
	if p, ok := s.pools[key]; ok {
		return p
	}

	feeBps := int64(30)
	if f, ok := s.cfg.FeeBps[venue]; ok {
		feeBps = int64(f)
	}
	skew := venueSkew(venue)
	p := &pool{
		reserveIn:  decimal.NewFromFloat(s.cfg.BaseReserveIn),
		reserveOut: decimal.NewFromFloat(s.cfg.BaseReserveOut).Mul(skew),
		feeBps:     feeBps,
	}
	s.pools[key] = p
	return p
}

// swapOut computes the constant-product output for amountIn, without
// mutating the pool.
func (p *pool) swapOut(amountIn decimal.Decimal) (out, fee decimal.Decimal) {
	feeRate := decimal.NewFromInt(p.feeBps).Div(decimal.NewFromInt(10000))
	inAfterFee := amountIn.Mul(decimal.NewFromInt(1).Sub(feeRate))
	out = p.reserveOut.Mul(inAfterFee).Div(p.reserveIn.Add(inAfterFee))
	fee = amountIn.Mul(feeRate)
	return out, fee
}

func (s *Simulator) sleepLatency(ctx context.Context) error {
	if s.cfg.MaxLatency <= 0 {
		return nil
	}
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	d := s.cfg.MinLatency
	if span > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(span)))
		s.mu.Unlock()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return types.WrapError(types.KindVenueTransient, "venue timed out", ctx.Err())
	}
}

// GetQuote prices amountIn against the venue's pool without mutating it.
func (s *Simulator) GetQuote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.Quote, error) {
	if venue == "" {
		return nil, types.NewError(types.KindVenuePermanent, "unknown venue")
	}
	if amountIn <= 0 {
		return nil, types.NewError(types.KindVenuePermanent, "amountIn must be positive")
	}
	start := time.Now()
	if err := s.sleepLatency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	p := s.poolFor(venue, tokenIn, tokenOut)
	amt := decimal.NewFromFloat(amountIn)
	out, fee := p.swapOut(amt)
	slippage := amt.Div(p.reserveIn.Add(amt))
	liquidity := p.reserveOut
	s.mu.Unlock()

	return &types.Quote{
		Venue:           venue,
		Price:           out.Div(amt).InexactFloat64(),
		EstimatedOutput: out.InexactFloat64(),
		Slippage:        slippage.InexactFloat64(),
		Liquidity:       liquidity.InexactFloat64(),
		Fee:             fee.InexactFloat64(),
		LatencyMs:       time.Since(start).Milliseconds(),
	}, nil
}

// ExecuteSwap executes against the pool, moving its reserves, and returns a
// synthetic transaction hash.
func (s *Simulator) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.SwapResult, error) {
	if venue == "" {
		return nil, types.NewError(types.KindVenuePermanent, "unknown venue")
	}
	if amountIn <= 0 {
		return nil, types.NewError(types.KindVenuePermanent, "amountIn must be positive")
	}
	if err := s.sleepLatency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	p := s.poolFor(venue, tokenIn, tokenOut)
	amt := decimal.NewFromFloat(amountIn)
	out, fee := p.swapOut(amt)
	p.reserveIn = p.reserveIn.Add(amt)
	p.reserveOut = p.reserveOut.Sub(out)
	s.mu.Unlock()

	a, b := uuid.New(), uuid.New()
	return &types.SwapResult{
		Venue:         venue,
		TxHash:        fmt.Sprintf("0x%x%x", a[:], b[:]),
		AmountOut:     out.InexactFloat64(),
		ExecutedPrice: out.Div(amt).InexactFloat64(),
		Fee:           fee.InexactFloat64(),
	}, nil
}
