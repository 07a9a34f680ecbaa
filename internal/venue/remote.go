package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"swap-router/internal/config"
	"swap-router/pkg/types"
)

// Remote implements Client against an HTTP venue gateway:
//
//	GET  /venues/{venue}/quote?tokenIn=&tokenOut=&amountIn=
//	POST /venues/{venue}/swap
//
// Requests retry on 5xx with backoff, and a circuit breaker per gateway
// stops hammering a venue service that is clearly down. Open-circuit and
// transport errors surface as venue_transient so the worker retry policy
// treats them as retryable; 4xx responses are venue_permanent.
type Remote struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewRemote creates a gateway client with retry and a circuit breaker.
func NewRemote(cfg config.GatewayConfig, logger *slog.Logger) *Remote {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "venue-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Remote{
		http:    httpClient,
		breaker: breaker,
		logger:  logger.With("component", "venue-gateway"),
	}
}

type swapRequest struct {
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	AmountIn float64 `json:"amountIn"`
}

func (r *Remote) GetQuote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.Quote, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		var quote types.Quote
		resp, err := r.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"tokenIn":  tokenIn,
				"tokenOut": tokenOut,
				"amountIn": fmt.Sprintf("%g", amountIn),
			}).
			SetResult(&quote).
			Get("/venues/" + venue + "/quote")
		if err != nil {
			return nil, types.WrapError(types.KindVenueTransient, "quote request failed", err)
		}
		if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
			return nil, err
		}
		return &quote, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return res.(*types.Quote), nil
}

func (r *Remote) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn float64) (*types.SwapResult, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		var result types.SwapResult
		resp, err := r.http.R().
			SetContext(ctx).
			SetBody(swapRequest{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn}).
			SetResult(&result).
			Post("/venues/" + venue + "/swap")
		if err != nil {
			return nil, types.WrapError(types.KindVenueTransient, "swap request failed", err)
		}
		if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return res.(*types.SwapResult), nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(code int, body string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return types.NewError(types.KindVenueTransient, fmt.Sprintf("status %d: %s", code, body))
	default:
		return types.NewError(types.KindVenuePermanent, fmt.Sprintf("status %d: %s", code, body))
	}
}

// breakerErr normalizes gobreaker's own errors into the taxonomy.
func breakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return types.WrapError(types.KindVenueTransient, "venue gateway circuit open", err)
	}
	return err
}
