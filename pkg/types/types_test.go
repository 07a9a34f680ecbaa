package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPending, StatusRouting, true},
		{StatusRouting, StatusProcessing, true},
		{StatusProcessing, StatusBuilding, true},
		{StatusBuilding, StatusSubmitted, true},
		{StatusSubmitted, StatusConfirmed, true},
		{StatusPending, StatusProcessing, true}, // skipping ahead is legal
		{StatusPending, StatusFailed, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusRouting, StatusPending, false}, // no going back
		{StatusBuilding, StatusBuilding, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusFailed, StatusRouting, false},
		{StatusConfirmed, StatusConfirmed, true}, // terminal re-apply is a no-op
		{StatusFailed, StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []OrderStatus{StatusPending, StatusRouting, StatusProcessing, StatusBuilding, StatusSubmitted} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusConfirmed, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestOrderRequestValidate(t *testing.T) {
	t.Parallel()

	valid := OrderRequest{TokenIn: "SOL", TokenOut: "USDC", AmountIn: 100}

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
		ok     bool
	}{
		{"valid minimal", func(r *OrderRequest) {}, true},
		{"valid full", func(r *OrderRequest) {
			r.OrderType = OrderTypeMarket
			r.Slippage = 0.05
			r.RoutingStrategy = StrategyLowestSlippage
		}, true},
		{"missing tokenIn", func(r *OrderRequest) { r.TokenIn = "" }, false},
		{"missing tokenOut", func(r *OrderRequest) { r.TokenOut = "" }, false},
		{"same tokens", func(r *OrderRequest) { r.TokenOut = "SOL" }, false},
		{"zero amount", func(r *OrderRequest) { r.AmountIn = 0 }, false},
		{"negative amount", func(r *OrderRequest) { r.AmountIn = -5 }, false},
		{"amount over cap", func(r *OrderRequest) { r.AmountIn = MaxAmountIn + 1 }, false},
		{"limit orders unsupported", func(r *OrderRequest) { r.OrderType = "limit" }, false},
		{"negative slippage", func(r *OrderRequest) { r.Slippage = -0.1 }, false},
		{"slippage over cap", func(r *OrderRequest) { r.Slippage = 0.6 }, false},
		{"unknown strategy", func(r *OrderRequest) { r.RoutingStrategy = "CHEAPEST" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if KindOf(err) != KindValidation {
					t.Errorf("kind = %s, want validation", KindOf(err))
				}
			}
		})
	}
}

func TestStrategyValid(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		if !s.Valid() {
			t.Errorf("%s must be valid", s)
		}
	}
	if RoutingStrategy("BEST_VIBES").Valid() {
		t.Error("unknown strategy must not be valid")
	}
	if RoutingStrategy("").Valid() {
		t.Error("empty strategy must not be valid")
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	base := NewError(KindVenueTransient, "venue hiccup")
	wrapped := fmt.Errorf("job failed: %w", base)

	if KindOf(wrapped) != KindVenueTransient {
		t.Errorf("KindOf(wrapped) = %s, want venue_transient", KindOf(wrapped))
	}
	if !Retryable(wrapped) {
		t.Error("venue_transient must be retryable")
	}
	if Retryable(NewError(KindVenuePermanent, "rejected")) {
		t.Error("venue_permanent must not be retryable")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("untagged errors must report internal, got %s", KindOf(errors.New("plain")))
	}

	cause := errors.New("connection reset")
	we := WrapError(KindVenueTransient, "quote fetch failed", cause)
	if !errors.Is(we, cause) {
		t.Error("wrapped cause must survive errors.Is")
	}
}
