package settlement

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/payout"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/money"
)

// StripeProvider off-ramps via Stripe payouts. Idempotency rides on Stripe's
// idempotency keys, keyed by the invocation id.
type StripeProvider struct{}

// NewStripeProvider configures the Stripe client and returns the provider.
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{}
}

func (s *StripeProvider) ProcessOffRamp(ctx context.Context, req OffRampRequest) (*OffRampResult, error) {
	cents, err := toCents(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.InvocationID)

	p, err := payout.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payout failed: %w", err)
	}
	return &OffRampResult{TransactionID: p.ID}, nil
}

// toCents converts a decimal amount to the minor units Stripe expects.
func toCents(amount string) (int64, error) {
	micros, ok := money.Parse(amount)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	// money keeps six decimal places; Stripe wants two.
	cents := micros.Int64() / 10000
	return cents, nil
}
