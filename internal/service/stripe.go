package service

import (
	"context"
	"fmt"
	"time"

	"omg-license-server/internal/model"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
)

// StripeCustomerSource fetches customer contact details from the
// Stripe API.
type StripeCustomerSource struct{}

func NewStripeCustomerSource(secretKey string) *StripeCustomerSource {
	stripe.Key = secretKey
	return &StripeCustomerSource{}
}

func (s *StripeCustomerSource) LookupCustomer(ctx context.Context, customerRef string) (string, string, error) {
	cust, err := customer.Get(customerRef, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetch stripe customer: %w", err)
	}
	return cust.Email, cust.Name, nil
}

// SubscriptionStateFromStripe normalizes a Stripe subscription payload
// into the reconciler's view of it. Tier rides on the subscription's
// metadata; an absent or unknown value means pro, the entry-level paid
// tier.
func SubscriptionStateFromStripe(sub *stripe.Subscription) SubscriptionState {
	state := SubscriptionState{
		SubID:     sub.ID,
		Status:    string(sub.Status),
		Tier:      model.TierPro,
		PeriodEnd: subscriptionPeriodEnd(sub),
	}
	if sub.Customer != nil {
		state.CustomerRef = sub.Customer.ID
	}
	if tier, ok := sub.Metadata["tier"]; ok {
		state.Tier = model.ParseTier(tier)
	}
	return state
}

func subscriptionPeriodEnd(sub *stripe.Subscription) time.Time {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}
	if sub.CancelAt > 0 {
		return time.Unix(sub.CancelAt, 0)
	}
	// Payload without a period end; cover one billing cycle.
	return time.Now().AddDate(0, 1, 0)
}
