package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omg-license-server/internal/model"
	"omg-license-server/internal/store"

	"github.com/rs/zerolog"
)

// SubscriptionState is the normalized view of a billing subscription
// extracted from a webhook payload.
type SubscriptionState struct {
	SubID       string
	CustomerRef string
	Status      string
	Tier        model.Tier
	PeriodEnd   time.Time
}

// SubscriptionEvent is the tagged union of billing events this server
// reacts to. Handling in Apply is exhaustive: a new variant does not
// compile until Apply handles it.
type SubscriptionEvent interface {
	subscriptionEvent() SubscriptionState
}

type SubscriptionCreated struct{ State SubscriptionState }
type SubscriptionUpdated struct{ State SubscriptionState }
type SubscriptionDeleted struct{ State SubscriptionState }

func (e SubscriptionCreated) subscriptionEvent() SubscriptionState { return e.State }
func (e SubscriptionUpdated) subscriptionEvent() SubscriptionState { return e.State }
func (e SubscriptionDeleted) subscriptionEvent() SubscriptionState { return e.State }

// CustomerSource looks up customer contact details at the billing
// provider. Only consulted when a subscription arrives for a customer
// reference we have never seen; fallible and safe to retry because the
// provider redelivers the event.
type CustomerSource interface {
	LookupCustomer(ctx context.Context, customerRef string) (email, name string, err error)
}

// Reconciler converges local license and subscription state with the
// billing provider's event stream. Every step is an idempotent upsert,
// so an event can be applied any number of times, in whole or after a
// mid-sequence failure, and the end state is the same.
type Reconciler struct {
	store     *store.Store
	customers CustomerSource
	log       zerolog.Logger
}

func NewReconciler(st *store.Store, customers CustomerSource, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: st, customers: customers, log: log}
}

// Apply processes one billing event.
func (r *Reconciler) Apply(ctx context.Context, ev SubscriptionEvent) error {
	switch e := ev.(type) {
	case SubscriptionCreated:
		return r.applyUpsert(ctx, e.State)
	case SubscriptionUpdated:
		return r.applyUpsert(ctx, e.State)
	case SubscriptionDeleted:
		return r.applyCancel(e.State)
	default:
		return fmt.Errorf("reconciler: unhandled event %T", ev)
	}
}

// terminalStatus reports whether the provider considers the
// subscription dead for good.
func terminalStatus(status string) bool {
	switch status {
	case "canceled", "incomplete_expired", "unpaid":
		return true
	}
	return false
}

func (r *Reconciler) applyUpsert(ctx context.Context, state SubscriptionState) error {
	if terminalStatus(state.Status) {
		return r.applyCancel(state)
	}
	if state.Status != "active" && state.Status != "trialing" {
		// past_due and friends: mirror the subscription, leave the
		// license alone until the provider settles on a terminal state.
		customer, err := r.store.FindCustomerByStripeID(state.CustomerRef)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return r.store.UpsertSubscriptionFromWebhook(state.SubID, state.Status, state.PeriodEnd, customer.ID)
	}

	customer, err := r.ensureCustomer(ctx, state.CustomerRef)
	if err != nil {
		return err
	}

	if err := r.store.UpsertSubscriptionFromWebhook(state.SubID, state.Status, state.PeriodEnd, customer.ID); err != nil {
		return err
	}

	license, err := r.store.UpsertLicenseForSubscription(customer.ID, state.Tier, state.PeriodEnd, &model.AuditEntry{
		ActorCustomerID: customer.ID,
		Action:          "subscription.activated",
		Details:         fmt.Sprintf(`{"subscription":%q,"status":%q}`, state.SubID, state.Status),
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Str("customer", customer.ID).
		Str("license", license.ID).
		Str("tier", state.Tier.String()).
		Time("expires_at", state.PeriodEnd).
		Msg("subscription reconciled")
	return nil
}

func (r *Reconciler) applyCancel(state SubscriptionState) error {
	customer, err := r.store.FindCustomerByStripeID(state.CustomerRef)
	if errors.Is(err, store.ErrNotFound) {
		// Cancellation for a customer we never created; nothing to
		// converge.
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.UpsertSubscriptionFromWebhook(state.SubID, state.Status, state.PeriodEnd, customer.ID); err != nil {
		return err
	}

	if err := r.store.CancelCustomerLicenses(customer.ID, &model.AuditEntry{
		ActorCustomerID: customer.ID,
		Action:          "subscription.cancelled",
		ResourceType:    "customer",
		ResourceID:      customer.ID,
		Details:         fmt.Sprintf(`{"subscription":%q}`, state.SubID),
	}); err != nil {
		return err
	}

	r.log.Info().Str("customer", customer.ID).Msg("subscription cancelled, licenses downgraded")
	return nil
}

// ensureCustomer resolves the customer for a billing reference, asking
// the provider for contact details the first time the reference shows
// up. Idempotent on the customer's email.
func (r *Reconciler) ensureCustomer(ctx context.Context, customerRef string) (*model.Customer, error) {
	customer, err := r.store.FindCustomerByStripeID(customerRef)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	email, name, err := r.customers.LookupCustomer(ctx, customerRef)
	if err != nil {
		return nil, fmt.Errorf("lookup billing customer %s: %w", customerRef, err)
	}
	return r.store.GetOrCreateCustomer(email, name, customerRef)
}
