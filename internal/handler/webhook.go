package handler

import (
	"encoding/json"

	"omg-license-server/internal/service"
	"omg-license-server/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

type WebhookHandler struct {
	reconciler    *service.Reconciler
	store         *store.Store
	webhookSecret string
	log           zerolog.Logger
}

func NewWebhookHandler(reconciler *service.Reconciler, st *store.Store, webhookSecret string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler:    reconciler,
		store:         st,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// HandleBillingWebhook receives Stripe events: POST /api/billing-webhook.
//
// Contract: 400 on unparseable or badly signed bodies without touching
// state, 200 once parsed even for event types this server ignores, and
// 5xx when a store write fails so Stripe redelivers. Redelivery is safe
// because the reconciler only does idempotent upserts.
func (h *WebhookHandler) HandleBillingWebhook(c *fiber.Ctx) error {
	payload := c.Body()

	var event stripe.Event
	if h.webhookSecret != "" {
		var err error
		event, err = webhook.ConstructEvent(payload, c.Get("Stripe-Signature"), h.webhookSecret)
		if err != nil {
			h.log.Warn().Err(err).Msg("webhook signature rejected")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid webhook signature",
			})
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook body",
		})
	}

	switch string(event.Type) {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		if event.Data == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing event data",
			})
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid subscription payload",
			})
		}

		state := service.SubscriptionStateFromStripe(&sub)
		var ev service.SubscriptionEvent
		switch string(event.Type) {
		case "customer.subscription.created":
			ev = service.SubscriptionCreated{State: state}
		case "customer.subscription.updated":
			ev = service.SubscriptionUpdated{State: state}
		case "customer.subscription.deleted":
			ev = service.SubscriptionDeleted{State: state}
		}

		if err := h.reconciler.Apply(c.Context(), ev); err != nil {
			h.log.Error().Err(err).Str("event", event.ID).Msg("webhook reconciliation failed")
			h.store.RecordWebhookEvent(event.ID, string(event.Type), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "reconciliation failed",
			})
		}

	default:
		h.log.Debug().Str("type", string(event.Type)).Msg("ignoring webhook event type")
	}

	h.store.RecordWebhookEvent(event.ID, string(event.Type), nil)
	return c.SendStatus(fiber.StatusOK)
}
