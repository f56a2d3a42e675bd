// Package billing turns Stripe subscription webhooks into plan entitlements.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var (
	ErrNotConfigured    = errors.New("stripe webhook not configured")
	ErrInvalidSignature = errors.New("invalid stripe signature")
)

const EventEntitlementChanged = "booking.entitlement.changed.v1"

type Outcome string

const (
	OutcomeApplied   Outcome = "ok"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Config struct {
	Secret           string
	Tolerance        time.Duration
	FreeMonthlyLimit int
}

type Webhooks struct {
	store  storage.Store
	cfg    Config
	logger *slog.Logger
}

func NewWebhooks(store storage.Store, logger *slog.Logger, cfg Config) *Webhooks {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	return &Webhooks{store: store, cfg: cfg, logger: logger}
}

// HandleStripe verifies and applies one webhook delivery. Replayed events are
// reported as duplicates and change nothing.
func (w *Webhooks) HandleStripe(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if strings.TrimSpace(w.cfg.Secret) == "" {
		return "", ErrNotConfigured
	}
	// Only metadata and status are read, so any account API version is accepted.
	evt, err := webhook.ConstructEventWithOptions(payload, signature, w.cfg.Secret, webhook.ConstructEventOptions{
		Tolerance:                w.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", ErrInvalidSignature
	}
	evtType := string(evt.Type)
	w.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	outcome := OutcomeIgnored
	err = w.store.WithTx(ctx, func(q storage.Queries) error {
		first, err := q.RecordProviderEvent(ctx, "stripe", evt.ID, evtType)
		if err != nil {
			return err
		}
		if !first {
			outcome = OutcomeDuplicate
			return nil
		}

		ent, ok := w.entitlementFor(evt)
		if !ok {
			return nil
		}
		if err := q.UpsertEntitlement(ctx, ent); err != nil {
			return err
		}
		limit := ent.MaxMonthlyAppointments
		if limit == 0 {
			limit = w.cfg.FreeMonthlyLimit
		}
		event, err := outbox.NewEvent("business", ent.BusinessID, EventEntitlementChanged, map[string]any{
			"business_id":              ent.BusinessID,
			"tier":                     ent.Tier,
			"max_monthly_appointments": limit,
			"provider_event_id":        evt.ID,
			"occurred_at":              time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := q.InsertOutboxEvent(ctx, event, storage.OutboxMeta{}); err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeDuplicate {
		w.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
	}
	return outcome, nil
}

// entitlementFor maps a subscription event to the entitlement it implies.
// A zero MaxMonthlyAppointments means the free limit.
func (w *Webhooks) entitlementFor(evt stripe.Event) (model.Entitlement, bool) {
	switch evt.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		return model.Entitlement{}, false
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		w.logger.Error("stripe: invalid subscription payload", "err", err)
		return model.Entitlement{}, false
	}
	businessID := strings.TrimSpace(sub.Metadata["business_id"])
	if businessID == "" {
		w.logger.Warn("stripe: missing business_id metadata on subscription", "subscription_id", sub.ID)
		return model.Entitlement{}, false
	}
	free := model.Entitlement{BusinessID: businessID, Tier: model.TierFree}

	if evt.Type == "customer.subscription.deleted" {
		return free, true
	}
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return free, true
	}
	tier := strings.ToLower(strings.TrimSpace(sub.Metadata["tier"]))
	limit, ok := model.TierLimit(tier, 0)
	if !ok {
		w.logger.Warn("stripe: unknown tier on subscription", "tier", tier, "subscription_id", sub.ID)
		return model.Entitlement{}, false
	}
	return model.Entitlement{BusinessID: businessID, Tier: tier, MaxMonthlyAppointments: limit}, true
}
