package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
)

const stripeCheckoutCompleted = "checkout.session.completed"

// WebhookResult reports what a payment event did.
type WebhookResult struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	Handled    bool              `json:"handled"`
	Activation *ActivationResult `json:"activation,omitempty"`
}

// BillingService applies payment provider callbacks.
type BillingService interface {
	// HandleStripeWebhook verifies the signature and activates paid checkouts; replays are no-ops.
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
}

type billingService struct {
	secret string
	plans  PlanService
	logger *slog.Logger
}

func NewBillingService(secret string, plans PlanService, logger *slog.Logger) BillingService {
	return &billingService{secret: secret, plans: plans, logger: logging.Component(logger, "billing")}
}

func (s *billingService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "stripe signature rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if event.Type != stripeCheckoutCompleted {
		return result, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, invalidField("data", "malformed checkout session")
	}
	if session.PaymentStatus != "paid" {
		s.logger.InfoContext(ctx, "checkout not paid yet", "session", session.ID, "payment_status", session.PaymentStatus)
		return result, nil
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(session.ClientReferenceID), 10, 64)
	if err != nil || userID <= 0 {
		return nil, invalidField("client_reference_id", "must be a user id")
	}
	planType := strings.ToLower(strings.TrimSpace(session.Metadata["plan_type"]))
	if planType == "" || planType == repository.PlanFree {
		return nil, invalidField("metadata.plan_type", "must name a paid plan")
	}
	days := 0
	if raw := session.Metadata["duration_days"]; raw != "" {
		if days, err = strconv.Atoi(raw); err != nil || days < 0 {
			return nil, invalidField("metadata.duration_days", "must be a positive number")
		}
	}

	activation, err := s.plans.ActivatePlan(ctx, ActivationInput{
		UserID:        userID,
		PlanType:      planType,
		DurationDays:  days,
		Amount:        session.AmountTotal / 100,
		Source:        repository.SourceStripe,
		TransactionID: session.ID,
	})
	if err != nil {
		return nil, err
	}
	result.Handled = true
	result.Activation = activation
	s.logger.InfoContext(ctx, "stripe checkout applied", "session", session.ID, "user_id", userID,
		"plan", planType, "inserted", activation.Inserted, "credited", activation.Credited)
	return result, nil
}
