package service

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75/webhook"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/testutil"
)

const testWebhookSecret = "whsec_test_secret"

func checkoutEvent(t *testing.T, id string, userID int64, paymentStatus string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + id,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  id,
				"object":              "checkout.session",
				"client_reference_id": strconv.FormatInt(userID, 10),
				"payment_status":      paymentStatus,
				"amount_total":        999900,
				"metadata":            map[string]string{"plan_type": "empire", "duration_days": "30"},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func TestStripeWebhookActivatesPaidCheckoutOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewBillingService(testWebhookSecret, f.plans, discardLogger())
	user := testutil.CreateUser(t, f.store, repository.PlanFree)

	payload := checkoutEvent(t, "cs_test_1", user.ID, "paid")
	res, err := svc.HandleStripeWebhook(ctx, payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.NotNil(t, res.Activation)
	assert.True(t, res.Activation.Inserted)
	assert.Equal(t, int64(9999), res.Activation.Purchase.Amount)

	got, err := f.store.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanEmpire, got.PlanType)
	assert.Greater(t, got.PlanExpiresAt, time.Now().Add(29*24*time.Hour).Unix())

	replay, err := svc.HandleStripeWebhook(ctx, payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.False(t, replay.Activation.Inserted)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.store, repository.PlanFree)
	payload := checkoutEvent(t, "cs_test_2", user.ID, "paid")

	_, err := NewBillingService("", f.plans, discardLogger()).HandleStripeWebhook(ctx, payload, sign(payload, testWebhookSecret))
	require.ErrorIs(t, err, ErrInvalidSignature)

	svc := NewBillingService(testWebhookSecret, f.plans, discardLogger())
	_, err = svc.HandleStripeWebhook(ctx, payload, sign(payload, "whsec_other"))
	require.ErrorIs(t, err, ErrInvalidSignature)

	got, err := f.store.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PlanFree, got.PlanType)
}

func TestStripeWebhookIgnoresUnpaidAndOtherEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewBillingService(testWebhookSecret, f.plans, discardLogger())
	user := testutil.CreateUser(t, f.store, repository.PlanFree)

	unpaid := checkoutEvent(t, "cs_test_3", user.ID, "unpaid")
	res, err := svc.HandleStripeWebhook(ctx, unpaid, sign(unpaid, testWebhookSecret))
	require.NoError(t, err)
	assert.False(t, res.Handled)

	other, err := json.Marshal(map[string]any{
		"id": "evt_other", "object": "event", "type": "customer.created",
		"data": map[string]any{"object": map[string]any{"id": "cus_1", "object": "customer"}},
	})
	require.NoError(t, err)
	res, err = svc.HandleStripeWebhook(ctx, other, sign(other, testWebhookSecret))
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Equal(t, "customer.created", res.EventType)
}
