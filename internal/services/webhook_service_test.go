package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/store"
)

func newWebhookService(st *MockStore, pc *MockProviderClient) *WebhookService {
	balances := NewBalanceService(st)
	ledger := NewLedgerService(st, balances)
	recurring := NewRecurringService(st, pc)
	return NewWebhookService(st, pc, ledger, recurring)
}

func eventWithObject(t *testing.T, id, eventType string, object any) *provider.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	assert.NoError(t, err)
	return &provider.Event{ID: id, Type: eventType, Data: provider.EventData{Object: raw}}
}

func TestWebhookService_Process_Gate(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(nil, provider.ErrInvalidSignature)

		_, err := ws.Process(context.Background(), []byte(`{}`), "t=1,v1=bad")
		assert.ErrorIs(t, err, provider.ErrInvalidSignature)
		st.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing event id", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(&provider.Event{Type: "invoice.paid"}, nil)

		_, err := ws.Process(context.Background(), []byte(`{}`), "sig")
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("replay of non-dispatchable type short-circuits", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		event := eventWithObject(t, "evt_dup", EventSubscriptionDeleted, map[string]any{"id": "sub_1"})
		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
		st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
			Return(nil, store.ErrDuplicateKey)

		result, err := ws.Process(context.Background(), []byte(`{}`), "sig")
		assert.NoError(t, err)
		assert.True(t, result.Duplicate)
		st.AssertNotCalled(t, "Filter", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown event type acknowledged", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		event := eventWithObject(t, "evt_x", "customer.updated", map[string]any{"id": "cus_1"})
		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
		st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
			Return(store.Record{"id": "evt_x"}, nil)

		result, err := ws.Process(context.Background(), []byte(`{}`), "sig")
		assert.NoError(t, err)
		assert.True(t, result.Received)
		assert.False(t, result.Duplicate)
	})
}

func TestWebhookService_DuplicateCheckoutDelivery(t *testing.T) {
	// Member owes 50.00; the same checkout.session.completed (payment mode,
	// 20.00) arrives twice. Exactly one payment row lands and the balance
	// ends at 30.00.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_1", EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"mode":           "payment",
		"payment_intent": "pi_1",
		"amount_total":   2000,
		"metadata":       map[string]string{"member_id": "mem_1"},
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)

	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_1"}, nil).Once()
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(nil, store.ErrDuplicateKey).Once()

	st.On("Create", mock.Anything, "member_transactions", mock.MatchedBy(func(rec store.Record) bool {
		return rec["provider_payment_id"] == "pi_1" && rec["amount"] == 20.0
	})).Return(store.Record{"id": "txn_1"}, nil).Once()
	st.On("Create", mock.Anything, "member_transactions", mock.Anything).
		Return(nil, store.ErrDuplicateKey).Once()

	st.On("Filter", mock.Anything, "members", map[string]string{"id": "mem_1"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "mem_1", "total_owed": 50.0}}, nil)
	st.On("Update", mock.Anything, "members", "mem_1", map[string]any{"total_owed": 30.0}).
		Return(store.Record{"id": "mem_1", "total_owed": 30.0}, nil)

	first, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	assert.True(t, second.Duplicate)

	st.AssertNumberOfCalls(t, "Update", 1)
	st.AssertExpectations(t)
}

func TestWebhookService_SubscriptionDeletedBeforeCreation(t *testing.T) {
	// Deletion racing ahead of the creation record is a no-op, not an error.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_del", EventSubscriptionDeleted, map[string]any{"id": "sub_unknown"})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_del"}, nil)
	st.On("Filter", mock.Anything, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": "sub_unknown"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{}, nil)

	result, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	st.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_InvoicePaymentFailed(t *testing.T) {
	// Failed membership invoice for 30.00: one charge, no payment, +30.00.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_f", EventInvoiceFailed, map[string]any{
		"id":           "in_9",
		"subscription": "sub_1",
		"amount_due":   3000,
		"period_start": 1756684800,
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_f"}, nil)

	st.On("Filter", mock.Anything, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": "sub_1"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{
			"id": "rp_1", "account_id": "mem_1", "account_kind": "member",
			"payment_type": "membership", "provider_subscription_id": "sub_1", "is_active": true,
		}}, nil)

	st.On("Filter", mock.Anything, "member_transactions",
		map[string]string{"provider_invoice_id": "in_9", "type": "charge"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{}, nil)
	st.On("Create", mock.Anything, "member_transactions", mock.MatchedBy(func(rec store.Record) bool {
		return rec["type"] == "charge" && rec["amount"] == 30.0
	})).Return(store.Record{"id": "txn"}, nil)

	st.On("Filter", mock.Anything, "members", map[string]string{"id": "mem_1"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "mem_1", "total_owed": 0.0}}, nil)
	st.On("Update", mock.Anything, "members", "mem_1", map[string]any{"total_owed": 30.0}).
		Return(store.Record{"id": "mem_1"}, nil)

	_, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	st.AssertExpectations(t)
}

func TestWebhookService_InvoicePaid_PayoffDecrement(t *testing.T) {
	// A paid payoff invoice both settles the ledger and counts down the plan.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_p", EventInvoicePaid, map[string]any{
		"id":           "in_5",
		"subscription": "sub_9",
		"amount_paid":  10000,
		"period_start": 1756684800,
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_p"}, nil)

	st.On("Filter", mock.Anything, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": "sub_9"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{
			"id": "rp_9", "account_id": "mem_2", "account_kind": "member",
			"payment_type": "balance_payoff", "provider_subscription_id": "sub_9",
			"is_active": true, "remaining_amount": 100.0, "total_amount": 300.0,
		}}, nil)

	st.On("Filter", mock.Anything, "member_transactions", mock.Anything, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{}, nil)
	st.On("Create", mock.Anything, "member_transactions", mock.Anything).
		Return(store.Record{"id": "txn"}, nil).Twice()

	st.On("Filter", mock.Anything, "members", map[string]string{"id": "mem_2"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "mem_2", "total_owed": 100.0}}, nil)
	st.On("Update", mock.Anything, "members", "mem_2", map[string]any{"total_owed": 0.0}).
		Return(store.Record{"id": "mem_2"}, nil)

	// 100.00 paid against 100.00 remaining: the plan finishes and the
	// provider subscription is canceled best-effort.
	st.On("Update", mock.Anything, models.EntityRecurringPayments, "rp_9", mock.MatchedBy(func(patch map[string]any) bool {
		return patch["remaining_amount"] == 0.0 && patch["is_active"] == false
	})).Return(store.Record{"id": "rp_9"}, nil)
	pc.On("CancelSubscription", mock.Anything, "sub_9").Return(nil)

	_, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	st.AssertExpectations(t)
	pc.AssertExpectations(t)
}

func TestWebhookService_InvoicePaid_ReplayDoesNotDecrementPayoff(t *testing.T) {
	// A replayed invoice.paid is re-dispatched past the event gate, but once
	// the ledger reports the payment row as already recorded the payoff plan
	// must keep its remaining amount and stay active.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_p", EventInvoicePaid, map[string]any{
		"id":           "in_5",
		"subscription": "sub_9",
		"amount_paid":  5000,
		"period_start": 1756684800,
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(nil, store.ErrDuplicateKey)

	st.On("Filter", mock.Anything, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": "sub_9"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{
			"id": "rp_9", "account_id": "mem_2", "account_kind": "member",
			"payment_type": "balance_payoff", "provider_subscription_id": "sub_9",
			"is_active": true, "remaining_amount": 250.0, "total_amount": 300.0,
		}}, nil)

	st.On("Filter", mock.Anything, "member_transactions",
		map[string]string{"provider_invoice_id": "in_5", "type": "charge"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "txn_c"}}, nil)
	st.On("Filter", mock.Anything, "member_transactions",
		map[string]string{"provider_invoice_id": "in_5", "type": "payment"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "txn_p"}}, nil)

	result, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	assert.True(t, result.Duplicate)
	st.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pc.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
}

func TestWebhookService_CheckoutPayment_MissingPaymentIntent(t *testing.T) {
	// A payment-mode checkout without a payment_intent still gets a durable
	// dedup key: the session id stands in as the provider payment id.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_np", EventCheckoutCompleted, map[string]any{
		"id":           "cs_9",
		"mode":         "payment",
		"amount_total": 1500,
		"metadata":     map[string]string{"guest_id": "gst_1"},
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_np"}, nil)

	st.On("Create", mock.Anything, "guest_transactions", mock.MatchedBy(func(rec store.Record) bool {
		return rec["provider_payment_id"] == "cs_9" && rec["amount"] == 15.0
	})).Return(store.Record{"id": "txn"}, nil).Once()

	st.On("Filter", mock.Anything, "guests", map[string]string{"id": "gst_1"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "gst_1", "total_owed": 15.0}}, nil)
	st.On("Update", mock.Anything, "guests", "gst_1", map[string]any{"total_owed": 0.0}).
		Return(store.Record{"id": "gst_1"}, nil)

	_, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	st.AssertExpectations(t)
}

func TestWebhookService_InvoicePaid_ResolvesViaProviderMetadata(t *testing.T) {
	// Invoice racing ahead of the checkout record falls back to the
	// subscription's own metadata.
	st := new(MockStore)
	pc := new(MockProviderClient)
	ws := newWebhookService(st, pc)

	event := eventWithObject(t, "evt_r", EventInvoicePaid, map[string]any{
		"id":           "in_7",
		"subscription": "sub_new",
		"amount_paid":  2500,
		"period_start": 1756684800,
	})
	pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
	pc.On("RetrieveSubscription", mock.Anything, "sub_new").Return(&provider.Subscription{
		ID:       "sub_new",
		Metadata: map[string]string{"payment_type": "membership", "member_id": "mem_3"},
	}, nil)

	st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
		Return(store.Record{"id": "evt_r"}, nil)
	st.On("Filter", mock.Anything, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": "sub_new"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{}, nil)
	st.On("Filter", mock.Anything, "member_transactions", mock.Anything, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{}, nil)
	st.On("Create", mock.Anything, "member_transactions", mock.Anything).
		Return(store.Record{"id": "txn"}, nil).Twice()
	st.On("Filter", mock.Anything, "members", map[string]string{"id": "mem_3"}, &store.FilterOptions{Limit: 1}).
		Return([]store.Record{{"id": "mem_3", "total_owed": 0.0}}, nil)
	st.On("Update", mock.Anything, "members", "mem_3", map[string]any{"total_owed": 0.0}).
		Return(store.Record{"id": "mem_3"}, nil)

	_, err := ws.Process(context.Background(), []byte(`{}`), "sig")
	assert.NoError(t, err)
	pc.AssertExpectations(t)
}

func TestWebhookService_HandleWebhook_HTTP(t *testing.T) {
	t.Run("bad signature returns 400", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(nil, provider.ErrInvalidSignature)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		ws.HandleWebhook(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("success returns received true", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		event := eventWithObject(t, "evt_ok", "customer.updated", map[string]any{"id": "cus_1"})
		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
		st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
			Return(store.Record{"id": "evt_ok"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(`{}`))
		req.Header.Set(SignatureHeader, "t=1,v1=abc")
		rr := httptest.NewRecorder()
		ws.HandleWebhook(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var result WebhookResult
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.True(t, result.Received)
		assert.False(t, result.Duplicate)
	})

	t.Run("replay returns duplicate true", func(t *testing.T) {
		st := new(MockStore)
		pc := new(MockProviderClient)
		ws := newWebhookService(st, pc)

		event := eventWithObject(t, "evt_dup", EventSubscriptionDeleted, map[string]any{"id": "sub_1"})
		pc.On("VerifyEvent", mock.Anything, mock.Anything).Return(event, nil)
		st.On("Create", mock.Anything, models.EntityProcessedEvents, mock.Anything).
			Return(nil, store.ErrDuplicateKey)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(`{}`))
		req.Header.Set(SignatureHeader, "t=1,v1=abc")
		rr := httptest.NewRecorder()
		ws.HandleWebhook(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var result WebhookResult
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.True(t, result.Duplicate)
	})
}
