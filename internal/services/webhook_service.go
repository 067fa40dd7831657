package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/store"
)

// ErrMalformedEvent is returned when a verified payload lacks a stable event
// identifier.
var ErrMalformedEvent = errors.New("event missing identifier")

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "X-Provider-Signature"

const (
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// replaySafeDispatch lists event types that are dispatched even when the
// processed-event log flags them as replays. A single economic event can
// produce several provider-level notifications of these types; the ledger
// writer's own (invoice id, type) key checks each one independently.
var replaySafeDispatch = map[string]bool{
	EventInvoicePaid:       true,
	EventCheckoutCompleted: true,
}

// WebhookResult is the webhook endpoint's success response body.
type WebhookResult struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// WebhookService receives signed provider events, deduplicates them against
// the processed-event log, and dispatches to the ledger and recurring-payment
// services. Handlers for different events may run concurrently; the only
// cross-event mutual exclusion is the store's unique constraints.
type WebhookService struct {
	store     store.Store
	provider  provider.Client
	ledger    *LedgerService
	recurring *RecurringService
}

func NewWebhookService(st store.Store, pc provider.Client, ledger *LedgerService, recurring *RecurringService) *WebhookService {
	return &WebhookService{store: st, provider: pc, ledger: ledger, recurring: recurring}
}

// HandleWebhook is the inbound endpoint for provider notifications. The body
// is kept byte-exact for signature verification. Non-2xx responses trigger
// the provider's own redelivery with backoff, which is this engine's retry
// mechanism.
func (ws *WebhookService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	result, err := ws.Process(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidSignature):
			http.Error(w, "Signature verification failed", http.StatusBadRequest)
		case errors.Is(err, ErrMalformedEvent):
			http.Error(w, "Event missing identifier", http.StatusBadRequest)
		default:
			log.Printf("[WEBHOOK] Processing failed: %v", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": "Failed to process event"})
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Process verifies the payload, records the event id, and dispatches. A
// duplicate event id short-circuits unless the event type is replay-safe.
func (ws *WebhookService) Process(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	event, err := ws.provider.VerifyEvent(payload, sigHeader)
	if err != nil {
		return nil, err
	}
	if event.ID == "" {
		return nil, ErrMalformedEvent
	}

	rec, err := store.ToRecord(models.ProcessedEvent{
		ID:         event.ID,
		EventType:  event.Type,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	duplicate := false
	if _, err := ws.store.Create(ctx, models.EntityProcessedEvents, rec); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("record event %s: %w", event.ID, err)
		}
		duplicate = true
	}

	if duplicate && !replaySafeDispatch[event.Type] {
		log.Printf("[WEBHOOK] Replay of event %s (%s), skipping", event.ID, event.Type)
		return &WebhookResult{Received: true, Duplicate: true}, nil
	}

	if err := ws.dispatch(ctx, event); err != nil {
		return nil, err
	}
	return &WebhookResult{Received: true, Duplicate: duplicate}, nil
}

func (ws *WebhookService) dispatch(ctx context.Context, event *provider.Event) error {
	switch event.Type {
	case EventInvoicePaid:
		return ws.handleInvoicePaid(ctx, event)
	case EventInvoiceFailed:
		return ws.handleInvoiceFailed(ctx, event)
	case EventCheckoutCompleted:
		return ws.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionDeleted:
		var sub provider.Subscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return fmt.Errorf("decode subscription object: %w", err)
		}
		return ws.recurring.HandleSubscriptionDeleted(ctx, sub.ID)
	default:
		log.Printf("[WEBHOOK] Ignoring event type %s", event.Type)
		return nil
	}
}

func (ws *WebhookService) handleInvoicePaid(ctx context.Context, event *provider.Event) error {
	var inv provider.Invoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return fmt.Errorf("decode invoice object: %w", err)
	}
	if inv.Subscription == "" {
		log.Printf("[WEBHOOK] Invoice %s has no subscription, ignoring", inv.ID)
		return nil
	}

	rp, ref, paymentType, err := ws.resolveSubscriptionAccount(ctx, inv.Subscription)
	if err != nil {
		return err
	}
	if ref == nil {
		log.Printf("[WEBHOOK] Invoice %s resolves to no known account, acknowledging", inv.ID)
		return nil
	}

	periodStart := time.Unix(inv.PeriodStart, 0).UTC()
	paymentApplied, err := ws.ledger.RecordInvoicePaid(ctx, ref.kind, ref.accountID, inv.AmountPaid, periodStart, inv.ID, describePaymentType(paymentType))
	if err != nil {
		return err
	}

	// The payoff countdown rides on the same (invoice id, type) key as the
	// ledger: a replayed invoice whose payment row already exists must not
	// decrement the plan a second time.
	if paymentApplied && rp != nil && rp.IsPayoff() {
		return ws.recurring.ApplyPayoffPayment(ctx, rp, inv.AmountPaid)
	}
	return nil
}

func (ws *WebhookService) handleInvoiceFailed(ctx context.Context, event *provider.Event) error {
	var inv provider.Invoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return fmt.Errorf("decode invoice object: %w", err)
	}
	if inv.Subscription == "" {
		return nil
	}

	_, ref, paymentType, err := ws.resolveSubscriptionAccount(ctx, inv.Subscription)
	if err != nil {
		return err
	}
	if ref == nil {
		log.Printf("[WEBHOOK] Failed invoice %s resolves to no known account, acknowledging", inv.ID)
		return nil
	}

	// Only a failed membership invoice leaves the member owing dues; other
	// plan types retry on the provider side without touching the ledger.
	if paymentType != models.PaymentTypeMembership {
		log.Printf("[WEBHOOK] Payment failure for %s plan %s, no ledger effect", paymentType, inv.Subscription)
		return nil
	}

	periodStart := time.Unix(inv.PeriodStart, 0).UTC()
	return ws.ledger.RecordInvoiceFailed(ctx, ref.kind, ref.accountID, inv.AmountDue, periodStart, inv.ID, "Membership Dues (payment failed)")
}

func (ws *WebhookService) handleCheckoutCompleted(ctx context.Context, event *provider.Event) error {
	var sess provider.CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &sess); err != nil {
		return fmt.Errorf("decode checkout session object: %w", err)
	}

	ref := resolveAccountMetadata(sess.Metadata)
	if ref == nil {
		log.Printf("[WEBHOOK] Checkout %s carries no account metadata, acknowledging", sess.ID)
		return nil
	}

	switch sess.Mode {
	case "payment":
		// The payment id is the dedup key and the unique index skips empty
		// values, so a session without a payment_intent falls back to the
		// session id.
		paymentID := sess.PaymentIntent
		if paymentID == "" {
			paymentID = sess.ID
		}
		return ws.ledger.RecordOneTimePayment(ctx, ref.kind, ref.accountID, sess.AmountTotal, paymentID, "One-Time Payment")
	case "subscription":
		paymentType := sess.Metadata["payment_type"]
		if paymentType == "" {
			paymentType = models.PaymentTypeMembership
		}
		monthly, _ := strconv.ParseInt(sess.Metadata["amount_per_month_cents"], 10, 64)
		if monthly == 0 {
			monthly = sess.AmountTotal
		}
		total, _ := strconv.ParseInt(sess.Metadata["total_amount_cents"], 10, 64)

		return ws.recurring.UpsertFromCheckout(ctx, UpsertParams{
			Kind:                ref.kind,
			AccountID:           ref.accountID,
			SubscriptionID:      sess.Subscription,
			PaymentType:         paymentType,
			AmountPerMonthCents: monthly,
			TotalCents:          total,
			Start:               time.Now().UTC(),
		})
	default:
		log.Printf("[WEBHOOK] Checkout %s has unknown mode %q, ignoring", sess.ID, sess.Mode)
		return nil
	}
}

type accountRef struct {
	kind      models.AccountKind
	accountID string
}

// resolveAccountMetadata reads the member_id/guest_id correlation fields this
// backend writes into provider metadata at checkout creation.
func resolveAccountMetadata(md map[string]string) *accountRef {
	if id := md["member_id"]; id != "" {
		return &accountRef{kind: models.AccountKindMember, accountID: id}
	}
	if id := md["guest_id"]; id != "" {
		return &accountRef{kind: models.AccountKindGuest, accountID: id}
	}
	return nil
}

// resolveSubscriptionAccount maps a provider subscription id to the local
// recurring payment when one exists, falling back to the subscription's own
// metadata when the invoice raced ahead of the checkout event.
func (ws *WebhookService) resolveSubscriptionAccount(ctx context.Context, subscriptionID string) (*models.RecurringPayment, *accountRef, string, error) {
	rp, err := ws.recurring.FindBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, "", err
	}
	if rp != nil {
		return rp, &accountRef{kind: rp.AccountKind, accountID: rp.AccountID}, rp.PaymentType, nil
	}

	sub, err := ws.provider.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	ref := resolveAccountMetadata(sub.Metadata)
	if ref == nil {
		return nil, nil, "", nil
	}
	return nil, ref, sub.Metadata["payment_type"], nil
}

func describePaymentType(paymentType string) string {
	switch paymentType {
	case models.PaymentTypeMembership:
		return "Membership Dues"
	case models.PaymentTypeAdditionalMonthly:
		return "Additional Monthly Payment"
	case models.PaymentTypeBalancePayoff, models.PaymentTypeGuestPayoff:
		return "Balance Payoff"
	case models.PaymentTypeGuestDonation:
		return "Donation"
	default:
		return "Recurring Payment"
	}
}
