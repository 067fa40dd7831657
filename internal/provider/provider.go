package provider

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidSignature is returned when a webhook payload cannot be
	// authenticated against the shared secret. The body never reaches
	// business logic in that case, so redelivery is always safe.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Event is a verified webhook notification from the payment processor.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// Invoice is the provider-side invoice resource, as embedded in invoice
// events or returned by RetrieveInvoice. Amounts are in currency minor units.
type Invoice struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	PeriodStart  int64             `json:"period_start"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// Subscription is the provider-side subscription resource. Metadata carries
// the correlation fields this backend wrote at checkout time: payment_type,
// member_id or guest_id, amount_per_month_cents, total_amount_cents.
type Subscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// CheckoutSession is the provider's hosted-checkout completion object.
// Mode is "payment" for one-time payments and "subscription" for recurring.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentIntent string            `json:"payment_intent"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

// Client is the capability this backend holds against the payment processor.
type Client interface {
	// VerifyEvent authenticates a raw webhook body against its signature
	// header and decodes the envelope. Fails with ErrInvalidSignature.
	VerifyEvent(payload []byte, sigHeader string) (*Event, error)
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)
	CancelSubscription(ctx context.Context, id string) error
	CreateSubscription(ctx context.Context, customerID string, amountCents int64, metadata map[string]string) (*Subscription, error)
}
