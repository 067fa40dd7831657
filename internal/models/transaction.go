package models

import "time"

const (
	TransactionTypeCharge  = "charge"
	TransactionTypePayment = "payment"

	// TransactionProviderSystem marks entries this backend originated
	// (monthly dues); TransactionProviderProcessor marks entries derived
	// from payment-processor events.
	TransactionProviderSystem    = "system"
	TransactionProviderProcessor = "processor"
)

// Transaction is a single ledger entry against a member or guest account.
// Entries are immutable once written; deleting one must reverse its balance
// effect. ProviderInvoiceID together with Type forms the dedup key for
// invoice-driven writes, ProviderPaymentID for one-time payments, and
// MonthlyKey for scheduler charges.
type Transaction struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	Type              string    `json:"type"`
	Amount            float64   `json:"amount"`
	Description       string    `json:"description"`
	Date              time.Time `json:"date"`
	Provider          string    `json:"provider"`
	ProviderInvoiceID string    `json:"provider_invoice_id,omitempty"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	MonthlyKey        string    `json:"monthly_key,omitempty"`
}
