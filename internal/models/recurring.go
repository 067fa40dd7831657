package models

import "time"

const (
	PaymentTypeMembership        = "membership"
	PaymentTypeAdditionalMonthly = "additional_monthly"
	PaymentTypeBalancePayoff     = "balance_payoff"
	PaymentTypeGuestDonation     = "guest_donation"
	PaymentTypeGuestPayoff       = "guest_balance_payoff"

	EntityRecurringPayments = "recurring_payments"
)

// RecurringPayment tracks a subscription-backed recurring charge. Exactly one
// record exists per ProviderSubscriptionID; that id is the join key recovered
// from provider metadata on every subscription event.
type RecurringPayment struct {
	ID                     string      `json:"id"`
	AccountID              string      `json:"account_id"`
	AccountKind            AccountKind `json:"account_kind"`
	PaymentType            string      `json:"payment_type"`
	AmountPerMonth         float64     `json:"amount_per_month"`
	IsActive               bool        `json:"is_active"`
	StartDate              time.Time   `json:"start_date"`
	NextChargeDate         time.Time   `json:"next_charge_date"`
	ProviderSubscriptionID string      `json:"provider_subscription_id"`
	TotalAmount            *float64    `json:"total_amount,omitempty"`
	RemainingAmount        *float64    `json:"remaining_amount,omitempty"`
	EndedDate              *time.Time  `json:"ended_date,omitempty"`
}

// IsPayoff reports whether this plan counts down a finite target amount and
// self-terminates when fully paid.
func (rp *RecurringPayment) IsPayoff() bool {
	return rp.PaymentType == PaymentTypeBalancePayoff || rp.PaymentType == PaymentTypeGuestPayoff
}
