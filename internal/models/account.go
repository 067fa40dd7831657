package models

import (
	"fmt"
)

// AccountKind selects between the two billable account variants. Members and
// guests share identical ledger and balance semantics; the kind only decides
// which collections their records live in.
type AccountKind string

const (
	AccountKindMember AccountKind = "member"
	AccountKindGuest  AccountKind = "guest"
)

// ParseAccountKind validates a kind string from a URL or metadata field.
func ParseAccountKind(s string) (AccountKind, error) {
	switch AccountKind(s) {
	case AccountKindMember, AccountKindGuest:
		return AccountKind(s), nil
	}
	return "", fmt.Errorf("unknown account kind %q", s)
}

// Entity returns the collection holding accounts of this kind.
func (k AccountKind) Entity() string {
	if k == AccountKindGuest {
		return "guests"
	}
	return "members"
}

// TransactionEntity returns the collection holding this kind's ledger entries.
func (k AccountKind) TransactionEntity() string {
	if k == AccountKindGuest {
		return "guest_transactions"
	}
	return "member_transactions"
}

// Account is a billable member or guest. TotalOwed is a running balance
// derived from the account's transactions; negative means credit.
type Account struct {
	ID                             string  `json:"id"`
	Name                           string  `json:"name"`
	Email                          string  `json:"email"`
	TotalOwed                      float64 `json:"total_owed"`
	ProviderCustomerID             string  `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID         string  `json:"provider_subscription_id,omitempty"`
	ProviderDefaultPaymentMethodID string  `json:"provider_default_payment_method_id,omitempty"`
	MembershipActive               bool    `json:"membership_active,omitempty"`
}
