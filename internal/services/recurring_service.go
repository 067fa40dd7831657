package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/store"
)

// RecurringService tracks the lifecycle of subscription-backed recurring
// payments: created on checkout, decremented on payoff invoices, terminated
// either locally (payoff complete) or by the provider.
type RecurringService struct {
	store    store.Store
	provider provider.Client
}

func NewRecurringService(st store.Store, pc provider.Client) *RecurringService {
	return &RecurringService{store: st, provider: pc}
}

// UpsertParams describes a subscription observed at checkout completion.
type UpsertParams struct {
	Kind                models.AccountKind
	AccountID           string
	SubscriptionID      string
	PaymentType         string
	AmountPerMonthCents int64
	TotalCents          int64
	Start               time.Time
}

// FindBySubscription resolves the recurring payment correlated with a
// provider subscription id. Returns (nil, nil) when none exists.
func (rs *RecurringService) FindBySubscription(ctx context.Context, subscriptionID string) (*models.RecurringPayment, error) {
	recs, err := rs.store.Filter(ctx, models.EntityRecurringPayments,
		map[string]string{"provider_subscription_id": subscriptionID},
		&store.FilterOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find recurring payment for %s: %w", subscriptionID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	var rp models.RecurringPayment
	if err := store.FromRecord(recs[0], &rp); err != nil {
		return nil, fmt.Errorf("find recurring payment for %s: %w", subscriptionID, err)
	}
	return &rp, nil
}

// UpsertFromCheckout creates the recurring payment for a newly completed
// subscription checkout. A replayed event finds the existing record by
// subscription id and updates it in place instead of duplicating.
func (rs *RecurringService) UpsertFromCheckout(ctx context.Context, p UpsertParams) error {
	existing, err := rs.FindBySubscription(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}

	amount := amountFromCents(p.AmountPerMonthCents)

	if existing != nil {
		patch := map[string]any{
			"account_id":       p.AccountID,
			"account_kind":     string(p.Kind),
			"payment_type":     p.PaymentType,
			"amount_per_month": amount,
			"is_active":        true,
		}
		if _, err := rs.store.Update(ctx, models.EntityRecurringPayments, existing.ID, patch); err != nil {
			return fmt.Errorf("update recurring payment %s: %w", existing.ID, err)
		}
	} else {
		rp := models.RecurringPayment{
			AccountID:              p.AccountID,
			AccountKind:            p.Kind,
			PaymentType:            p.PaymentType,
			AmountPerMonth:         amount,
			IsActive:               true,
			StartDate:              p.Start,
			NextChargeDate:         p.Start.AddDate(0, 1, 0),
			ProviderSubscriptionID: p.SubscriptionID,
		}
		if rp.IsPayoff() {
			total := amountFromCents(p.TotalCents)
			rp.TotalAmount = &total
			remaining := total
			rp.RemainingAmount = &remaining
		}

		rec, err := store.ToRecord(rp)
		if err != nil {
			return err
		}
		if _, err := rs.store.Create(ctx, models.EntityRecurringPayments, rec); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				log.Printf("[RECURRING] Subscription %s created concurrently, skipping", p.SubscriptionID)
				return nil
			}
			return fmt.Errorf("create recurring payment for %s: %w", p.SubscriptionID, err)
		}
	}

	if p.PaymentType == models.PaymentTypeMembership {
		if _, err := rs.store.Update(ctx, p.Kind.Entity(), p.AccountID, map[string]any{
			"provider_subscription_id": p.SubscriptionID,
			"membership_active":        true,
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("link subscription %s to account %s: %w", p.SubscriptionID, p.AccountID, err)
		}
	}
	return nil
}

// ApplyPayoffPayment decrements a payoff plan's remaining amount, floored at
// zero. When the plan reaches zero it is deactivated exactly once and the
// provider subscription is canceled best-effort: local state is already
// authoritative, so a failed cancel only logs a warning.
func (rs *RecurringService) ApplyPayoffPayment(ctx context.Context, rp *models.RecurringPayment, amountPaidCents int64) error {
	if !rp.IsPayoff() || rp.RemainingAmount == nil {
		return nil
	}

	// Round to cents so float residue from repeated subtraction can never
	// leave the plan a hair above zero.
	remaining := math.Round((*rp.RemainingAmount-amountFromCents(amountPaidCents))*100) / 100
	if remaining <= 0 {
		remaining = 0
	}

	patch := map[string]any{"remaining_amount": remaining}
	finished := remaining == 0 && rp.IsActive
	if finished {
		patch["is_active"] = false
		patch["ended_date"] = time.Now().UTC()
	}

	if _, err := rs.store.Update(ctx, models.EntityRecurringPayments, rp.ID, patch); err != nil {
		return fmt.Errorf("decrement payoff plan %s: %w", rp.ID, err)
	}

	if finished {
		log.Printf("[RECURRING] Payoff plan %s fully paid, canceling subscription %s", rp.ID, rp.ProviderSubscriptionID)
		if err := rs.provider.CancelSubscription(ctx, rp.ProviderSubscriptionID); err != nil {
			log.Printf("[RECURRING] Warning: failed to cancel subscription %s: %v", rp.ProviderSubscriptionID, err)
		}
	}
	return nil
}

// HandleSubscriptionDeleted marks the matching recurring payment inactive.
// An unknown subscription id is a no-op: the deletion may race ahead of the
// creation record or refer to a subscription this system never tracked.
func (rs *RecurringService) HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	rp, err := rs.FindBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if rp == nil {
		log.Printf("[RECURRING] Deletion for untracked subscription %s, ignoring", subscriptionID)
		return nil
	}
	if !rp.IsActive {
		return nil
	}

	if _, err := rs.store.Update(ctx, models.EntityRecurringPayments, rp.ID, map[string]any{
		"is_active":  false,
		"ended_date": time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("terminate recurring payment %s: %w", rp.ID, err)
	}
	return nil
}
