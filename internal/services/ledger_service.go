package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/store"
)

// LedgerService converts provider-side invoices and one-time payments into
// local ledger entries, at most one charge and one payment per provider
// invoice id, then applies the net balance effect.
//
// A matching charge+payment pair for the same invoice is balance-neutral on
// paper; only the payment side moves the stored balance, and only when the
// payment row is newly written. That keeps replayed events from moving the
// balance twice.
type LedgerService struct {
	store    store.Store
	balances *BalanceService
}

func NewLedgerService(st store.Store, balances *BalanceService) *LedgerService {
	return &LedgerService{store: st, balances: balances}
}

func amountFromCents(cents int64) float64 {
	return float64(cents) / 100
}

// RecordInvoicePaid writes the charge/payment pair for a paid subscription
// invoice and moves the balance to max(0, balance-amount). The clamp
// suppresses residual negative balances when the pair cancels out exactly.
// Reports whether the payment row was newly written: a replayed invoice
// returns false and must produce no further downstream effects.
func (ls *LedgerService) RecordInvoicePaid(ctx context.Context, kind models.AccountKind, accountID string, amountCents int64, periodStart time.Time, invoiceID, description string) (bool, error) {
	amount := amountFromCents(amountCents)

	if _, err := ls.ensureInvoiceEntry(ctx, kind, accountID, invoiceID, models.TransactionTypeCharge, amount, description, periodStart); err != nil {
		return false, err
	}
	paymentCreated, err := ls.ensureInvoiceEntry(ctx, kind, accountID, invoiceID, models.TransactionTypePayment, amount, description, periodStart)
	if err != nil {
		return false, err
	}
	if !paymentCreated {
		log.Printf("[LEDGER] Payment for invoice %s already recorded, balance untouched", invoiceID)
		return false, nil
	}

	account, err := ls.balances.GetAccount(ctx, kind, accountID)
	if err != nil {
		return true, err
	}
	delta := -amount
	if account.TotalOwed-amount < 0 {
		delta = -account.TotalOwed
	}
	if _, err := ls.balances.ApplyDelta(ctx, kind, accountID, delta); err != nil {
		return true, err
	}
	return true, nil
}

// RecordInvoiceFailed writes a single-sided charge for a failed invoice and
// raises the balance by the amount due. No payment occurred, so no matching
// payment row exists.
func (ls *LedgerService) RecordInvoiceFailed(ctx context.Context, kind models.AccountKind, accountID string, amountDueCents int64, periodStart time.Time, invoiceID, description string) error {
	amount := amountFromCents(amountDueCents)

	created, err := ls.ensureInvoiceEntry(ctx, kind, accountID, invoiceID, models.TransactionTypeCharge, amount, description, periodStart)
	if err != nil {
		return err
	}
	if !created {
		log.Printf("[LEDGER] Failed-invoice charge for %s already recorded", invoiceID)
		return nil
	}
	_, err = ls.balances.ApplyDelta(ctx, kind, accountID, amount)
	return err
}

// RecordOneTimePayment writes a payment row for a completed one-time
// checkout and lowers the balance by the paid amount. The balance is not
// clamped: a negative result is credit. The store's unique index on
// provider_payment_id is the dedup guard here since no invoice id exists.
func (ls *LedgerService) RecordOneTimePayment(ctx context.Context, kind models.AccountKind, accountID string, amountCents int64, paymentID, description string) error {
	amount := amountFromCents(amountCents)

	txn := models.Transaction{
		AccountID:         accountID,
		Type:              models.TransactionTypePayment,
		Amount:            amount,
		Description:       description,
		Date:              time.Now().UTC(),
		Provider:          models.TransactionProviderProcessor,
		ProviderPaymentID: paymentID,
	}
	rec, err := store.ToRecord(txn)
	if err != nil {
		return err
	}

	if _, err := ls.store.Create(ctx, kind.TransactionEntity(), rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			log.Printf("[LEDGER] One-time payment %s already recorded", paymentID)
			return nil
		}
		return fmt.Errorf("record one-time payment %s: %w", paymentID, err)
	}

	_, err = ls.balances.ApplyDelta(ctx, kind, accountID, -amount)
	return err
}

// RecordMonthlyCharge writes the scheduler's dues charge for one member,
// keyed by monthKey ("<member id>:<YYYY-MM>"). Returns whether a new charge
// was written. The filter is a fast path; the unique index on monthly_key
// settles concurrent runs.
func (ls *LedgerService) RecordMonthlyCharge(ctx context.Context, memberID string, amountCents int64, monthKey, description string) (bool, error) {
	entity := models.AccountKindMember.TransactionEntity()

	existing, err := ls.store.Filter(ctx, entity, map[string]string{"monthly_key": monthKey}, &store.FilterOptions{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("check monthly charge %s: %w", monthKey, err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	amount := amountFromCents(amountCents)
	txn := models.Transaction{
		AccountID:   memberID,
		Type:        models.TransactionTypeCharge,
		Amount:      amount,
		Description: description,
		Date:        time.Now().UTC(),
		Provider:    models.TransactionProviderSystem,
		MonthlyKey:  monthKey,
	}
	rec, err := store.ToRecord(txn)
	if err != nil {
		return false, err
	}

	if _, err := ls.store.Create(ctx, entity, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			log.Printf("[LEDGER] Monthly charge %s lost the insert race, skipping", monthKey)
			return false, nil
		}
		return false, fmt.Errorf("record monthly charge %s: %w", monthKey, err)
	}

	if _, err := ls.balances.ApplyDelta(ctx, models.AccountKindMember, memberID, amount); err != nil {
		return true, err
	}
	return true, nil
}

// ensureInvoiceEntry writes one ledger entry deduplicated by
// (provider invoice id, type). Reports whether a new row was created.
func (ls *LedgerService) ensureInvoiceEntry(ctx context.Context, kind models.AccountKind, accountID, invoiceID, txnType string, amount float64, description string, date time.Time) (bool, error) {
	entity := kind.TransactionEntity()

	existing, err := ls.store.Filter(ctx, entity, map[string]string{
		"provider_invoice_id": invoiceID,
		"type":                txnType,
	}, &store.FilterOptions{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("check invoice entry %s/%s: %w", invoiceID, txnType, err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	txn := models.Transaction{
		AccountID:         accountID,
		Type:              txnType,
		Amount:            amount,
		Description:       description,
		Date:              date,
		Provider:          models.TransactionProviderProcessor,
		ProviderInvoiceID: invoiceID,
	}
	rec, err := store.ToRecord(txn)
	if err != nil {
		return false, err
	}

	if _, err := ls.store.Create(ctx, entity, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return false, nil
		}
		return false, fmt.Errorf("create invoice entry %s/%s: %w", invoiceID, txnType, err)
	}
	return true, nil
}
