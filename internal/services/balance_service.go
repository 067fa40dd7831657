package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/store"
)

// ErrAccountNotFound is returned when an account id does not resolve in the
// entity store.
var ErrAccountNotFound = errors.New("account not found")

// BalanceService applies signed deltas to an account's running balance.
// The balance is a derived cache over the transaction ledger: the read and
// the write are two separate store calls, and a crash between a ledger write
// and the balance update leaves a recoverable gap, not corruption.
type BalanceService struct {
	store store.Store
}

func NewBalanceService(st store.Store) *BalanceService {
	return &BalanceService{store: st}
}

// GetAccount resolves a member or guest by id.
func (bs *BalanceService) GetAccount(ctx context.Context, kind models.AccountKind, accountID string) (*models.Account, error) {
	recs, err := bs.store.Filter(ctx, kind.Entity(), map[string]string{"id": accountID}, &store.FilterOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", kind, accountID, err)
	}
	if len(recs) == 0 {
		return nil, ErrAccountNotFound
	}

	var account models.Account
	if err := store.FromRecord(recs[0], &account); err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", kind, accountID, err)
	}
	return &account, nil
}

// ApplyDelta reads the current balance and writes balance+delta, returning
// the new balance.
func (bs *BalanceService) ApplyDelta(ctx context.Context, kind models.AccountKind, accountID string, delta float64) (float64, error) {
	account, err := bs.GetAccount(ctx, kind, accountID)
	if err != nil {
		return 0, err
	}

	newBalance := account.TotalOwed + delta
	if _, err := bs.store.Update(ctx, kind.Entity(), accountID, map[string]any{"total_owed": newBalance}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("update balance for %s %s: %w", kind, accountID, err)
	}
	return newBalance, nil
}
