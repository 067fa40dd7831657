package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/store"
)

// AccountService exposes read-only account views for the admin API.
type AccountService struct {
	store    store.Store
	balances *BalanceService
}

func NewAccountService(st store.Store, balances *BalanceService) *AccountService {
	return &AccountService{store: st, balances: balances}
}

// GetAccountBalance returns an account's running balance.
func (as *AccountService) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseAccountKind(chi.URLParam(r, "kind"))
	if err != nil {
		SendErrorResponse(w, "Unknown account kind", http.StatusBadRequest, nil)
		return
	}
	accountID := chi.URLParam(r, "id")

	account, err := as.balances.GetAccount(r.Context(), kind, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to resolve account", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id": account.ID,
		"kind":       string(kind),
		"total_owed": account.TotalOwed,
	})
}

// ListAccountTransactions returns an account's ledger entries, newest first.
func (as *AccountService) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseAccountKind(chi.URLParam(r, "kind"))
	if err != nil {
		SendErrorResponse(w, "Unknown account kind", http.StatusBadRequest, nil)
		return
	}
	accountID := chi.URLParam(r, "id")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	recs, err := as.store.Filter(r.Context(), kind.TransactionEntity(),
		map[string]string{"account_id": accountID},
		&store.FilterOptions{OrderBy: "date", Descending: true, Limit: limit})
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	transactions := make([]models.Transaction, 0, len(recs))
	for _, rec := range recs {
		var txn models.Transaction
		if err := store.FromRecord(rec, &txn); err != nil {
			SendErrorResponse(w, "Failed to decode transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, txn)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}
