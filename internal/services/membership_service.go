package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/store"
)

// MembershipService owns the account-facing admin operations: bulk
// membership activation and payoff-plan setup against the provider.
type MembershipService struct {
	store     store.Store
	provider  provider.Client
	recurring *RecurringService
	balances  *BalanceService
	validator *ValidationHelper
}

func NewMembershipService(st store.Store, pc provider.Client, recurring *RecurringService, balances *BalanceService) *MembershipService {
	return &MembershipService{
		store:     st,
		provider:  pc,
		recurring: recurring,
		balances:  balances,
		validator: NewValidationHelper(),
	}
}

// ActivateMemberships activates many members at once. Per-item failures are
// collected and returned in an aggregate result rather than failing the
// whole batch.
func (ms *MembershipService) ActivateMemberships(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberIDs []string `json:"member_ids" validate:"required,min=1,max=500"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	activated := []string{}
	failed := []map[string]string{}

	for _, id := range req.MemberIDs {
		_, err := ms.store.Update(r.Context(), models.AccountKindMember.Entity(), id,
			map[string]any{"membership_active": true})
		if err != nil {
			msg := "Activation failed"
			if errors.Is(err, store.ErrNotFound) {
				msg = "Member not found"
			}
			log.Printf("[MEMBERSHIP] Failed to activate %s: %v", id, err)
			failed = append(failed, map[string]string{"member_id": id, "error": msg})
			continue
		}
		activated = append(activated, id)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"activated": activated,
		"failed":    failed,
		"summary": map[string]int{
			"total":     len(req.MemberIDs),
			"succeeded": len(activated),
			"failed":    len(failed),
		},
	})
}

// StartPayoffPlan creates a provider subscription that pays down an
// account's balance in monthly installments and records the local payoff
// plan. The webhook upsert keyed by subscription id makes the later
// checkout/invoice events converge on the same record.
func (ms *MembershipService) StartPayoffPlan(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseAccountKind(chi.URLParam(r, "kind"))
	if err != nil {
		SendErrorResponse(w, "Unknown account kind", http.StatusBadRequest, nil)
		return
	}
	accountID := chi.URLParam(r, "id")

	var req struct {
		AmountPerMonthCents int64 `json:"amount_per_month_cents" validate:"required,gt=0"`
		TotalCents          int64 `json:"total_cents" validate:"required,gt=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := ms.balances.GetAccount(r.Context(), kind, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to resolve account", http.StatusInternalServerError, nil)
		}
		return
	}
	if account.ProviderCustomerID == "" {
		SendErrorResponse(w, "Account has no provider customer", http.StatusBadRequest, nil)
		return
	}

	paymentType := models.PaymentTypeBalancePayoff
	accountField := "member_id"
	if kind == models.AccountKindGuest {
		paymentType = models.PaymentTypeGuestPayoff
		accountField = "guest_id"
	}

	metadata := map[string]string{
		"payment_type":           paymentType,
		accountField:             accountID,
		"amount_per_month_cents": strconv.FormatInt(req.AmountPerMonthCents, 10),
		"total_amount_cents":     strconv.FormatInt(req.TotalCents, 10),
	}

	sub, err := ms.provider.CreateSubscription(r.Context(), account.ProviderCustomerID, req.AmountPerMonthCents, metadata)
	if err != nil {
		log.Printf("[MEMBERSHIP] Provider subscription create failed for %s %s: %v", kind, accountID, err)
		SendErrorResponse(w, "Provider call failed", http.StatusBadGateway, nil)
		return
	}

	if err := ms.recurring.UpsertFromCheckout(r.Context(), UpsertParams{
		Kind:                kind,
		AccountID:           accountID,
		SubscriptionID:      sub.ID,
		PaymentType:         paymentType,
		AmountPerMonthCents: req.AmountPerMonthCents,
		TotalCents:          req.TotalCents,
		Start:               time.Now().UTC(),
	}); err != nil {
		log.Printf("[MEMBERSHIP] Failed to record payoff plan for %s %s: %v", kind, accountID, err)
		SendErrorResponse(w, "Failed to record payoff plan", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"subscription_id": sub.ID,
		"payment_type":    paymentType,
	})
}
