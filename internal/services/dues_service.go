package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/clubledger/backend/internal/config"
	"github.com/clubledger/backend/internal/models"
	"github.com/clubledger/backend/internal/store"
)

const (
	duesLockKey = "dues:run:lock"
	duesLockTTL = 10 * time.Minute
)

// DuesService charges every active member once per calendar month. The
// structured (member id, month) key on the charge row is the idempotency
// guard; the Redis lock only keeps overlapping daily runs from doing wasted
// work and degrades to the unique index when Redis is down.
type DuesService struct {
	store  store.Store
	ledger *LedgerService
	redis  *redis.Client
	cfg    config.BillingConfig
}

func NewDuesService(st store.Store, ledger *LedgerService, rdb *redis.Client, cfg config.BillingConfig) *DuesService {
	return &DuesService{store: st, ledger: ledger, redis: rdb, cfg: cfg}
}

type DuesRunError struct {
	MemberID string `json:"member_id"`
	Error    string `json:"error"`
}

type DuesRunResult struct {
	Month   string         `json:"month"`
	Charged int            `json:"charged"`
	Skipped int            `json:"skipped"`
	Errors  []DuesRunError `json:"errors,omitempty"`
}

// RunMonthlyCharges performs one scheduler pass. Expected cadence is daily;
// every pass after the first in a month finds the monthly keys already
// written and charges nothing.
func (ds *DuesService) RunMonthlyCharges(ctx context.Context) (*DuesRunResult, error) {
	now := time.Now().UTC()
	result := &DuesRunResult{Month: now.Format("2006-01")}

	if ds.cfg.MonthlyDuesCents <= 0 {
		log.Printf("[DUES] No monthly dues amount configured, skipping run")
		return result, nil
	}

	if ds.redis != nil {
		ok, err := ds.redis.SetNX(ctx, duesLockKey, result.Month, duesLockTTL).Result()
		if err != nil {
			log.Printf("[DUES] Lock acquisition failed, proceeding on unique-key guard: %v", err)
		} else if !ok {
			log.Printf("[DUES] Another run holds the lock, skipping")
			return result, nil
		} else {
			defer ds.redis.Del(context.Background(), duesLockKey)
		}
	}

	members, err := ds.store.Filter(ctx, models.AccountKindMember.Entity(),
		map[string]string{"membership_active": "true"}, nil)
	if err != nil {
		return nil, err
	}

	description := "Monthly Membership - " + now.Format("January 2006")
	for _, rec := range members {
		var member models.Account
		if err := store.FromRecord(rec, &member); err != nil {
			result.Errors = append(result.Errors, DuesRunError{MemberID: rec.ID(), Error: err.Error()})
			continue
		}

		monthKey := member.ID + ":" + result.Month
		charged, err := ds.ledger.RecordMonthlyCharge(ctx, member.ID, ds.cfg.MonthlyDuesCents, monthKey, description)
		if err != nil {
			result.Errors = append(result.Errors, DuesRunError{MemberID: member.ID, Error: err.Error()})
			continue
		}
		if charged {
			result.Charged++
		} else {
			result.Skipped++
		}
	}

	log.Printf("[DUES] Run %s complete: %d charged, %d skipped, %d errors",
		result.Month, result.Charged, result.Skipped, len(result.Errors))
	return result, nil
}

// Start runs the scheduler loop until ctx is canceled. One pass runs
// immediately so a restart never misses a month boundary.
func (ds *DuesService) Start(ctx context.Context, interval time.Duration) {
	if _, err := ds.RunMonthlyCharges(ctx); err != nil {
		log.Printf("[DUES] Initial run failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ds.RunMonthlyCharges(ctx); err != nil {
				log.Printf("[DUES] Scheduled run failed: %v", err)
			}
		}
	}
}

// RunDues triggers a scheduler pass over HTTP (admin only).
func (ds *DuesService) RunDues(w http.ResponseWriter, r *http.Request) {
	result, err := ds.RunMonthlyCharges(r.Context())
	if err != nil {
		log.Printf("[DUES] Manual run failed: %v", err)
		SendErrorResponse(w, "Failed to run monthly charges", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
