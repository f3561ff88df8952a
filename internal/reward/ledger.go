package reward

import (
	"context"
	"fmt"

	"capture-scheduler/internal/telemetry"
)

// CreditStore records credits keyed by session id. The second return reports
// whether this call inserted a new credit.
type CreditStore interface {
	CreditReward(ctx context.Context, sessionID, userID string, amount float64) (float64, bool, error)
}

// CreditResult is the outcome of one crediting call.
type CreditResult struct {
	Amount          float64 `json:"amount"`
	AlreadyCredited bool    `json:"already_credited"`
}

// Ledger credits a fixed reward amount at most once per capture session.
type Ledger struct {
	store  CreditStore
	amount float64
}

// NewLedger builds a ledger crediting the given fixed amount per session.
func NewLedger(store CreditStore, amount float64) *Ledger {
	return &Ledger{store: store, amount: amount}
}

// Credit records the reward for a session. Replays with the same session id
// return the originally recorded amount without crediting again.
func (l *Ledger) Credit(ctx context.Context, userID, sessionID string) (CreditResult, error) {
	amount, credited, err := l.store.CreditReward(ctx, sessionID, userID, l.amount)
	if err != nil {
		return CreditResult{}, fmt.Errorf("credit session %s: %w", sessionID, err)
	}
	if credited {
		telemetry.RewardsCredited.Inc()
	}
	return CreditResult{Amount: amount, AlreadyCredited: !credited}, nil
}
