// Package services holds the business logic layered over the ledgers.
//
// This file implements surplus forwarding: moving a category's unspent
// balance from a completed billing cycle into the next one as an opening
// balance, so budgets roll over instead of resetting to zero.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	"bilancio/internal/period"
)

var (
	// ErrCycleOpen rejects forwarding from a cycle that has not ended yet.
	ErrCycleOpen = errors.New("cycle still in progress")
)

// Store is the slice of the persistent store the forwarder writes through.
type Store interface {
	InsertTransaction(ctx context.Context, tx core.Transaction) (string, error)
	AddToAccumulators(ctx context.Context, userID, name string, budgetDelta, spentDelta int64) error
	HasRollOverOut(ctx context.Context, userID, category string, cycleEnd time.Time) (bool, error)
}

type Forwarder struct {
	store Store
}

func NewForwarder(store Store) *Forwarder {
	return &Forwarder{store: store}
}

// ForwardRequest describes one forwarding run: the viewed cycle (reference
// year/month plus the active cycle configuration), the per-category balances
// computed for that cycle, and the current instant. Now is passed in rather
// than read inside so eligibility and the target day are testable.
type ForwardRequest struct {
	UserID   string
	Year     int
	Month    time.Month
	Config   core.CycleConfig
	Balances []core.CategoryBalance
	Now      time.Time
}

// Forward materializes a pair of offsetting ledger entries per category with
// a positive balance: an outflow dated at the viewed cycle's end, and an
// inflow in the following month dated on today's day-of-month (clamped to the
// target month's length). Both entries are flagged as roll-overs and the
// category accumulators are bumped to match.
//
// Eligibility: any cycle whose end has passed may be forwarded from. Cycles
// still in progress are rejected with ErrCycleOpen and nothing is written.
//
// A category that already has a roll-over outflow at the cycle end is skipped,
// so repeating the call for the same cycle does not double-book.
//
// Categories are processed concurrently and joined; within one category the
// outflow, inflow and accumulator update are strictly ordered. There is no
// cross-category transaction: if one category fails, categories that already
// completed stay committed and the call reports failure.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) error {
	if req.UserID == "" {
		return core.ErrNotAuthenticated
	}

	cycle, err := period.Boundaries(req.Year, req.Month, req.Config)
	if err != nil {
		return err
	}
	if !cycle.Complete(req.Now) {
		return fmt.Errorf("%w: %s ends %s", ErrCycleOpen, cycle.Label(), cycle.End.Format("2006-01-02"))
	}

	target := targetDate(cycle.End, req.Now)

	g, ctx := errgroup.WithContext(ctx)
	for _, cb := range req.Balances {
		if cb.Balance.Cents <= 0 {
			// nothing to forward
			continue
		}
		g.Go(func() error {
			return f.forwardCategory(ctx, req.UserID, cb, cycle, target)
		})
	}
	return g.Wait()
}

func (f *Forwarder) forwardCategory(ctx context.Context, userID string, cb core.CategoryBalance, cycle period.Range, target time.Time) error {
	done, err := f.store.HasRollOverOut(ctx, userID, cb.Category, cycle.End)
	if err != nil {
		return fmt.Errorf("%s: %w", cb.Category, err)
	}
	if done {
		slog.InfoContext(ctx, "Cycle already forwarded for category, skipping",
			"category", cb.Category, "cycle", cycle.Label())
		return nil
	}

	out := core.Transaction{
		UserID:      userID,
		Type:        core.Expense,
		Amount:      cb.Balance,
		Category:    cb.Category,
		Date:        cycle.End,
		Description: fmt.Sprintf("Roll-over out of %s", cycle.Label()),
		RollOver:    true,
	}
	if _, err := f.store.InsertTransaction(ctx, out); err != nil {
		return fmt.Errorf("%s: insert outflow: %w", cb.Category, err)
	}

	in := core.Transaction{
		UserID:      userID,
		Type:        core.Income,
		Amount:      cb.Balance,
		Category:    cb.Category,
		Date:        target,
		Description: fmt.Sprintf("Roll-over from %s", cycle.Label()),
		RollOver:    true,
	}
	if _, err := f.store.InsertTransaction(ctx, in); err != nil {
		return fmt.Errorf("%s: insert inflow: %w", cb.Category, err)
	}

	// The forwarder writes straight to the store, so both accumulator sides
	// are applied here: the outflow feeds spent, the inflow feeds budget.
	if err := f.store.AddToAccumulators(ctx, userID, cb.Category, cb.Balance.Cents, cb.Balance.Cents); err != nil {
		return fmt.Errorf("%s: update accumulators: %w", cb.Category, err)
	}

	slog.InfoContext(ctx, "Forwarded category surplus",
		"category", cb.Category,
		"amount_cents", cb.Balance.Cents,
		"cycle", cycle.Label(),
		"target_date", target.Format("2006-01-02"))
	return nil
}

// targetDate places the inflow on today's day-of-month in the calendar month
// following the cycle end, clamped to the target month's last valid day
// (the 31st lands on the 30th in a 30-day month, or the 28th/29th in
// February).
func targetDate(cycleEnd, now time.Time) time.Time {
	first := time.Date(cycleEnd.Year(), cycleEnd.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	day := period.ClampDay(first.Year(), first.Month(), now.Day())
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
