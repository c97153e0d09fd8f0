// Package worker mirrors the transaction history into a spreadsheet. It is
// driven by the AMQP change feed, with a periodic backlog sweep to recover
// from lost messages or downtime.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/sheets"
)

// Store is the slice of the persistent store the mirror depends on.
type Store interface {
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListUnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkMirrored(ctx context.Context, id string) error
	MarkMirrorError(ctx context.Context, id string) error
}

type MirrorWorker struct {
	store     Store
	sheet     sheets.TransactionAppender
	batchSize int
}

func NewMirrorWorker(store Store, sheet sheets.TransactionAppender, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		store:     store,
		sheet:     sheet,
		batchSize: batchSize,
	}
}

// HandleChange processes a single ledger change message. Only additions are
// mirrored; the sheet is an append-only audit trail, so deletions stay local.
func (w *MirrorWorker) HandleChange(ctx context.Context, msg *amqp.LedgerChangeMessage) error {
	switch msg.Kind {
	case amqp.TransactionAdded:
		tx, err := w.store.GetTransaction(ctx, msg.UserID, msg.ID)
		if errors.Is(err, sql.ErrNoRows) {
			// deleted before the message was consumed
			slog.WarnContext(ctx, "Transaction gone before mirroring", "id", msg.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", msg.ID, err)
		}
		return w.mirror(ctx, tx)
	default:
		slog.DebugContext(ctx, "Skipping non-mirrored change", "kind", msg.Kind, "id", msg.ID)
		return nil
	}
}

// ProcessBacklog sweeps transactions the change feed missed and mirrors them
// in one batch. Returns how many rows were written.
func (w *MirrorWorker) ProcessBacklog(ctx context.Context) (int, error) {
	pending, err := w.store.ListUnmirroredTransactions(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing mirror backlog", "count", len(pending))

	mirrored := 0
	for _, tx := range pending {
		if err := w.mirror(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction", "id", tx.ID, "error", err)
			continue
		}
		mirrored++
	}
	return mirrored, nil
}

// Run sweeps the backlog once at startup and then on every tick until ctx is
// done. Message-driven mirroring runs independently through HandleChange.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) {
	if _, err := w.ProcessBacklog(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup backlog sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBacklog(ctx); err != nil {
				slog.ErrorContext(ctx, "Backlog sweep failed", "error", err)
			}
		}
	}
}

func (w *MirrorWorker) mirror(ctx context.Context, tx core.Transaction) error {
	ref, err := w.sheet.Append(ctx, tx)
	if err != nil {
		if markErr := w.store.MarkMirrorError(ctx, tx.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to record mirror error", "id", tx.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheet: %w", err)
	}

	if err := w.store.MarkMirrored(ctx, tx.ID); err != nil {
		// The row landed on the sheet; the flag catches up on the next sweep.
		slog.ErrorContext(ctx, "Failed to mark as mirrored", "id", tx.ID, "error", err)
	}

	slog.InfoContext(ctx, "Transaction mirrored",
		"id", tx.ID,
		"sheets_ref", ref,
		"category", tx.Category,
		"amount_cents", tx.Amount.Cents)
	return nil
}
