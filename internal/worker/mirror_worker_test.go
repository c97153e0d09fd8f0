package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	sheetmem "bilancio/internal/sheets/memory"
	"bilancio/internal/storage/memory"
)

func insertTransaction(t *testing.T, store *memory.Store, category string, cents int64) string {
	t.Helper()
	id, err := store.InsertTransaction(context.Background(), core.Transaction{
		UserID:   "user-1",
		Type:     core.Expense,
		Amount:   core.Money{Cents: cents},
		Category: category,
		Date:     time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestHandleChangeMirrorsAddition(t *testing.T) {
	store := memory.NewStore()
	sheet := sheetmem.New()
	w := NewMirrorWorker(store, sheet, 10)
	ctx := context.Background()

	id := insertTransaction(t, store, "Food", 1250)

	msg := amqp.NewLedgerChangeMessage(amqp.TransactionAdded, id, "user-1")
	if err := w.HandleChange(ctx, msg); err != nil {
		t.Fatalf("HandleChange: %v", err)
	}

	rows := sheet.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Category != "Food" || rows[0].Amount.Cents != 1250 {
		t.Errorf("row = %+v", rows[0])
	}

	// already marked mirrored, the sweep must not write it again
	pending, _ := store.ListUnmirroredTransactions(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("%d transactions still pending after HandleChange", len(pending))
	}
}

func TestHandleChangeSkipsOtherKinds(t *testing.T) {
	store := memory.NewStore()
	sheet := sheetmem.New()
	w := NewMirrorWorker(store, sheet, 10)

	id := insertTransaction(t, store, "Food", 100)
	for _, kind := range []amqp.ChangeKind{amqp.TransactionDeleted, amqp.CategoryAdded, amqp.CategoryDeleted} {
		if err := w.HandleChange(context.Background(), amqp.NewLedgerChangeMessage(kind, id, "user-1")); err != nil {
			t.Errorf("HandleChange(%s): %v", kind, err)
		}
	}
	if len(sheet.Rows()) != 0 {
		t.Errorf("non-addition change was mirrored")
	}
}

func TestHandleChangeMissingTransaction(t *testing.T) {
	w := NewMirrorWorker(memory.NewStore(), sheetmem.New(), 10)

	msg := amqp.NewLedgerChangeMessage(amqp.TransactionAdded, "gone", "user-1")
	if err := w.HandleChange(context.Background(), msg); err != nil {
		t.Errorf("HandleChange for deleted transaction = %v, want nil", err)
	}
}

func TestProcessBacklog(t *testing.T) {
	store := memory.NewStore()
	sheet := sheetmem.New()
	w := NewMirrorWorker(store, sheet, 10)
	ctx := context.Background()

	insertTransaction(t, store, "Food", 100)
	insertTransaction(t, store, "Transport", 200)
	insertTransaction(t, store, "Rent", 300)

	n, err := w.ProcessBacklog(ctx)
	if err != nil {
		t.Fatalf("ProcessBacklog: %v", err)
	}
	if n != 3 {
		t.Errorf("mirrored %d, want 3", n)
	}
	if len(sheet.Rows()) != 3 {
		t.Errorf("sheet has %d rows, want 3", len(sheet.Rows()))
	}

	n, err = w.ProcessBacklog(ctx)
	if err != nil {
		t.Fatalf("second ProcessBacklog: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep mirrored %d, want 0", n)
	}
}

func TestProcessBacklogRespectsBatchSize(t *testing.T) {
	store := memory.NewStore()
	sheet := sheetmem.New()
	w := NewMirrorWorker(store, sheet, 2)
	ctx := context.Background()

	insertTransaction(t, store, "Food", 100)
	insertTransaction(t, store, "Transport", 200)
	insertTransaction(t, store, "Rent", 300)

	if n, _ := w.ProcessBacklog(ctx); n != 2 {
		t.Errorf("first sweep mirrored %d, want 2", n)
	}
	if n, _ := w.ProcessBacklog(ctx); n != 1 {
		t.Errorf("second sweep mirrored %d, want 1", n)
	}
}

type failingSheet struct{}

func (failingSheet) Append(context.Context, core.Transaction) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestMirrorFailureCountsAttempts(t *testing.T) {
	store := memory.NewStore()
	w := NewMirrorWorker(store, failingSheet{}, 10)
	ctx := context.Background()

	insertTransaction(t, store, "Food", 100)

	// each sweep burns one attempt; after the limit the row is parked
	for i := 0; i < 5; i++ {
		if n, err := w.ProcessBacklog(ctx); err != nil || n != 0 {
			t.Fatalf("sweep %d: n=%d err=%v", i, n, err)
		}
	}

	pending, err := store.ListUnmirroredTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnmirroredTransactions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d rows still eligible after exhausting attempts", len(pending))
	}
}
