package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage/memory"
)

const testUser = "user-1"

func seedCategory(t *testing.T, store *memory.Store, name string) {
	t.Helper()
	_, err := store.InsertCategory(context.Background(), core.Category{
		UserID: testUser,
		Name:   name,
		Type:   core.Expense,
	})
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}
}

func TestForwardCalendarCycle(t *testing.T) {
	store := memory.NewStore()
	seedCategory(t, store, "Food")
	fwd := NewForwarder(store)

	now := time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC)
	err := fwd.Forward(context.Background(), ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.March,
		Config: core.CycleConfig{Kind: core.CalendarCycle},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 12000}},
		},
		Now: now,
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	txs, _ := store.ListTransactions(context.Background(), testUser)
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	var out, in *core.Transaction
	for i := range txs {
		switch txs[i].Type {
		case core.Expense:
			out = &txs[i]
		case core.Income:
			in = &txs[i]
		}
	}
	if out == nil || in == nil {
		t.Fatal("missing outflow or inflow transaction")
	}

	if out.Amount.Cents != 12000 || !out.RollOver || out.Category != "Food" {
		t.Errorf("outflow = %+v", out)
	}
	if out.Date.Month() != time.March || out.Date.Day() != 31 {
		t.Errorf("outflow dated %v, want end of March", out.Date)
	}
	if out.Date.Hour() != 23 || out.Date.Minute() != 59 {
		t.Errorf("outflow not at cycle end instant: %v", out.Date)
	}

	if in.Amount.Cents != 12000 || !in.RollOver || in.Category != "Food" {
		t.Errorf("inflow = %+v", in)
	}
	if in.Date.Year() != 2024 || in.Date.Month() != time.April || in.Date.Day() != now.Day() {
		t.Errorf("inflow dated %v, want April %d", in.Date, now.Day())
	}

	cat, err := store.GetCategoryByName(context.Background(), testUser, "Food")
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	if cat.SpentCents != 12000 {
		t.Errorf("SpentCents = %d, want 12000", cat.SpentCents)
	}
	if cat.BudgetCents != 12000 {
		t.Errorf("BudgetCents = %d, want 12000", cat.BudgetCents)
	}
}

func TestForwardTargetDayClamped(t *testing.T) {
	store := memory.NewStore()
	seedCategory(t, store, "Food")
	fwd := NewForwarder(store)

	// viewed cycle ends Jan 31; today is the 31st; February 2024 has 29 days
	err := fwd.Forward(context.Background(), ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.January,
		Config: core.CycleConfig{Kind: core.CalendarCycle},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 500}},
		},
		Now: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	txs, _ := store.ListTransactions(context.Background(), testUser)
	var in *core.Transaction
	for i := range txs {
		if txs[i].Type == core.Income {
			in = &txs[i]
		}
	}
	if in == nil {
		t.Fatal("missing inflow")
	}
	if in.Date.Month() != time.February || in.Date.Day() != 29 {
		t.Errorf("inflow dated %v, want Feb 29 2024", in.Date)
	}
}

func TestForwardRejectsOpenCycle(t *testing.T) {
	store := memory.NewStore()
	seedCategory(t, store, "Food")
	fwd := NewForwarder(store)

	err := fwd.Forward(context.Background(), ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.March,
		Config: core.CycleConfig{Kind: core.CalendarCycle},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 12000}},
		},
		Now: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrCycleOpen) {
		t.Fatalf("Forward() error = %v, want ErrCycleOpen", err)
	}

	txs, _ := store.ListTransactions(context.Background(), testUser)
	if len(txs) != 0 {
		t.Errorf("open cycle wrote %d transactions, want 0", len(txs))
	}
}

func TestForwardRejectsOpenCustomCycle(t *testing.T) {
	store := memory.NewStore()
	fwd := NewForwarder(store)

	// 15th-to-14th cycle for March runs through April 14; April 10 is inside it
	err := fwd.Forward(context.Background(), ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.March,
		Config: core.CycleConfig{Kind: core.CustomDaysCycle, StartDay: 15, EndDay: 14},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 100}},
		},
		Now: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrCycleOpen) {
		t.Fatalf("Forward() error = %v, want ErrCycleOpen", err)
	}
	txs, _ := store.ListTransactions(context.Background(), testUser)
	if len(txs) != 0 {
		t.Errorf("wrote %d transactions, want 0", len(txs))
	}
}

func TestForwardSkipsNonPositiveBalances(t *testing.T) {
	store := memory.NewStore()
	seedCategory(t, store, "Food")
	seedCategory(t, store, "Transport")
	fwd := NewForwarder(store)

	err := fwd.Forward(context.Background(), ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.March,
		Config: core.CycleConfig{Kind: core.CalendarCycle},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 0}},
			{Category: "Transport", Balance: core.Money{Cents: -250}},
		},
		Now: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	txs, _ := store.ListTransactions(context.Background(), testUser)
	if len(txs) != 0 {
		t.Errorf("non-positive balances wrote %d transactions, want 0", len(txs))
	}
}

func TestForwardIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedCategory(t, store, "Food")
	fwd := NewForwarder(store)

	req := ForwardRequest{
		UserID: testUser,
		Year:   2024,
		Month:  time.March,
		Config: core.CycleConfig{Kind: core.CalendarCycle},
		Balances: []core.CategoryBalance{
			{Category: "Food", Balance: core.Money{Cents: 12000}},
		},
		Now: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	}

	for i := 0; i < 2; i++ {
		if err := fwd.Forward(context.Background(), req); err != nil {
			t.Fatalf("Forward() run %d error = %v", i+1, err)
		}
	}

	txs, _ := store.ListTransactions(context.Background(), testUser)
	if len(txs) != 2 {
		t.Errorf("got %d transactions after double forward, want 2", len(txs))
	}
	cat, _ := store.GetCategoryByName(context.Background(), testUser, "Food")
	if cat.SpentCents != 12000 {
		t.Errorf("SpentCents = %d after double forward, want 12000", cat.SpentCents)
	}
}

func TestForwardRequiresUser(t *testing.T) {
	fwd := NewForwarder(memory.NewStore())
	err := fwd.Forward(context.Background(), ForwardRequest{
		Year:  2024,
		Month: time.March,
		Config: core.CycleConfig{
			Kind: core.CalendarCycle,
		},
		Now: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, core.ErrNotAuthenticated) {
		t.Errorf("Forward() error = %v, want ErrNotAuthenticated", err)
	}
}
