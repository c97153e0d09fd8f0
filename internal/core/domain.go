package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

type (
	TransactionType string

	Money struct {
		Cents int64
	}

	// Transaction is a single recorded money movement. Records are never
	// mutated after creation; the only lifecycle operations are add and delete.
	Transaction struct {
		ID          string
		UserID      string
		Type        TransactionType
		Amount      Money
		Category    string // category name, a plain string reference
		Date        time.Time
		CreatedAt   time.Time
		Description string
		RollOver    bool // written by the surplus forwarder, not by users
	}

	// Category is a budget bucket. BudgetCents and SpentCents are denormalized
	// running totals, recomputable from the transaction history.
	Category struct {
		ID          string
		UserID      string
		Name        string
		Type        TransactionType
		BudgetCents int64
		SpentCents  int64
	}

	// CategoryBalance pairs a category name with its income minus expense
	// within one billing cycle. Input to the surplus forwarder.
	CategoryBalance struct {
		Category string
		Balance  Money
	}

	// CycleOverview summarizes one billing cycle for a user.
	CycleOverview struct {
		Label    string
		Income   Money
		Spent    Money
		Balances []CategoryBalance
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrEmptyCategory      = errors.New("empty category name")
	ErrInvalidDate        = errors.New("date cannot be zero")
	ErrNameTooLong        = errors.New("category name too long (max 80 characters)")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrDuplicateName      = errors.New("category name already exists")
	ErrNotAuthenticated   = errors.New("not signed in")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategory
	}
	if len(c.Name) > 80 {
		return ErrNameTooLong
	}
	if c.Type != "" && !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

// DefaultCategories is the starter set inserted for a user whose category
// collection is empty on first subscription.
func DefaultCategories() []Category {
	expense := []string{
		"Food", "Transport", "Rent", "Utilities",
		"Entertainment", "Health", "Shopping", "Education",
	}
	cats := make([]Category, 0, len(expense)+1)
	for _, name := range expense {
		cats = append(cats, Category{Name: name, Type: Expense})
	}
	cats = append(cats, Category{Name: "Savings", Type: Income})
	return cats
}
