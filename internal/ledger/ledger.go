// Package ledger keeps the in-memory projections of a user's categories and
// transactions in sync with the persistent store, and owns the CRUD commands
// the presentation layer issues against them.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/identity"
	"bilancio/internal/period"
)

// Store is the slice of the persistent store the ledgers depend on.
type Store interface {
	InsertTransaction(ctx context.Context, tx core.Transaction) (string, error)
	DeleteTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)

	InsertCategory(ctx context.Context, c core.Category) (string, error)
	DeleteCategory(ctx context.Context, userID, id string) error
	GetCategoryByName(ctx context.Context, userID, name string) (core.Category, error)
	ListCategories(ctx context.Context, userID string) ([]core.Category, error)
	CountCategories(ctx context.Context, userID string) (int64, error)
	AddToAccumulators(ctx context.Context, userID, name string, budgetDelta, spentDelta int64) error

	GetSetting(ctx context.Context, userID, key string) (string, bool, error)
	PutSetting(ctx context.Context, userID, key, value string) error
}

// ChangePublisher pushes ledger change messages onto the change feed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *amqp.LedgerChangeMessage) error
}

const cycleConfigKey = "cycle_config"

// Service holds both ledger projections for the currently signed-in user.
// At most one subscription is active at a time; it is torn down and rebuilt
// whenever the identity changes.
type Service struct {
	store     Store
	publisher ChangePublisher

	mu           sync.RWMutex
	user         *identity.User
	categories   []core.Category
	transactions []core.Transaction
	subscribers  []chan struct{}
}

func New(store Store, publisher ChangePublisher) *Service {
	return &Service{store: store, publisher: publisher}
}

// Watch follows the identity provider and re-subscribes the projections on
// every sign-in/sign-out. Blocks until ctx is done; run it in a goroutine.
func (s *Service) Watch(ctx context.Context, provider identity.Provider) {
	if user, ok := provider.CurrentUser(); ok {
		if err := s.subscribe(ctx, user); err != nil {
			slog.ErrorContext(ctx, "Initial ledger subscription failed", "error", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case change := <-provider.Changes():
			if change.User == nil {
				s.teardown()
				continue
			}
			if err := s.subscribe(ctx, *change.User); err != nil {
				slog.ErrorContext(ctx, "Ledger re-subscription failed",
					"error", err, "user_id", change.User.ID)
			}
		}
	}
}

// subscribe replaces any existing subscription with one for the given user.
// The previous user's projections are discarded first, so two users are never
// live at once.
func (s *Service) subscribe(ctx context.Context, user identity.User) error {
	s.teardown()

	if err := s.seedDefaults(ctx, user.ID); err != nil {
		return fmt.Errorf("seed default categories: %w", err)
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("load projections: %w", err)
	}

	slog.InfoContext(ctx, "Ledger subscribed", "user_id", user.ID, "anonymous", user.Anonymous)
	return nil
}

func (s *Service) teardown() {
	s.mu.Lock()
	s.user = nil
	s.categories = nil
	s.transactions = nil
	s.mu.Unlock()
	s.notify()
}

// seedDefaults inserts the starter categories for a user who has none yet,
// before the first snapshot is served.
func (s *Service) seedDefaults(ctx context.Context, userID string) error {
	n, err := s.store.CountCategories(ctx, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, c := range core.DefaultCategories() {
		c.UserID = userID
		if _, err := s.store.InsertCategory(ctx, c); err != nil {
			// Another session may have seeded concurrently; a duplicate
			// here is not a failure.
			if errors.Is(err, core.ErrDuplicateName) {
				continue
			}
			return err
		}
	}
	slog.InfoContext(ctx, "Seeded default categories", "user_id", userID)
	return nil
}

// refresh reloads both projections from the store and wakes subscribers.
// The full lists are replaced on every snapshot; volumes are small enough
// that incremental diffing is not worth it.
func (s *Service) refresh(ctx context.Context) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		return nil
	}

	cats, err := s.store.ListCategories(ctx, user.ID)
	if err != nil {
		return err
	}
	txs, err := s.store.ListTransactions(ctx, user.ID)
	if err != nil {
		return err
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })

	s.mu.Lock()
	s.categories = cats
	s.transactions = txs
	s.mu.Unlock()
	s.notify()
	return nil
}

// Subscribe returns a channel that receives a tick after every projection
// update. Used by the presentation layer to re-render.
func (s *Service) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns copies of the current projections: categories sorted by
// name, transactions newest-first.
func (s *Service) Snapshot() ([]core.Category, []core.Transaction) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := make([]core.Category, len(s.categories))
	copy(cats, s.categories)
	txs := make([]core.Transaction, len(s.transactions))
	copy(txs, s.transactions)
	return cats, txs
}

// CurrentUser reports the user the projections are subscribed for.
func (s *Service) CurrentUser() (identity.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return identity.User{}, false
	}
	return *s.user, true
}

// Reload re-reads the projections from the store. Used after writes that
// bypass the command surface, such as cycle forwarding.
func (s *Service) Reload(ctx context.Context) error {
	return s.refresh(ctx)
}

func (s *Service) currentUserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return "", core.ErrNotAuthenticated
	}
	return s.user.ID, nil
}

// AddCategory creates a budget bucket. The trimmed name must not exist yet
// for this user; the check is an equality lookup before insert, with the
// store's unique constraint backstopping the lookup/insert race. When
// initialBudget is positive a synthetic income transaction dated now is also
// booked so the accumulator and the history agree.
func (s *Service) AddCategory(ctx context.Context, name string, initialBudget core.Money) error {
	userID, err := s.currentUserID()
	if err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	cat := core.Category{UserID: userID, Name: name}
	if err := cat.Validate(); err != nil {
		return err
	}

	if _, err := s.store.GetCategoryByName(ctx, userID, name); err == nil {
		return core.ErrDuplicateName
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check category name: %w", err)
	}

	id, err := s.store.InsertCategory(ctx, cat)
	if err != nil {
		return err
	}

	if initialBudget.Cents > 0 {
		if err := s.AddTransaction(ctx, AddTransactionInput{
			Type:        core.Income,
			Amount:      initialBudget,
			Category:    name,
			Date:        time.Now().UTC(),
			Description: "Initial budget",
		}); err != nil {
			return fmt.Errorf("book initial budget: %w", err)
		}
	}

	s.publish(ctx, amqp.CategoryAdded, id, userID)
	return s.refresh(ctx)
}

// DeleteCategory removes a category unconditionally. Transactions that
// reference its name are kept; their category string simply stops resolving.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	userID, err := s.currentUserID()
	if err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, userID, id); err != nil {
		return err
	}
	s.publish(ctx, amqp.CategoryDeleted, id, userID)
	return s.refresh(ctx)
}

type AddTransactionInput struct {
	Type        core.TransactionType
	Amount      core.Money
	Category    string
	Date        time.Time
	Description string
	RollOver    bool
}

// AddTransaction records a money movement and bumps the matching category's
// accumulator. The accumulator update is best-effort: a transaction whose
// category name matches nothing is still recorded.
func (s *Service) AddTransaction(ctx context.Context, in AddTransactionInput) error {
	userID, err := s.currentUserID()
	if err != nil {
		return err
	}

	tx := core.Transaction{
		UserID:      userID,
		Type:        in.Type,
		Amount:      in.Amount,
		Category:    strings.TrimSpace(in.Category),
		Date:        in.Date.UTC(),
		Description: in.Description,
		RollOver:    in.RollOver,
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	id, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return err
	}

	if err := s.applyAccumulators(ctx, userID, tx, 1); err != nil {
		slog.WarnContext(ctx, "Accumulator update failed",
			"error", err, "category", tx.Category)
	}

	s.publish(ctx, amqp.TransactionAdded, id, userID)
	return s.refresh(ctx)
}

// DeleteTransaction removes a transaction and reverses its accumulator
// contribution, keeping the denormalized totals consistent with the history.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	userID, err := s.currentUserID()
	if err != nil {
		return err
	}

	tx, err := s.store.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.applyAccumulators(ctx, userID, tx, -1); err != nil {
		slog.WarnContext(ctx, "Accumulator reversal failed",
			"error", err, "category", tx.Category)
	}

	s.publish(ctx, amqp.TransactionDeleted, id, userID)
	return s.refresh(ctx)
}

// applyAccumulators routes a transaction's amount into the matching
// category's running totals: income feeds budget, expense feeds spent.
func (s *Service) applyAccumulators(ctx context.Context, userID string, tx core.Transaction, sign int64) error {
	delta := tx.Amount.Cents * sign
	switch tx.Type {
	case core.Income:
		return s.store.AddToAccumulators(ctx, userID, tx.Category, delta, 0)
	case core.Expense:
		return s.store.AddToAccumulators(ctx, userID, tx.Category, 0, delta)
	default:
		return core.ErrInvalidType
	}
}

// Overview aggregates the cycle covering the given reference month: total
// income, total spent and per-category balances (income minus expense),
// everything derived from the same boundaries so totals cannot drift apart.
func (s *Service) Overview(ctx context.Context, year int, month time.Month, cfg core.CycleConfig) (core.CycleOverview, error) {
	if _, err := s.currentUserID(); err != nil {
		return core.CycleOverview{}, err
	}

	cycle, err := period.Boundaries(year, month, cfg)
	if err != nil {
		return core.CycleOverview{}, err
	}

	_, txs := s.Snapshot()
	byCategory := map[string]int64{}
	var order []string
	overview := core.CycleOverview{Label: cycle.Label()}

	for _, tx := range txs {
		if tx.Date.Before(cycle.Start) || tx.Date.After(cycle.End) {
			continue
		}
		if _, seen := byCategory[tx.Category]; !seen {
			order = append(order, tx.Category)
		}
		switch tx.Type {
		case core.Income:
			overview.Income.Cents += tx.Amount.Cents
			byCategory[tx.Category] += tx.Amount.Cents
		case core.Expense:
			overview.Spent.Cents += tx.Amount.Cents
			byCategory[tx.Category] -= tx.Amount.Cents
		}
	}

	sort.Strings(order)
	for _, name := range order {
		overview.Balances = append(overview.Balances, core.CategoryBalance{
			Category: name,
			Balance:  core.Money{Cents: byCategory[name]},
		})
	}
	return overview, nil
}

// CycleConfig loads the user's persisted billing cycle preference, falling
// back to calendar months.
func (s *Service) CycleConfig(ctx context.Context) (core.CycleConfig, error) {
	userID, err := s.currentUserID()
	if err != nil {
		return core.CycleConfig{}, err
	}
	raw, ok, err := s.store.GetSetting(ctx, userID, cycleConfigKey)
	if err != nil {
		return core.CycleConfig{}, err
	}
	if !ok {
		return core.DefaultCycleConfig(), nil
	}
	var cfg core.CycleConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.CycleConfig{}, fmt.Errorf("decode cycle config: %w", err)
	}
	return cfg, nil
}

// EnsureCycleConfig persists cfg as the billing cycle preference unless the
// user already chose one. Takes an explicit user id so startup can apply the
// configured default before the subscription is live.
func (s *Service) EnsureCycleConfig(ctx context.Context, userID string, cfg core.CycleConfig) error {
	_, ok, err := s.store.GetSetting(ctx, userID, cycleConfigKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode cycle config: %w", err)
	}
	return s.store.PutSetting(ctx, userID, cycleConfigKey, string(raw))
}

// SetCycleConfig validates and persists the billing cycle preference.
func (s *Service) SetCycleConfig(ctx context.Context, cfg core.CycleConfig) error {
	userID, err := s.currentUserID()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode cycle config: %w", err)
	}
	return s.store.PutSetting(ctx, userID, cycleConfigKey, string(raw))
}

// publish pushes a change message onto the feed. A nil publisher or a publish
// failure never fails the command; the local write already landed.
func (s *Service) publish(ctx context.Context, kind amqp.ChangeKind, id, userID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, amqp.NewLedgerChangeMessage(kind, id, userID)); err != nil {
		slog.WarnContext(ctx, "Failed to publish ledger change",
			"error", err, "kind", kind, "id", id)
	}
}
