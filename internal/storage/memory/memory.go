// Package memory is an in-memory store with the same surface as the SQLite
// repository. It backs tests and ephemeral runs where no database file is
// wanted.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
)

type Store struct {
	mu             sync.Mutex
	transactions   map[string]core.Transaction
	categories     map[string]core.Category
	settings       map[string]map[string]string // userID -> key -> value
	mirrored       map[string]bool
	mirrorAttempts map[string]int
}

func NewStore() *Store {
	return &Store{
		transactions:   make(map[string]core.Transaction),
		categories:     make(map[string]core.Category),
		settings:       make(map[string]map[string]string),
		mirrored:       make(map[string]bool),
		mirrorAttempts: make(map[string]int),
	}
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions[tx.ID] = tx
	return tx.ID, nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, sql.ErrNoRows
	}
	return tx, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := s.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	delete(s.transactions, id)
	s.mu.Unlock()
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []core.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			txs = append(txs, tx)
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
	return txs, nil
}

func (s *Store) HasRollOverOut(_ context.Context, userID, category string, cycleEnd time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if tx.UserID == userID && tx.Category == category &&
			tx.Type == core.Expense && tx.RollOver && tx.Date.Equal(cycleEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertCategory(_ context.Context, c core.Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.UserID == c.UserID && existing.Name == c.Name {
			return "", core.ErrDuplicateName
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories[c.ID] = c
	return c.ID, nil
}

func (s *Store) DeleteCategory(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.categories[id]; ok && c.UserID == userID {
		delete(s.categories, id)
	}
	return nil
}

func (s *Store) GetCategoryByName(_ context.Context, userID, name string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.UserID == userID && c.Name == name {
			return c, nil
		}
	}
	return core.Category{}, sql.ErrNoRows
}

func (s *Store) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cats []core.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

func (s *Store) CountCategories(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.categories {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) AddToAccumulators(_ context.Context, userID, name string, budgetDelta, spentDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.categories {
		if c.UserID == userID && c.Name == name {
			c.BudgetCents += budgetDelta
			c.SpentCents += spentDelta
			s.categories[id] = c
			return nil
		}
	}
	// no matching category is a no-op, same as the SQL UPDATE
	return nil
}

func (s *Store) GetSetting(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.settings[userID]; ok {
		if v, ok := kv[key]; ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (s *Store) PutSetting(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[userID] == nil {
		s.settings[userID] = make(map[string]string)
	}
	s.settings[userID][key] = value
	return nil
}

const maxMirrorAttempts = 5

// ListUnmirroredTransactions mirrors the SQLite repository's selection:
// unmirrored rows oldest-first, skipping rows that failed too often.
func (s *Store) ListUnmirroredTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []core.Transaction
	for id, tx := range s.transactions {
		if s.mirrored[id] || s.mirrorAttempts[id] >= maxMirrorAttempts {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *Store) MarkMirrored(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored[id] = true
	return nil
}

func (s *Store) MarkMirrorError(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrorAttempts[id]++
	return nil
}

func (s *Store) Close() error { return nil }
