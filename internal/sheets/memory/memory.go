// Package memory provides an in-process TransactionAppender for tests and
// local runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"bilancio/internal/core"
)

type Sheet struct {
	mu   sync.Mutex
	rows []core.Transaction
}

func New() *Sheet {
	return &Sheet{}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Sheet) Append(_ context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, tx)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Sheet) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, len(s.rows))
	copy(out, s.rows)
	return out
}
