package amqp

import (
	"encoding/json"
	"time"
)

const (
	TransactionAdded   ChangeKind = "transaction_added"
	TransactionDeleted ChangeKind = "transaction_deleted"
	CategoryAdded      ChangeKind = "category_added"
	CategoryDeleted    ChangeKind = "category_deleted"
)

type ChangeKind string

// LedgerChangeMessage is the lightweight record published on every ledger
// mutation. Consumers fetch the full document from storage by ID; the message
// itself only identifies what changed.
type LedgerChangeMessage struct {
	Kind      ChangeKind `json:"kind"`
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewLedgerChangeMessage(kind ChangeKind, id, userID string) *LedgerChangeMessage {
	return &LedgerChangeMessage{
		Kind:      kind,
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *LedgerChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerChangeMessageFromJSON(data []byte) (*LedgerChangeMessage, error) {
	var msg LedgerChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
