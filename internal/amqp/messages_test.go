package amqp

import "testing"

func TestLedgerChangeMessageRoundTrip(t *testing.T) {
	msg := NewLedgerChangeMessage(TransactionAdded, "tx-1", "user-1")

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	got, err := LedgerChangeMessageFromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if got.Kind != TransactionAdded || got.ID != "tx-1" || got.UserID != "user-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLedgerChangeMessageFromJSONInvalid(t *testing.T) {
	if _, err := LedgerChangeMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for invalid payload")
	}
}
