package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEvent() *TransactionEvent {
	return &TransactionEvent{
		TxnID:          "txn_1001",
		CustomerID:     "cust_42",
		CounterpartyID: "cp_7",
		Amount:         250.0,
		Currency:       "USD",
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Geo:            GeoData{Country: "US", City: "Denver"},
	}
}

func TestTransactionEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TransactionEvent)
		wantErr string
	}{
		{"valid", func(*TransactionEvent) {}, ""},
		{"missing txn_id", func(e *TransactionEvent) { e.TxnID = "" }, "txn_id"},
		{"missing customer_id", func(e *TransactionEvent) { e.CustomerID = "" }, "customer_id"},
		{"malformed customer_id", func(e *TransactionEvent) { e.CustomerID = "cust 42!" }, "customer_id"},
		{"lowercase currency", func(e *TransactionEvent) { e.Currency = "usd" }, "currency"},
		{"negative amount", func(e *TransactionEvent) { e.Amount = -1 }, "amount"},
		{"empty counterparty ok", func(e *TransactionEvent) { e.CounterpartyID = "" }, ""},
		{"empty currency ok", func(e *TransactionEvent) { e.Currency = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(ev)
			err := ev.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
