// Package models contains the persisted records of the gateway.
package models

import "time"

// Trade kinds stored in the journal.
const (
	TradeKindOpen  = "open"
	TradeKindClose = "close"
)

// BrokerCredential is a stored, encrypted access token for one account key.
type BrokerCredential struct {
	ID              int64     `json:"id"`
	AccountID       string    `json:"account_id"`
	Environment     string    `json:"environment"`
	CTIDAccountID   int64     `json:"ctid_account_id"`
	TokenCiphertext []byte    `json:"-"`
	TokenNonce      []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Trade is one journal entry: an opened order or a closed position.
type Trade struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"account_id"`
	Environment string    `json:"environment"`
	Kind        string    `json:"kind"` // "open" or "close"
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`   // BUY or SELL
	Volume      float64   `json:"volume"` // lots
	Price       float64   `json:"price"`
	OrderID     string    `json:"order_id,omitempty"`
	PositionID  string    `json:"position_id,omitempty"`
	Profit      float64   `json:"profit"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// AccountSnapshot is the balance and equity of an account at one moment.
type AccountSnapshot struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"account_id"`
	Environment string    `json:"environment"`
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	MarginLevel float64   `json:"margin_level"`
	TakenAt     time.Time `json:"taken_at"`
}
