// Package models defines server-side data models persisted in the database.
// Money is always a decimal.Decimal with two fractional digits.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User maps an external subject id to an internal id. Virtual owners such as
// a group escrow are users too: their external uid is the namespaced key.
type User struct {
	ID          string
	ExternalUID string
	Email       *string
	Phone       *string
	CreatedAt   time.Time
}

// Account is owned by exactly one (user, currency) pair.
type Account struct {
	ID        string
	UserID    string
	OwnerKey  string
	Currency  string
	CreatedAt time.Time
}

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// LedgerEntry is one immutable half of a double-entry posting.
type LedgerEntry struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	Direction Direction
	Reference *string
	CreatedAt time.Time
}

// IdempotencyKey records that an operation has been accepted once.
type IdempotencyKey struct {
	Key       string
	OwnerID   string
	CreatedAt time.Time
}
