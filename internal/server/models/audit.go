package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisHash is the previous_hash of the first event in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEvent is one link of the append-only, hash-chained audit trail.
// Seq orders the chain; EventID is the public identifier.
type AuditEvent struct {
	Seq           int64
	EventID       string
	ActorID       string
	Action        string
	Amount        decimal.NullDecimal
	Currency      *string
	CorrelationID string
	PreviousHash  string
	CurrentHash   string
	Signature     string
	Payload       json.RawMessage
	CreatedAt     time.Time
}
