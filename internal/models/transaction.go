package models

import "time"

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Transaction is an immutable ledger entry. SourceID is nil for minted
// rewards (goal payouts). Status moves pending -> approved|rejected exactly
// once; approved and rejected are terminal.
type Transaction struct {
	ID          int32     `json:"id"`
	Direction   Direction `json:"direction"`
	SourceID    *int32    `json:"source_id,omitempty"`
	DestID      int32     `json:"dest_id"`
	Amount      int32     `json:"amount"`
	Description string    `json:"description"`
	Hash        string    `json:"hash"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
