// Package ledger defines records for on-chain reward token movement.
package ledger

import "time"

// Mint identifies the reward token and its fixed decimal exponent.
type Mint struct {
	Address  string
	Decimals uint8
}

// TransferRecord is written exactly once per ledger-accepted transfer. Failed
// submissions produce no record.
type TransferRecord struct {
	ID               string    `json:"id" db:"id"`
	SenderAccount    string    `json:"sender_account" db:"sender_account"`
	RecipientAccount string    `json:"recipient_account" db:"recipient_account"`
	MintAddress      string    `json:"mint_address" db:"mint_address"`
	RawAmount        uint64    `json:"raw_amount" db:"raw_amount"`
	Signature        string    `json:"signature" db:"signature"`
	SubmittedAt      time.Time `json:"submitted_at" db:"submitted_at"`
}
