package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further ordinary-flow transition is expected.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusFailed
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusFailed:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeTransfer, TransactionTypeDeposit, TransactionTypeWithdrawal:
		return true
	}
	return false
}

// RequiresRecipient is false for types that move money in or out of the
// caller's own account.
func (t TransactionType) RequiresRecipient() bool {
	return t == TransactionTypeTransfer
}

type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	Reference         string            `json:"reference"`
	SenderUserID      string            `json:"sender_user_id"`
	RecipientUserID   string            `json:"recipient_user_id,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	ExternalBank      string            `json:"external_bank,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// BelongsTo reports whether the user is a party of the transaction.
func (m *Transaction) BelongsTo(userID string) bool {
	return m.SenderUserID == userID || (m.RecipientUserID != "" && m.RecipientUserID == userID)
}
