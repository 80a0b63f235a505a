package queue

import (
	"github.com/shopspring/decimal"

	"transferd/internal/app/model"
)

// FraudMessage asks the fraud pipeline to screen a freshly created transaction.
type FraudMessage struct {
	TransactionID   string          `json:"transaction_id"`
	SenderUserID    string          `json:"sender_user_id"`
	RecipientUserID string          `json:"recipient_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Type            string          `json:"type"`
}

// SettlementMessage asks the settlement pipeline to move a transaction
// through the external bank it was created against.
type SettlementMessage struct {
	TransactionID   string          `json:"transaction_id"`
	ExternalBank    string          `json:"external_bank"`
	RecipientUserID string          `json:"recipient_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

func NewFraudMessage(m *model.Transaction) *FraudMessage {
	return &FraudMessage{
		TransactionID:   m.ID.String(),
		SenderUserID:    m.SenderUserID,
		RecipientUserID: m.RecipientUserID,
		Amount:          m.Amount,
		Currency:        m.Currency,
		Type:            string(m.Type),
	}
}

func NewSettlementMessage(m *model.Transaction) *SettlementMessage {
	return &SettlementMessage{
		TransactionID:   m.ID.String(),
		ExternalBank:    m.ExternalBank,
		RecipientUserID: m.RecipientUserID,
		Amount:          m.Amount,
		Currency:        m.Currency,
	}
}
