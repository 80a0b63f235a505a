package bank

import "github.com/shopspring/decimal"

type SettleRequest struct {
	TransactionID   string          `json:"transaction_id"`
	ExternalBank    string          `json:"external_bank"`
	RecipientUserID string          `json:"recipient_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type SettleResponse struct {
	Settled   bool   `json:"settled"`
	Reference string `json:"reference,omitempty"`
}
