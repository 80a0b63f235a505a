package model

import "github.com/shopspring/decimal"

// TransactionLimit is a per-user override of the default daily ceiling.
// Absence of a row means the system-wide default applies.
type TransactionLimit struct {
	UserID     string          `json:"user_id"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
}
