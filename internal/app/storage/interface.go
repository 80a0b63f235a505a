//go:generate mockgen -source=./interface.go -destination=./mock/storage.go -package=storagemock
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/model"
)

// TransactionFilter narrows listing results. Zero values mean "any".
type TransactionFilter struct {
	Type   model.TransactionType
	Status model.TransactionStatus
}

type TransactionRepository interface {
	// TxCreate a new model.Transaction within the tx
	TxCreate(ctx context.Context, tx *sql.Tx, m *model.Transaction) (*model.Transaction, error)
	// Read instance of model.Transaction
	Read(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// TxReadForUpdate reads a transaction and locks its row within the tx
	TxReadForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Transaction, error)
	// TxUpdate writes status, updated_at and external_reference within the tx
	TxUpdate(ctx context.Context, tx *sql.Tx, m *model.Transaction) (*model.Transaction, error)
	// AllByUserID returns transactions where the user is sender or recipient
	AllByUserID(ctx context.Context, userID string, f TransactionFilter) ([]*model.Transaction, error)
	// DailySpent sums successful outgoing amounts since the given instant
	DailySpent(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	// TxDailySpent is DailySpent within the tx
	TxDailySpent(ctx context.Context, tx *sql.Tx, userID string, since time.Time) (decimal.Decimal, error)
}

type LimitRepository interface {
	// Read instance of model.TransactionLimit
	Read(ctx context.Context, userID string) (*model.TransactionLimit, error)
	// TxRead instance of model.TransactionLimit within the tx
	TxRead(ctx context.Context, tx *sql.Tx, userID string) (*model.TransactionLimit, error)
	// Upsert creates or replaces the user's daily limit
	Upsert(ctx context.Context, m *model.TransactionLimit) (*model.TransactionLimit, error)
}
