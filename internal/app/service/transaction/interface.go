package transaction

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/model"
	"transferd/internal/app/storage"
)

// CreateInput is the validated payload of a new transfer request.
type CreateInput struct {
	RecipientUserID string
	Amount          decimal.Decimal
	Currency        string
	Type            model.TransactionType
	ExternalBank    string
}

// Manager orchestrates transaction creation, daily-limit enforcement and
// status transitions. It is the single mutator of transaction rows; the
// consumers only ever call back through UpdateStatus.
type Manager interface {
	// Create persists a pending transaction after the daily-limit check and
	// hands it to the async pipeline
	Create(ctx context.Context, senderID string, in *CreateInput) (*model.Transaction, error)
	// Get reads a transaction by id
	Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// List returns transactions where the user is sender or recipient
	List(ctx context.Context, userID string, f storage.TransactionFilter) ([]*model.Transaction, error)
	// UpdateStatus advances the state machine; terminal states absorb
	// further updates as no-ops
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus, externalReference string) (*model.Transaction, error)
	// Flag returns a transaction to pending and re-publishes it for fraud review
	Flag(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// DailySpent sums the user's successful outgoing transfers for the
	// current UTC day
	DailySpent(ctx context.Context, userID string) (decimal.Decimal, error)
	// SetLimit upserts the user's daily ceiling
	SetLimit(ctx context.Context, userID string, dailyLimit decimal.Decimal) (*model.TransactionLimit, error)
}
