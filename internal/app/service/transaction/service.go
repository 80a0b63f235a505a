package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
	"transferd/internal/app/model"
	"transferd/internal/app/queue"
	"transferd/internal/app/storage"
)

// Manager interface implementation
var _ Manager = (*Service)(nil)

type Service struct {
	db           *sql.DB
	transactions storage.TransactionRepository
	limits       storage.LimitRepository
	publisher    queue.Publisher
	logger       logger.Logger

	defaultDailyLimit decimal.Decimal
	minDailyLimit     decimal.Decimal
	fraudQueue        string
	settlementQueue   string
}

func (s *Service) LoggerComponent() string {
	return "Transaction.Service"
}

func New(db *sql.DB, transactions storage.TransactionRepository, limits storage.LimitRepository, publisher queue.Publisher, opts ...Option) *Service {
	s := &Service{
		db:                db,
		transactions:      transactions,
		limits:            limits,
		publisher:         publisher,
		defaultDailyLimit: decimal.NewFromInt(20000),
		minDailyLimit:     decimal.NewFromInt(20000),
		fraudQueue:        "fraud",
		settlementQueue:   "settlement",
	}
	s.logger = logger.Global().Component(s)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type Option func(*Service)

func WithDefaultDailyLimit(limit decimal.Decimal) Option {
	return func(s *Service) {
		s.defaultDailyLimit = limit
	}
}

func WithMinDailyLimit(limit decimal.Decimal) Option {
	return func(s *Service) {
		s.minDailyLimit = limit
	}
}

func WithQueues(fraud, settlement string) Option {
	return func(s *Service) {
		s.fraudQueue = fraud
		s.settlementQueue = settlement
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Create method of Manager implementation. The daily-limit check and the
// insert run in one serializable database transaction so that concurrent
// transfers from the same sender cannot jointly exceed the ceiling.
func (s *Service) Create(ctx context.Context, senderID string, in *CreateInput) (*model.Transaction, error) {
	l := s.logger.With().Str("method", "Create").Str("sender", senderID).Logger()

	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &model.Transaction{
		ID:              uuid.New(),
		Reference:       xid.New().String(),
		SenderUserID:    senderID,
		RecipientUserID: in.RecipientUserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Type:            in.Type,
		Status:          model.TransactionStatusPending,
		ExternalBank:    in.ExternalBank,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, fmt.Errorf("tx begin: %w", err)
	}

	if err := s.checkLimit(ctx, tx, senderID, in.Amount, now); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := s.transactions.TxCreate(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("tx create: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit: %w", err)
	}

	l.Info().
		Str("transaction_id", m.ID.String()).
		Str("reference", m.Reference).
		Msg("Transaction created")

	s.dispatch(ctx, m)

	return m, nil
}

// dispatch publishes the fraud-review message and, for transfers leaving the
// platform, the settlement message. Publish failures after a successful
// persist are an operational alert, not a request failure: the transaction
// stalls in pending until the pipeline is repaired.
func (s *Service) dispatch(ctx context.Context, m *model.Transaction) {
	l := s.logger.With().Str("transaction_id", m.ID.String()).Logger()

	if err := s.publisher.Publish(ctx, s.fraudQueue, queue.NewFraudMessage(m)); err != nil {
		l.Error().Err(err).Str("queue", s.fraudQueue).Msg("Dispatch failed")
	}

	if m.ExternalBank == "" {
		return
	}

	if err := s.publisher.Publish(ctx, s.settlementQueue, queue.NewSettlementMessage(m)); err != nil {
		l.Error().Err(err).Str("queue", s.settlementQueue).Msg("Dispatch failed")
	}
}

// checkLimit fails with apperr.LimitError when amount plus the sender's
// successful spend for the current UTC day would exceed the ceiling. The
// ceiling is inclusive: amount+spent == limit passes.
func (s *Service) checkLimit(ctx context.Context, tx *sql.Tx, senderID string, amount decimal.Decimal, now time.Time) error {
	limit := s.defaultDailyLimit

	row, err := s.limits.TxRead(ctx, tx, senderID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("limit read: %w", err)
	}
	if row != nil {
		limit = row.DailyLimit
	}

	spent, err := s.transactions.TxDailySpent(ctx, tx, senderID, dayStart(now))
	if err != nil {
		return fmt.Errorf("daily spent: %w", err)
	}

	if amount.Add(spent).GreaterThan(limit) {
		return apperr.NewLimitError(spent, limit)
	}

	return nil
}

func validateCreate(in *CreateInput) error {
	switch {
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidInput)
	case in.Currency == "":
		return fmt.Errorf("%w: currency is required", apperr.ErrInvalidInput)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", apperr.ErrInvalidInput, in.Type)
	case in.Type.RequiresRecipient() && in.RecipientUserID == "":
		return fmt.Errorf("%w: recipient is required for transfers", apperr.ErrInvalidInput)
	}

	return nil
}

// Get method of Manager implementation
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	return s.transactions.Read(ctx, id)
}

// List method of Manager implementation
func (s *Service) List(ctx context.Context, userID string, f storage.TransactionFilter) ([]*model.Transaction, error) {
	return s.transactions.AllByUserID(ctx, userID, f)
}

// UpdateStatus method of Manager implementation. The row is locked for the
// duration of the update; a transaction already in a terminal state is
// returned unchanged so that redelivered or late consumer verdicts are
// harmless no-ops and can never move it between terminal states.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus, externalReference string) (*model.Transaction, error) {
	l := s.logger.With().
		Str("method", "UpdateStatus").
		Str("transaction_id", id.String()).
		Str("status", string(status)).
		Logger()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidInput, status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin: %w", err)
	}

	m, err := s.transactions.TxReadForUpdate(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if m.Status.Terminal() {
		_ = tx.Rollback()
		l.Debug().Str("current", string(m.Status)).Msg("Terminal state, update ignored")
		return m, nil
	}

	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	if externalReference != "" {
		m.ExternalReference = externalReference
	}

	if _, err := s.transactions.TxUpdate(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("tx update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit: %w", err)
	}

	l.Info().Msg("Transaction status updated")

	return m, nil
}

// Flag method of Manager implementation. Flagging keeps the transaction
// pending and re-enters it into the fraud pipeline.
func (s *Service) Flag(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	m, err := s.UpdateStatus(ctx, id, model.TransactionStatusPending, "")
	if err != nil {
		return nil, err
	}

	if m.Status != model.TransactionStatusPending {
		// already settled, nothing left to review
		return m, nil
	}

	if err := s.publisher.Publish(ctx, s.fraudQueue, queue.NewFraudMessage(m)); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", m.ID.String()).
			Str("queue", s.fraudQueue).
			Msg("Flag re-publish failed")
	}

	return m, nil
}

// DailySpent method of Manager implementation
func (s *Service) DailySpent(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.transactions.DailySpent(ctx, userID, dayStart(time.Now().UTC()))
}

// SetLimit method of Manager implementation
func (s *Service) SetLimit(ctx context.Context, userID string, dailyLimit decimal.Decimal) (*model.TransactionLimit, error) {
	if dailyLimit.LessThan(s.minDailyLimit) {
		return nil, fmt.Errorf("%w: minimum daily limit is %s", apperr.ErrInvalidInput, s.minDailyLimit)
	}

	m, err := s.limits.Upsert(ctx, &model.TransactionLimit{
		UserID:     userID,
		DailyLimit: dailyLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("limit upsert: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Str("daily_limit", dailyLimit.String()).Msg("Daily limit set")

	return m, nil
}

// dayStart is local midnight UTC of the given instant.
func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
