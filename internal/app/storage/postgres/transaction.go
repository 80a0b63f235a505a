package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	pg "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
	"transferd/internal/app/model"
	"transferd/internal/app/storage"
)

// storage.TransactionRepository interface implementation
var _ storage.TransactionRepository = (*TransactionRepository)(nil)

type TransactionRepository struct {
	db *sql.DB
}

func (r *TransactionRepository) LoggerComponent() string {
	return "TransactionRepository"
}

func NewTransactionRepository(db *sql.DB) (*TransactionRepository, error) {
	s := &TransactionRepository{
		db: db,
	}
	return s, nil
}

const transactionColumns = `id, reference, sender_user_id, coalesce(recipient_user_id, ''), amount, currency, type, status, coalesce(external_bank, ''), coalesce(external_reference, ''), created_at, updated_at`

// TxCreate implementation of interface storage.TransactionRepository
func (r *TransactionRepository) TxCreate(ctx context.Context, tx *sql.Tx, m *model.Transaction) (*model.Transaction, error) {
	const SQL = `
		INSERT INTO transactions (id, reference, sender_user_id, recipient_user_id, amount, currency, type, status, external_bank, created_at, updated_at)
		VALUES ($1, $2, $3, nullif($4, ''), $5, $6, $7, $8, nullif($9, ''), $10, $11)
`
	_, err := tx.ExecContext(ctx, SQL,
		m.ID, m.Reference, m.SenderUserID, m.RecipientUserID,
		m.Amount, m.Currency, m.Type, m.Status, m.ExternalBank,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pg.Error); ok {
			if pgerrcode.IsIntegrityConstraintViolation(string(pgErr.Code)) {
				return nil, apperr.ErrConflict
			}
		}

		return nil, fmt.Errorf("insert: %w", err)
	}

	return m, nil
}

// Read implementation of interface storage.TransactionRepository
func (r *TransactionRepository) Read(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	const SQL = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id=$1
`
	return r.scanOne(r.db.QueryRowContext(ctx, SQL, id))
}

// TxReadForUpdate implementation of interface storage.TransactionRepository
func (r *TransactionRepository) TxReadForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Transaction, error) {
	const SQL = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id=$1
		FOR UPDATE
`
	return r.scanOne(tx.QueryRowContext(ctx, SQL, id))
}

// TxUpdate implementation of interface storage.TransactionRepository
func (r *TransactionRepository) TxUpdate(ctx context.Context, tx *sql.Tx, m *model.Transaction) (*model.Transaction, error) {
	const SQL = `
		UPDATE transactions
		SET status=$1, updated_at=$2, external_reference=coalesce(nullif($3, ''), external_reference)
		WHERE id=$4
`
	_, err := tx.ExecContext(ctx, SQL, m.Status, m.UpdatedAt, m.ExternalReference, m.ID)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	return m, nil
}

// AllByUserID implementation of interface storage.TransactionRepository
func (r *TransactionRepository) AllByUserID(ctx context.Context, userID string, f storage.TransactionFilter) ([]*model.Transaction, error) {
	l := logger.Ctx(ctx).With().Str("method", "AllByUserID").Logger()

	SQL := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (sender_user_id=$1 OR recipient_user_id=$1)
`
	args := []interface{}{userID}
	if f.Type != "" {
		args = append(args, f.Type)
		SQL += fmt.Sprintf(" AND type=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		SQL += fmt.Sprintf(" AND status=$%d", len(args))
	}
	SQL += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	res := make([]*model.Transaction, 0)
	for rows.Next() {
		m := &model.Transaction{}
		if err := r.scanInto(rows, m); err != nil {
			l.Debug().Err(err).Send()
			return nil, fmt.Errorf("scan: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return res, nil
}

// DailySpent implementation of interface storage.TransactionRepository
func (r *TransactionRepository) DailySpent(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return r.dailySpent(ctx, r.db.QueryRowContext, userID, since)
}

// TxDailySpent implementation of interface storage.TransactionRepository
func (r *TransactionRepository) TxDailySpent(ctx context.Context, tx *sql.Tx, userID string, since time.Time) (decimal.Decimal, error) {
	return r.dailySpent(ctx, tx.QueryRowContext, userID, since)
}

type queryRowFunc func(ctx context.Context, query string, args ...interface{}) *sql.Row

func (r *TransactionRepository) dailySpent(ctx context.Context, queryRow queryRowFunc, userID string, since time.Time) (decimal.Decimal, error) {
	const SQL = `
		SELECT coalesce(sum(amount), 0) as spent
		FROM transactions
		WHERE sender_user_id=$1 AND status=$2 AND created_at >= $3
`
	spent := decimal.NewFromInt(0)

	err := queryRow(ctx, SQL, userID, model.TransactionStatusSuccess, since).Scan(&spent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return spent, nil
		}
		return spent, fmt.Errorf("select: %w", err)
	}

	return spent, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *TransactionRepository) scanOne(row scanner) (*model.Transaction, error) {
	m := &model.Transaction{}
	if err := r.scanInto(row, m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select: %w", err)
	}
	return m, nil
}

func (r *TransactionRepository) scanInto(row scanner, m *model.Transaction) error {
	return row.Scan(
		&m.ID, &m.Reference, &m.SenderUserID, &m.RecipientUserID,
		&m.Amount, &m.Currency, &m.Type, &m.Status,
		&m.ExternalBank, &m.ExternalReference,
		&m.CreatedAt, &m.UpdatedAt,
	)
}
