package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	pg "github.com/lib/pq"

	"transferd/internal/app/apperr"
	"transferd/internal/app/model"
	"transferd/internal/app/storage"
)

// storage.LimitRepository interface implementation
var _ storage.LimitRepository = (*LimitRepository)(nil)

type LimitRepository struct {
	db *sql.DB
}

func (r *LimitRepository) LoggerComponent() string {
	return "LimitRepository"
}

func NewLimitRepository(db *sql.DB) (*LimitRepository, error) {
	s := &LimitRepository{
		db: db,
	}
	return s, nil
}

// Read implementation of interface storage.LimitRepository
func (r *LimitRepository) Read(ctx context.Context, userID string) (*model.TransactionLimit, error) {
	const SQL = `
		SELECT user_id, daily_limit
		FROM transaction_limits
		WHERE user_id=$1
`
	return r.scanOne(r.db.QueryRowContext(ctx, SQL, userID))
}

// TxRead implementation of interface storage.LimitRepository
func (r *LimitRepository) TxRead(ctx context.Context, tx *sql.Tx, userID string) (*model.TransactionLimit, error) {
	const SQL = `
		SELECT user_id, daily_limit
		FROM transaction_limits
		WHERE user_id=$1
`
	return r.scanOne(tx.QueryRowContext(ctx, SQL, userID))
}

// Upsert implementation of interface storage.LimitRepository
func (r *LimitRepository) Upsert(ctx context.Context, m *model.TransactionLimit) (*model.TransactionLimit, error) {
	const SQL = `
		INSERT INTO transaction_limits (user_id, daily_limit)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET daily_limit=excluded.daily_limit
`
	_, err := r.db.ExecContext(ctx, SQL, m.UserID, m.DailyLimit)
	if err != nil {
		if pgErr, ok := err.(*pg.Error); ok {
			if pgerrcode.IsIntegrityConstraintViolation(string(pgErr.Code)) {
				return nil, apperr.ErrConflict
			}
		}

		return nil, fmt.Errorf("upsert: %w", err)
	}

	return m, nil
}

func (r *LimitRepository) scanOne(row *sql.Row) (*model.TransactionLimit, error) {
	m := &model.TransactionLimit{}

	err := row.Scan(&m.UserID, &m.DailyLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select: %w", err)
	}

	return m, nil
}
