package transaction_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/apperr"
	"transferd/internal/app/model"
	"transferd/internal/app/service/transaction"
	"transferd/internal/app/storage/postgres"
)

type published struct {
	queue   string
	message interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []published
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, queue string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{queue: queue, message: message})
	return p.err
}

func newService(t *testing.T, pub *fakePublisher) (*transaction.Service, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	transactions, err := postgres.NewTransactionRepository(db)
	if err != nil {
		t.Fatalf("transaction repository: %v", err)
	}
	limits, err := postgres.NewLimitRepository(db)
	if err != nil {
		t.Fatalf("limit repository: %v", err)
	}

	svc := transaction.New(db, transactions, limits, pub,
		transaction.WithQueues("fraud", "settlement"),
	)

	return svc, mock, func() { _ = db.Close() }
}

func transactionRow(m *model.Transaction) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "reference", "sender_user_id", "recipient_user_id",
		"amount", "currency", "type", "status",
		"external_bank", "external_reference", "created_at", "updated_at",
	}).AddRow(
		m.ID.String(), m.Reference, m.SenderUserID, m.RecipientUserID,
		m.Amount.String(), m.Currency, string(m.Type), string(m.Status),
		m.ExternalBank, m.ExternalReference, m.CreatedAt, m.UpdatedAt,
	)
}

func expectLimitCheck(mock sqlmock.Sqlmock, sender string, limitRow *sqlmock.Rows, spent string) {
	q := mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, daily_limit")).WithArgs(sender)
	if limitRow != nil {
		q.WillReturnRows(limitRow)
	} else {
		q.WillReturnError(sql.ErrNoRows)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT coalesce(sum(amount), 0)")).
		WithArgs(sender, string(model.TransactionStatusSuccess), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"spent"}).AddRow(spent))
}

func TestCreatePendingWithFraudDispatch(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", nil, "0")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		RecipientUserID: "bob",
		Amount:          decimal.NewFromInt(15000),
		Currency:        "NGN",
		Type:            model.TransactionTypeTransfer,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if m.Status != model.TransactionStatusPending {
		t.Errorf("status = %s, want pending", m.Status)
	}
	if m.Reference == "" {
		t.Error("reference not assigned")
	}
	if m.ID == uuid.Nil {
		t.Error("id not assigned")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if pub.published[0].queue != "fraud" {
		t.Errorf("queue = %s, want fraud", pub.published[0].queue)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateExternalDispatchesSettlement(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", nil, "0")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		RecipientUserID: "bob",
		Amount:          decimal.NewFromInt(5000),
		Currency:        "NGN",
		Type:            model.TransactionTypeTransfer,
		ExternalBank:    "GTB",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(pub.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.published))
	}
	if pub.published[0].queue != "fraud" || pub.published[1].queue != "settlement" {
		t.Errorf("queues = %s, %s", pub.published[0].queue, pub.published[1].queue)
	}
	_ = m
}

func TestCreateLimitExceeded(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", nil, "15000")
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		RecipientUserID: "bob",
		Amount:          decimal.NewFromInt(6000),
		Currency:        "NGN",
		Type:            model.TransactionTypeTransfer,
	})
	if !errors.Is(err, apperr.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	var limitErr *apperr.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %T, want *apperr.LimitError", err)
	}
	if !limitErr.Spent.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("spent = %s, want 15000", limitErr.Spent)
	}
	if !limitErr.Limit.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("limit = %s, want 20000", limitErr.Limit)
	}
	if !strings.Contains(err.Error(), "15000") || !strings.Contains(err.Error(), "20000") {
		t.Errorf("message %q misses spent/limit", err.Error())
	}

	if len(pub.published) != 0 {
		t.Errorf("published %d messages, want 0", len(pub.published))
	}
}

func TestCreateInclusiveCeiling(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	// amount + spent == limit must pass
	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", nil, "14000")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		RecipientUserID: "bob",
		Amount:          decimal.NewFromInt(6000),
		Currency:        "NGN",
		Type:            model.TransactionTypeTransfer,
	})
	if err != nil {
		t.Fatalf("create at exact ceiling: %v", err)
	}
}

func TestCreateUsesUserOverrideLimit(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	limitRow := sqlmock.NewRows([]string{"user_id", "daily_limit"}).AddRow("alice", "50000")

	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", limitRow, "20000")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		RecipientUserID: "bob",
		Amount:          decimal.NewFromInt(25000),
		Currency:        "NGN",
		Type:            model.TransactionTypeTransfer,
	})
	if err != nil {
		t.Fatalf("create within override limit: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	pub := &fakePublisher{}
	svc, _, closeFn := newService(t, pub)
	defer closeFn()

	cases := []struct {
		name string
		in   *transaction.CreateInput
	}{
		{"zero amount", &transaction.CreateInput{
			RecipientUserID: "bob", Amount: decimal.Zero, Currency: "NGN", Type: model.TransactionTypeTransfer,
		}},
		{"negative amount", &transaction.CreateInput{
			RecipientUserID: "bob", Amount: decimal.NewFromInt(-5), Currency: "NGN", Type: model.TransactionTypeTransfer,
		}},
		{"missing currency", &transaction.CreateInput{
			RecipientUserID: "bob", Amount: decimal.NewFromInt(5), Type: model.TransactionTypeTransfer,
		}},
		{"unknown type", &transaction.CreateInput{
			RecipientUserID: "bob", Amount: decimal.NewFromInt(5), Currency: "NGN", Type: "loan",
		}},
		{"transfer without recipient", &transaction.CreateInput{
			Amount: decimal.NewFromInt(5), Currency: "NGN", Type: model.TransactionTypeTransfer,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "alice", tc.in)
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateDepositNeedsNoRecipient(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectBegin()
	expectLimitCheck(mock, "alice", nil, "0")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), "alice", &transaction.CreateInput{
		Amount:   decimal.NewFromInt(500),
		Currency: "NGN",
		Type:     model.TransactionTypeDeposit,
	})
	if err != nil {
		t.Fatalf("deposit without recipient: %v", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), model.TransactionStatusSuccess, "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusAppliesPendingTransition(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	id := uuid.New()
	now := time.Now().UTC()
	row := transactionRow(&model.Transaction{
		ID: id, Reference: "ref-1", SenderUserID: "alice", RecipientUserID: "bob",
		Amount: decimal.NewFromInt(5000), Currency: "NGN",
		Type: model.TransactionTypeTransfer, Status: model.TransactionStatusPending,
		ExternalBank: "GTB", CreatedAt: now, UpdatedAt: now,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(id).WillReturnRows(row)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions")).
		WithArgs(string(model.TransactionStatusSuccess), sqlmock.AnyArg(), "GTB-"+id.String(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := svc.UpdateStatus(context.Background(), id, model.TransactionStatusSuccess, "GTB-"+id.String())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Status != model.TransactionStatusSuccess {
		t.Errorf("status = %s, want success", m.Status)
	}
	if m.ExternalReference != "GTB-"+id.String() {
		t.Errorf("external_reference = %s", m.ExternalReference)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateStatusTerminalIsNoOp(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	id := uuid.New()
	now := time.Now().UTC()
	row := transactionRow(&model.Transaction{
		ID: id, Reference: "ref-1", SenderUserID: "alice", RecipientUserID: "bob",
		Amount: decimal.NewFromInt(5000), Currency: "NGN",
		Type: model.TransactionTypeTransfer, Status: model.TransactionStatusSuccess,
		CreatedAt: now, UpdatedAt: now,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(id).WillReturnRows(row)
	mock.ExpectRollback()

	// redelivered verdict: no error, no write, state unchanged
	m, err := svc.UpdateStatus(context.Background(), id, model.TransactionStatusFailed, "")
	if err != nil {
		t.Fatalf("update on terminal: %v", err)
	}
	if m.Status != model.TransactionStatusSuccess {
		t.Errorf("status = %s, want success untouched", m.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFlagRepublishesFraudMessage(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	id := uuid.New()
	now := time.Now().UTC()
	row := transactionRow(&model.Transaction{
		ID: id, Reference: "ref-1", SenderUserID: "alice", RecipientUserID: "bob",
		Amount: decimal.NewFromInt(5000), Currency: "NGN",
		Type: model.TransactionTypeTransfer, Status: model.TransactionStatusPending,
		CreatedAt: now, UpdatedAt: now,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(id).WillReturnRows(row)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := svc.Flag(context.Background(), id)
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if m.Status != model.TransactionStatusPending {
		t.Errorf("status = %s, want pending", m.Status)
	}

	if len(pub.published) != 1 || pub.published[0].queue != "fraud" {
		t.Fatalf("published = %+v, want one fraud message", pub.published)
	}
}

func TestSetLimitBelowMinimum(t *testing.T) {
	pub := &fakePublisher{}
	svc, _, closeFn := newService(t, pub)
	defer closeFn()

	_, err := svc.SetLimit(context.Background(), "alice", decimal.NewFromInt(19999))
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSetLimitUpserts(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transaction_limits")).
		WithArgs("alice", decimal.NewFromInt(30000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.SetLimit(context.Background(), "alice", decimal.NewFromInt(30000))
	if err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if !m.DailyLimit.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("daily_limit = %s, want 30000", m.DailyLimit)
	}
}

func TestDailySpentSumsSuccessfulOnly(t *testing.T) {
	pub := &fakePublisher{}
	svc, mock, closeFn := newService(t, pub)
	defer closeFn()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT coalesce(sum(amount), 0)")).
		WithArgs("alice", string(model.TransactionStatusSuccess), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"spent"}).AddRow("15000"))

	spent, err := svc.DailySpent(context.Background(), "alice")
	if err != nil {
		t.Fatalf("daily spent: %v", err)
	}
	if !spent.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("spent = %s, want 15000", spent)
	}
}
