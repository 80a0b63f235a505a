package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
	"transferd/internal/app/model"
	"transferd/internal/app/queue"
	"transferd/internal/app/service/transaction"
)

// queue.Handler interface implementation
var _ queue.Handler = (*Fraud)(nil)

// Fraud screens freshly created transactions. Amounts above the threshold
// are held in pending for manual review, everything else is approved. The
// threshold stands in for the real fraud model, which is an external
// collaborator in production.
type Fraud struct {
	service   transaction.Manager
	threshold decimal.Decimal
	logger    logger.Logger
}

func (c *Fraud) LoggerComponent() string {
	return "Consumer.Fraud"
}

func NewFraud(svc transaction.Manager, threshold decimal.Decimal) *Fraud {
	c := &Fraud{
		service:   svc,
		threshold: threshold,
	}
	c.logger = logger.Global().Component(c)

	return c
}

// Handle method of queue.Handler implementation. Redelivery-safe: applying
// the same verdict twice is a no-op in the state machine.
func (c *Fraud) Handle(ctx context.Context, body []byte) error {
	in := &queue.FraudMessage{}
	if err := json.Unmarshal(body, in); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	id, err := uuid.Parse(in.TransactionID)
	if err != nil {
		return fmt.Errorf("transaction id parse: %w", err)
	}

	l := c.logger.With().Str("transaction_id", in.TransactionID).Logger()

	status := model.TransactionStatusSuccess
	if in.Amount.GreaterThan(c.threshold) {
		status = model.TransactionStatusPending
	}

	m, err := c.service.UpdateStatus(ctx, id, status, "")
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// nothing to converge, drop the message
			l.Warn().Msg("Unknown transaction, dropping fraud message")
			return nil
		}
		return fmt.Errorf("status update: %w", err)
	}

	l.Info().Str("status", string(m.Status)).Msg("Fraud check completed")

	return nil
}
