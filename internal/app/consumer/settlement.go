package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
	"transferd/internal/app/model"
	"transferd/internal/app/queue"
	"transferd/internal/app/service/transaction"
	"transferd/pkg/bank"
)

// queue.Handler interface implementation
var _ queue.Handler = (*Settlement)(nil)

// Settlement pushes external transfers through the bank collaborator and
// records the outcome together with the synthesized settlement reference.
type Settlement struct {
	service transaction.Manager
	bank    bank.Settler
	logger  logger.Logger
}

func (c *Settlement) LoggerComponent() string {
	return "Consumer.Settlement"
}

func NewSettlement(svc transaction.Manager, settler bank.Settler) *Settlement {
	c := &Settlement{
		service: svc,
		bank:    settler,
	}
	c.logger = logger.Global().Component(c)

	return c
}

// Handle method of queue.Handler implementation
func (c *Settlement) Handle(ctx context.Context, body []byte) error {
	in := &queue.SettlementMessage{}
	if err := json.Unmarshal(body, in); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	id, err := uuid.Parse(in.TransactionID)
	if err != nil {
		return fmt.Errorf("transaction id parse: %w", err)
	}

	l := c.logger.With().
		Str("transaction_id", in.TransactionID).
		Str("external_bank", in.ExternalBank).
		Logger()
	l.Info().Msg("Processing settlement")

	out := &bank.SettleResponse{}
	err = c.bank.Settle(ctx, &bank.SettleRequest{
		TransactionID:   in.TransactionID,
		ExternalBank:    in.ExternalBank,
		RecipientUserID: in.RecipientUserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
	}, out)
	if err != nil {
		return fmt.Errorf("bank settle: %w", err)
	}

	status := model.TransactionStatusFailed
	if out.Settled {
		status = model.TransactionStatusSuccess
	}
	externalRef := fmt.Sprintf("%s-%s", in.ExternalBank, in.TransactionID)

	m, err := c.service.UpdateStatus(ctx, id, status, externalRef)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			l.Warn().Msg("Unknown transaction, dropping settlement message")
			return nil
		}
		return fmt.Errorf("status update: %w", err)
	}

	l.Info().Str("status", string(m.Status)).Msg("Settlement completed")

	return nil
}
