package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
	"transferd/internal/app/model"
	"transferd/internal/app/service/transaction"
	"transferd/internal/app/storage"
)

type TransactionHandler struct {
	service transaction.Manager
}

func NewTransactionHandler(svc transaction.Manager) *TransactionHandler {
	return &TransactionHandler{
		service: svc,
	}
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Create")

	id, err := ReadContextIdentity(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	in := struct {
		RecipientUserID string          `json:"recipient_user_id"`
		Amount          decimal.Decimal `json:"amount" validate:"required"`
		Currency        string          `json:"currency" validate:"required,max=10"`
		Type            string          `json:"type" validate:"required,oneof=transfer deposit withdrawal"`
		ExternalBank    string          `json:"external_bank" validate:"max=64"`
	}{}

	if err := readBody(r, &in); err != nil {
		l.Debug().Err(err).Msg("Body read failed")
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	if !validateData(w, in) {
		return
	}

	m, err := h.service.Create(ctx, id.Subject, &transaction.CreateInput{
		RecipientUserID: in.RecipientUserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Type:            model.TransactionType(in.Type),
		ExternalBank:    in.ExternalBank,
	})
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	WriteResponse(w, m, http.StatusCreated)
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.List")

	id, err := ReadContextIdentity(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	f := storage.TransactionFilter{
		Type:   model.TransactionType(r.URL.Query().Get("type")),
		Status: model.TransactionStatus(r.URL.Query().Get("status")),
	}
	if f.Type != "" && !f.Type.Valid() {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	mm, err := h.service.List(ctx, id.Subject, f)
	if err != nil {
		l.Error().Err(err).Send()
		WriteError(w, err, http.StatusInternalServerError)
		return
	}

	WriteResponse(w, mm, http.StatusOK)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.readOwned(w, r, "Handler.Transaction.Get")
}

// Settlement returns the current transaction including its settlement
// outcome; ownership-checked like Get.
func (h *TransactionHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	h.readOwned(w, r, "Handler.Transaction.Settlement")
}

func (h *TransactionHandler) readOwned(w http.ResponseWriter, r *http.Request, component string) {
	ctx := r.Context()
	l := logger.Get(ctx, component)

	id, err := ReadContextIdentity(ctx)
	if err != nil {
		WriteError(w, err, http.StatusUnauthorized)
		return
	}

	txnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	m, err := h.service.Get(ctx, txnID)
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	if !m.BelongsTo(id.Subject) && !id.Superuser {
		l.Debug().Str("subject", id.Subject).Str("transaction_id", txnID.String()).Msg("Ownership violation")
		WriteError(w, apperr.ErrForbidden, http.StatusForbidden)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

// PatchStatus forces a status transition. Superuser only.
func (h *TransactionHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.PatchStatus")

	txnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	in := struct {
		Status            string `json:"status" validate:"required,oneof=pending success failed"`
		ExternalReference string `json:"external_reference" validate:"max=128"`
	}{}

	if err := readBody(r, &in); err != nil {
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	if !validateData(w, in) {
		return
	}

	m, err := h.service.UpdateStatus(ctx, txnID, model.TransactionStatus(in.Status), in.ExternalReference)
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

// Approve is the superuser shortcut for status=success.
func (h *TransactionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Approve")

	txnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	m, err := h.service.UpdateStatus(ctx, txnID, model.TransactionStatusSuccess, "")
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

// Flag is the superuser shortcut for status=pending plus re-publication to
// the fraud-review channel.
func (h *TransactionHandler) Flag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.Flag")

	txnID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	m, err := h.service.Flag(ctx, txnID)
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

// SetLimit upserts a user's daily ceiling. Superuser only.
func (h *TransactionHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := logger.Get(ctx, "Handler.Transaction.SetLimit")

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		WriteError(w, apperr.ErrInvalidInput, http.StatusBadRequest)
		return
	}

	in := struct {
		DailyLimit decimal.Decimal `json:"daily_limit" validate:"required"`
	}{}

	if err := readBody(r, &in); err != nil {
		WriteError(w, err, http.StatusBadRequest)
		return
	}

	if !validateData(w, in) {
		return
	}

	m, err := h.service.SetLimit(ctx, userID, in.DailyLimit)
	if err != nil {
		h.writeServiceError(w, l, err)
		return
	}

	WriteResponse(w, m, http.StatusOK)
}

func (h *TransactionHandler) writeServiceError(w http.ResponseWriter, l logger.Logger, err error) {
	switch {
	case errors.Is(err, apperr.ErrLimitExceeded), errors.Is(err, apperr.ErrInvalidInput):
		l.Debug().Err(err).Msg("Validation error")
		WriteError(w, err, http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		l.Debug().Err(err).Msg("Not found")
		WriteError(w, err, http.StatusNotFound)
	case errors.Is(err, apperr.ErrForbidden):
		WriteError(w, err, http.StatusForbidden)
	case errors.Is(err, apperr.ErrUnauthorized):
		WriteError(w, err, http.StatusUnauthorized)
	default:
		l.Error().Err(err).Msg("Internal error")
		WriteError(w, err, http.StatusInternalServerError)
	}
}
