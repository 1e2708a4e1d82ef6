package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/service"
)

// DepositHandler handles HTTP requests for deposit orders.
type DepositHandler struct {
	orderSvc *service.OrderService
}

func NewDepositHandler(orderSvc *service.OrderService) *DepositHandler {
	return &DepositHandler{orderSvc: orderSvc}
}

// CreateDepositRequest represents the request body for opening a deposit order.
type CreateDepositRequest struct {
	Amount string `json:"amount"`
	Chain  string `json:"chain"`
}

// CreateDeposit handles POST /v1/deposits
// It opens a deposit order and returns the exact amount the user must send.
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	req.Chain = strings.ToUpper(strings.TrimSpace(req.Chain))
	if req.Chain == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-chain", "chain is required")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a decimal string")
		return
	}

	order, err := h.orderSvc.CreateOrder(r.Context(), actorID, amount, req.Chain)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidChain):
			RespondError(w, r, http.StatusBadRequest, "deposit/unsupported-chain", "Unsupported chain")
			return
		case errors.Is(err, models.ErrInvalidAmount):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
			return
		case errors.Is(err, models.ErrAllocationExhausted):
			RespondError(w, r, http.StatusConflict, "deposit/amount-allocation-exhausted", "Too many pending deposits for this address, retry shortly")
			return
		case errors.Is(err, models.ErrChainUnavailable):
			RespondError(w, r, http.StatusServiceUnavailable, "deposit/chain-unavailable", "Deposits are temporarily unavailable for this chain")
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("create deposit failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "deposit/create-failed", "Failed to create deposit order")
		return
	}

	RespondJSON(w, http.StatusCreated, order)
}

// GetDeposit handles GET /v1/deposits/{id}
// It returns the order as its owner sees it, expiring it lazily if overdue.
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deposit-id", "Invalid deposit ID")
		return
	}

	order, err := h.orderSvc.GetStatus(r.Context(), actorID, orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			RespondError(w, r, http.StatusNotFound, "deposit/not-found", "Deposit order not found")
			return
		}
		zap.L().Error("get deposit failed", zap.Error(err), zap.String("order_id", orderID.String()))
		RespondError(w, r, http.StatusInternalServerError, "deposit/read-failed", "Failed to get deposit order")
		return
	}

	RespondJSON(w, http.StatusOK, order)
}

// CancelDeposit handles POST /v1/deposits/{id}/cancel
// A settlement racing with the cancel wins and the cancel is rejected.
func (h *DepositHandler) CancelDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deposit-id", "Invalid deposit ID")
		return
	}

	order, err := h.orderSvc.Cancel(r.Context(), actorID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			RespondError(w, r, http.StatusNotFound, "deposit/not-found", "Deposit order not found")
			return
		case errors.Is(err, models.ErrAlreadySettled):
			RespondError(w, r, http.StatusConflict, "deposit/already-settled", "Deposit already settled, cancellation rejected")
			return
		case errors.Is(err, models.ErrOrderNotOpen):
			RespondError(w, r, http.StatusConflict, "deposit/not-open", "Deposit order is not open")
			return
		}
		zap.L().Error("cancel deposit failed", zap.Error(err), zap.String("order_id", orderID.String()))
		RespondError(w, r, http.StatusInternalServerError, "deposit/cancel-failed", "Failed to cancel deposit order")
		return
	}

	RespondJSON(w, http.StatusOK, order)
}
