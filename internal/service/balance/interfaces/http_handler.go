// internal/service/balance/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/httpx"
	"flashmart/internal/service/balance/application"
)

// BalanceHandler 封装余额服务的 HTTP 处理器。
type BalanceHandler struct {
	ledger *application.BalanceLedger
}

func NewBalanceHandler(ledger *application.BalanceLedger) *BalanceHandler {
	return &BalanceHandler{ledger: ledger}
}

func (h *BalanceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/balance", h.balanceHandler)
	mux.HandleFunc("/balance/charge", h.chargeHandler)
	mux.HandleFunc("/balance/histories", h.historiesHandler)
}

type chargePayload struct {
	UserID int64           `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *BalanceHandler) chargeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var payload chargePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteError(w, errs.Wrap(err, errs.KindValidation, errs.CodeInvalidParameter, "invalid request body"))
		return
	}

	balance, err := h.ledger.Charge(ctx, payload.UserID, payload.Amount)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":  payload.UserID,
		"balance": balance,
	})
}

func (h *BalanceHandler) balanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "userId is required"))
		return
	}
	balance, err := h.ledger.GetBalance(ctx, userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":  userID,
		"balance": balance,
	})
}

func (h *BalanceHandler) historiesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "userId is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	histories, err := h.ledger.RecentHistories(ctx, userID, limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, histories)
}
