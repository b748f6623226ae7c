// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/httpx"
	"flashmart/internal/service/coupon/application"
)

// CouponHandler 封装优惠券服务的 HTTP 处理器。
type CouponHandler struct {
	service *application.CouponService
}

func NewCouponHandler(service *application.CouponService) *CouponHandler {
	return &CouponHandler{service: service}
}

func (h *CouponHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/coupons/issue", h.issueHandler)
	mux.HandleFunc("/coupons/issue/status", h.statusHandler)
	mux.HandleFunc("/coupons/available", h.availableHandler)
}

type issuePayload struct {
	CouponID int64 `json:"couponId"`
	UserID   int64 `json:"userId"`
}

func (h *CouponHandler) issueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var payload issuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteError(w, errs.Wrap(err, errs.KindValidation, errs.CodeInvalidParameter, "invalid request body"))
		return
	}

	ack, err := h.service.RequestIssue(ctx, payload.CouponID, payload.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"requestId": ack.RequestID,
		"status":    string(ack.Status),
	})
}

func (h *CouponHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "requestId is required"))
		return
	}
	req, err := h.service.GetRequestStatus(ctx, requestID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, req)
}

func (h *CouponHandler) availableHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "userId is required"))
		return
	}
	grants, err := h.service.AvailableCoupons(ctx, userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, grants)
}
