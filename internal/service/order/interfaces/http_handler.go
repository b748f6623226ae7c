// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/httpx"
	"flashmart/internal/pkg/monitor"
	"flashmart/internal/service/order/application"
)

// OrderHandler 封装订单服务的 HTTP 处理器。
type OrderHandler struct {
	service      *application.OrderService
	orchestrator *application.Orchestrator
	monitor      *monitor.Hub
}

func NewOrderHandler(service *application.OrderService, orchestrator *application.Orchestrator, hub *monitor.Hub) *OrderHandler {
	return &OrderHandler{service: service, orchestrator: orchestrator, monitor: hub}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/orders", h.ordersHandler)
	mux.HandleFunc("/orders/status", h.sagaStatusHandler)
	mux.HandleFunc("/ws/monitor", h.monitor.ServeWS)
}

type createOrderPayload struct {
	UserID   int64  `json:"userId"`
	CouponID *int64 `json:"couponId,omitempty"`
	Items    []struct {
		ProductID int64 `json:"productId"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
}

func (h *OrderHandler) ordersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	switch r.Method {
	case http.MethodPost:
		var payload createOrderPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpx.WriteError(w, errs.Wrap(err, errs.KindValidation, errs.CodeInvalidParameter, "invalid request body"))
			return
		}
		req := application.CreateOrderRequest{UserID: payload.UserID, CouponID: payload.CouponID}
		for _, it := range payload.Items {
			req.Items = append(req.Items, application.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		ack, err := h.service.CreateOrder(ctx, req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"sagaId":      ack.SagaID,
			"orderNumber": ack.OrderNumber,
			"finalAmount": ack.FinalAmount,
		})
	case http.MethodGet:
		userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
		if err != nil {
			httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "userId is required"))
			return
		}
		orders, err := h.service.ListUserOrders(ctx, userID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orders)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *OrderHandler) sagaStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	sagaID := r.URL.Query().Get("sagaId")
	if sagaID == "" {
		httpx.WriteError(w, errs.New(errs.KindValidation, errs.CodeInvalidParameter, "sagaId is required"))
		return
	}
	record, err := h.orchestrator.SagaStatus(ctx, sagaID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sagaId":  record.SagaID,
		"state":   record.State,
		"version": record.Version,
		"step":    record.Step,
		"reason":  record.Reason,
	})
}
