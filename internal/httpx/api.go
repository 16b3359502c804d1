package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-shop-payments.git/internal/checkout"
	"github.com/ariefcatur/go-shop-payments.git/internal/inventory"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
	"github.com/ariefcatur/go-shop-payments.git/internal/reconcile"
	"github.com/ariefcatur/go-shop-payments.git/internal/redisx"
	"github.com/ariefcatur/go-shop-payments.git/internal/refunds"
)

type API struct {
	Checkout *checkout.Service
	Refunds  *refunds.Service
	Engine   *reconcile.Engine
	Verifier *payments.WebhookVerifier
	Store    *orders.Store
	Redis    *redis.Client
}

func (a *API) Register(r *chi.Mux) {
	r.Post("/checkout", a.placeOrder)
	r.Get("/orders/{id}", a.getOrder)
	r.Get("/orders/{id}/status", a.getOrderStatus)
	r.Get("/orders/{id}/history", a.getOrderHistory)
	r.Get("/variants", a.listVariants)
	r.Post("/webhooks/payment", a.paymentWebhook)
	r.Post("/orders/{id}/refund", a.refundOrder)
	r.Post("/admin/orders/{id}/status", a.overrideStatus)
	r.Post("/admin/variants/{id}/restock", a.restockVariant)
	r.Get("/admin/variants/{id}/audit", a.auditVariant)
	r.Get("/admin/notices", a.listNotices)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto stable reason codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr     *orders.ValidationError
		stockErr *inventory.InsufficientStockError
		rejErr   *payments.RejectedError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "validation_error", "error": vErr.Msg})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"code": "insufficient_stock", "error": stockErr.Error(), "variant_id": stockErr.VariantID,
		})
	case errors.Is(err, inventory.ErrVariantNotFound):
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "validation_error", "error": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "error": "order not found"})
	case errors.Is(err, refunds.ErrNoPaymentOnOrder), errors.Is(err, refunds.ErrNotRefundable),
		errors.Is(err, orders.ErrTerminalStatus):
		writeJSON(w, http.StatusConflict, map[string]string{"code": "conflict", "error": err.Error()})
	case errors.As(err, &rejErr):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"code": "gateway_rejected", "error": rejErr.Message})
	case errors.Is(err, payments.ErrGatewayUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"code": "gateway_unavailable", "error": "payment gateway unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "error": "internal error"})
	}
}

// ---- checkout ----

type checkoutItem struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type checkoutReq struct {
	ExternalID string         `json:"external_id"`
	CustomerID string         `json:"customer_id"`
	Items      []checkoutItem `json:"items"`
	Total      string         `json:"total"`
}

type checkoutResp struct {
	OrderID    string `json:"order_id"`
	Total      string `json:"total"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Idempotent bool   `json:"idempotent"`
}

func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.Validationf("invalid json"))
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, orders.Validationf("invalid total %q", req.Total))
		return
	}
	items := make([]orders.LineInput, 0, len(req.Items))
	for _, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			writeError(w, orders.Validationf("invalid unit price %q for variant %s", it.UnitPrice, it.VariantID))
			return
		}
		items = append(items, orders.LineInput{VariantID: it.VariantID, Qty: it.Qty, UnitPrice: price})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := a.Checkout.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		ExternalID:    req.ExternalID,
		CustomerID:    req.CustomerID,
		Items:         items,
		DeclaredTotal: total,
		TraceID:       r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, checkoutResp{
		OrderID:    res.OrderID,
		Total:      res.Total.String(),
		PaymentRef: res.PaymentRef,
		Idempotent: res.Idempotent,
	})
}

// ---- order reads ----

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, orders.Validationf("missing id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := a.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]checkoutItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, checkoutItem{VariantID: it.VariantID, Qty: it.Qty, UnitPrice: it.UnitPrice.String()})
	}
	body := map[string]any{
		"order_id":    o.ID,
		"customer_id": o.CustomerID,
		"status":      o.Status,
		"total":       o.Total.String(),
		"currency":    o.Currency,
		"items":       items,
		"created_at":  o.CreatedAt,
		"updated_at":  o.UpdatedAt,
	}
	if o.PaymentRef != nil {
		body["payment_ref"] = *o.PaymentRef
	}

	if a.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = a.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, o.Status), redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vs, err := a.Store.ListVariants(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	type variantResp struct {
		ID    string `json:"id"`
		SKU   string `json:"sku"`
		Name  string `json:"name"`
		Stock int    `json:"stock"`
		Price string `json:"price"`
	}
	out := make([]variantResp, 0, len(vs))
	for _, v := range vs {
		out = append(out, variantResp{ID: v.ID, SKU: v.SKU, Name: v.Name, Stock: v.Stock, Price: v.Price.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrderStatus serves the cached status when redis has it and falls back to
// the DB, refilling the cache on the way out.
func (a *API) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, orders.Validationf("missing id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if a.Redis != nil {
		if s, err := a.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	st, err := a.Store.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	body := fmt.Sprintf(`{"status":%q}`, st)
	if a.Redis != nil {
		_ = a.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (a *API) getOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	hs, err := a.Store.GetHistory(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	type historyResp struct {
		Status      string    `json:"status"`
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"`
	}
	out := make([]historyResp, 0, len(hs))
	for _, h := range hs {
		out = append(out, historyResp{Status: string(h.Status), Description: h.Description, CreatedAt: h.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- webhook intake ----

// paymentWebhook verifies the signature before anything else; a delivery that
// fails the check never reaches business logic. Duplicates, unknown orders
// and unreconcilable events answer 200 so the processor stops re-delivering;
// transient failures answer 500 so it retries.
func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_payload", "error": "unreadable body"})
		return
	}

	ev, err := a.Verifier.Verify(body, r.Header.Get(payments.SignatureHeader))
	if err != nil {
		log.Printf("webhook rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "signature_invalid", "error": "signature verification failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err = a.Engine.Apply(ctx, ev)
	var unrec *reconcile.UnreconcilableEventError
	switch {
	case err == nil,
		errors.Is(err, reconcile.ErrAlreadyApplied),
		errors.Is(err, reconcile.ErrUnknownOrder),
		errors.As(err, &unrec):
		if err != nil {
			log.Printf("webhook %s (%s): %v", ev.ID, ev.Type, err)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	default:
		log.Printf("webhook %s (%s) failed: %v", ev.ID, ev.Type, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "error": "event not processed"})
	}
}

// ---- refunds ----

type refundReq struct {
	Amount string `json:"amount,omitempty"` // empty = full refund
	Reason string `json:"reason"`
}

func (a *API) refundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.Validationf("invalid json"))
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, orders.Validationf("invalid amount %q", req.Amount))
			return
		}
		amount = &d
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	ref, err := a.Refunds.Refund(ctx, orderID, amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"refund_id":    ref.ID,
		"external_ref": ref.ExternalRef,
		"amount":       ref.Amount.String(),
		"status":       string(ref.Status),
	})
}

// ---- admin ----

type overrideReq struct {
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

func (a *API) overrideStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req overrideReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.Validationf("invalid json"))
		return
	}
	st, err := orders.ToStatus(req.Status)
	if err != nil {
		writeError(w, orders.Validationf("unknown status %q", req.Status))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.Store.OverrideStatus(ctx, orderID, st, req.Description, req.Force); err != nil {
		writeError(w, err)
		return
	}
	if a.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = a.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, st), redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(st)})
}

type restockReq struct {
	Qty    int    `json:"qty"`
	Reason string `json:"reason"`
}

func (a *API) restockVariant(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "id")
	var req restockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.Validationf("invalid json"))
		return
	}
	if req.Qty <= 0 {
		writeError(w, orders.Validationf("restock qty must be positive"))
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual restock"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stock, err := a.Store.Ledger.Restock(ctx, variantID, req.Qty, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant_id": variantID, "stock": stock})
}

// auditVariant exposes the counter-vs-log check; the two numbers must match.
func (a *API) auditVariant(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	stock, logged, err := a.Store.Ledger.Audit(ctx, variantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variant_id": variantID,
		"stock":      stock,
		"log_sum":    logged,
		"consistent": stock == logged,
	})
}

func (a *API) listNotices(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ns, err := a.Store.ListNotices(ctx, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type noticeResp struct {
		ID        string    `json:"id"`
		OrderID   string    `json:"order_id,omitempty"`
		Kind      string    `json:"kind"`
		Detail    string    `json:"detail"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]noticeResp, 0, len(ns))
	for _, n := range ns {
		out = append(out, noticeResp{ID: n.ID, OrderID: n.OrderID, Kind: n.Kind, Detail: n.Detail, CreatedAt: n.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
