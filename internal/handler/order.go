package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/order"
)

type orderLineReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	// Price is the price the client displayed; the catalog price is
	// authoritative.
	Price *decimal.Decimal `json:"price,omitempty"`
}

type placeOrderReq struct {
	UserID          *string          `json:"userId,omitempty"`
	CustomerName    string           `json:"customerName"`
	CustomerEmail   string           `json:"customerEmail"`
	CustomerPhone   string           `json:"customerPhone,omitempty"`
	Items           []orderLineReq   `json:"items"`
	CouponCode      string           `json:"couponCode,omitempty"`
	ShippingRateID  *int64           `json:"shippingRateId,omitempty"`
	ShippingAddress order.Address    `json:"shippingAddress"`
	BillingAddress  *order.Address   `json:"billingAddress,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Total           *decimal.Decimal `json:"total,omitempty"`
}

type placedResp struct {
	OrderID      string      `json:"orderId"`
	OrderNumber  string      `json:"orderNumber"`
	Status       string      `json:"status"`
	Total        json.Number `json:"total"`
	ClientSecret string      `json:"clientSecret,omitempty"`
}

// placedErrorResp reports an order that was created but could not be sent
// to the payment provider.
type placedErrorResp struct {
	errorResponse
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

type statusReq struct {
	Status         string  `json:"status"`
	Notes          *string `json:"notes,omitempty"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
}

type itemView struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unitPrice"`
	Total       json.Number `json:"total"`
}

type orderView struct {
	ID              string        `json:"id"`
	OrderNumber     string        `json:"orderNumber"`
	Status          string        `json:"status"`
	PaymentStatus   string        `json:"paymentStatus"`
	CustomerName    string        `json:"customerName"`
	CustomerEmail   string        `json:"customerEmail"`
	Subtotal        json.Number   `json:"subtotal"`
	ShippingAmount  json.Number   `json:"shippingAmount"`
	DiscountAmount  json.Number   `json:"discountAmount"`
	TaxAmount       json.Number   `json:"taxAmount"`
	Total           json.Number   `json:"total"`
	CouponCode      string        `json:"couponCode,omitempty"`
	ShippingMethod  string        `json:"shippingMethod,omitempty"`
	TrackingNumber  string        `json:"trackingNumber,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	ShippingAddress order.Address `json:"shippingAddress"`
	BillingAddress  order.Address `json:"billingAddress"`
	ShippedAt       *time.Time    `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time    `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Items           []itemView    `json:"items"`
}

func viewOrder(o *order.Order) orderView {
	v := orderView{
		ID:              o.ID,
		OrderNumber:     o.Number,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		Subtotal:        money(o.Subtotal),
		ShippingAmount:  money(o.ShippingAmount),
		DiscountAmount:  money(o.DiscountAmount),
		TaxAmount:       money(o.TaxAmount),
		Total:           money(o.Total),
		CouponCode:      o.CouponCode,
		ShippingMethod:  o.ShippingMethod,
		TrackingNumber:  o.TrackingNumber,
		Notes:           o.Notes,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]itemView, len(o.Items)),
	}
	for i, it := range o.Items {
		v.Items[i] = itemView{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			Total:       money(it.Total),
		}
	}
	return v
}

// PlaceOrder handles POST /orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	lines := make([]order.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = order.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	placed, err := h.checkout.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:          req.UserID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Items:           lines,
		CouponCode:      req.CouponCode,
		ShippingRateID:  req.ShippingRateID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		ExpectedTotal:   req.Total,
	})
	if err != nil {
		if placed == nil || apperr.KindOf(err) != apperr.KindGateway {
			writeError(w, r, err)
			return
		}
		// The order exists and stays pending; the client retries payment.
		status, body := errorBody(err)
		zctx.From(r.Context()).Warn("Order placed without payment intent",
			zap.String("order_id", placed.Order.ID),
			zap.Error(err),
		)
		writeJSON(w, status, placedErrorResp{
			errorResponse: body,
			OrderID:       placed.Order.ID,
			OrderNumber:   placed.Order.Number,
		})
		return
	}

	writeJSON(w, http.StatusCreated, placedResp{
		OrderID:      placed.Order.ID,
		OrderNumber:  placed.Order.Number,
		Status:       string(placed.Order.Status),
		Total:        money(placed.Order.Total),
		ClientSecret: placed.ClientSecret,
	})
}

// RetryPayment handles POST /orders/{id}/payment-intent.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	placed, err := h.checkout.RetryPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OrderID      string `json:"orderId"`
		ClientSecret string `json:"clientSecret"`
	}{placed.Order.ID, placed.ClientSecret})
}

// TrackOrder handles GET /orders/track.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	o, err := h.ledger.Track(r.Context(), q.Get("orderNumber"), q.Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}

// UpdateOrderStatus handles PUT /orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	o, err := h.ledger.Transition(ctx, r.PathValue("id"), order.StatusUpdate{
		Status:         order.Status(req.Status),
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.notifier.StatusChanged(ctx, o.Notification()); err != nil {
		zctx.From(ctx).Warn("Status notification not sent",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}
