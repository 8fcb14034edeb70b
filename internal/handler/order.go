package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

type orderItemRequest struct {
	VariantID int64           `json:"variant_id"`
	SizeID    int64           `json:"size_id"`
	BundleID  int64           `json:"bundle_id"`
	Picks     []stock.Key     `json:"picks"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	CartID            int64              `json:"cart_id"`
	ShippingAddressID int64              `json:"shipping_address_id"`
	BillingAddressID  int64              `json:"billing_address_id"`
	Reference         string             `json:"reference"`
	Currency          string             `json:"currency"`
	DeliveryOption    string             `json:"delivery_option"`
	Items             []orderItemRequest `json:"items"`
	Discount          decimal.Decimal    `json:"discount"`
	ShippingCost      decimal.Decimal    `json:"shipping_cost"`
	Total             decimal.Decimal    `json:"total"`
	BaseTotal         decimal.Decimal    `json:"base_total"`
}

type orderItemResponse struct {
	ID          int64              `json:"id"`
	VariantID   int64              `json:"variant_id,omitempty"`
	SizeID      int64              `json:"size_id,omitempty"`
	BundleID    int64              `json:"bundle_id,omitempty"`
	Bundle      []order.BundlePick `json:"bundle,omitempty"`
	ProductName string             `json:"product_name"`
	ColorName   string             `json:"color_name,omitempty"`
	SizeName    string             `json:"size_name,omitempty"`
	Quantity    int                `json:"quantity"`
	Price       decimal.Decimal    `json:"price"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	Reference         string              `json:"reference"`
	CartID            int64               `json:"cart_id"`
	ShippingAddressID int64               `json:"shipping_address_id"`
	BillingAddressID  int64               `json:"billing_address_id"`
	Country           string              `json:"country"`
	International     bool                `json:"international"`
	Currency          string              `json:"currency"`
	ExchangeRate      decimal.Decimal     `json:"exchange_rate"`
	DeliveryOption    string              `json:"delivery_option"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	Discount          decimal.Decimal     `json:"discount"`
	Tax               decimal.Decimal     `json:"tax"`
	ShippingCost      decimal.Decimal     `json:"shipping_cost"`
	Total             decimal.Decimal     `json:"total"`
	DeliveryFee       decimal.Decimal     `json:"delivery_fee"`
	DeliveryFeePaid   bool                `json:"delivery_fee_paid"`
	PaymentStatus     string              `json:"payment_status"`
	Status            string              `json:"status"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	Items             []orderItemResponse `json:"items"`
}

func newOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Reference:         o.Reference,
		CartID:            o.CartID,
		ShippingAddressID: o.ShippingAddressID,
		BillingAddressID:  o.BillingAddressID,
		Country:           o.Country,
		International:     o.International,
		Currency:          o.Currency,
		ExchangeRate:      o.ExchangeRate,
		DeliveryOption:    o.DeliveryOption,
		Subtotal:          o.Subtotal,
		Discount:          o.Discount,
		Tax:               o.Tax,
		ShippingCost:      o.ShippingCost,
		Total:             o.Total,
		DeliveryFee:       o.DeliveryFee,
		DeliveryFeePaid:   o.DeliveryFeePaid,
		PaymentStatus:     string(o.PaymentStatus),
		Status:            string(o.Status),
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
		Items:             make([]orderItemResponse, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:          it.ID,
			VariantID:   it.VariantID,
			SizeID:      it.SizeID,
			BundleID:    it.BundleID,
			Bundle:      it.Bundle,
			ProductName: it.ProductName,
			ColorName:   it.ColorName,
			SizeName:    it.SizeName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]pricing.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = pricing.Item{
			VariantID: it.VariantID,
			SizeID:    it.SizeID,
			BundleID:  it.BundleID,
			Picks:     it.Picks,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:            userFrom(r.Context()),
		CartID:            req.CartID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Reference:         req.Reference,
		Pricing: pricing.Request{
			Currency:       req.Currency,
			DeliveryOption: req.DeliveryOption,
			Items:          items,
			Discount:       req.Discount,
			ShippingCost:   req.ShippingCost,
			Total:          req.Total,
			BaseTotal:      req.BaseTotal,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByReference(r.Context(), userFrom(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	o, err := h.orders.Cancel(r.Context(), userFrom(r.Context()), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
