package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

type addCartItemRequest struct {
	VariantID int64       `json:"variant_id"`
	SizeID    int64       `json:"size_id"`
	BundleID  int64       `json:"bundle_id"`
	Picks     []stock.Key `json:"picks"`
	Quantity  int         `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartLineResponse struct {
	ID          int64           `json:"id"`
	VariantID   int64           `json:"variant_id,omitempty"`
	SizeID      int64           `json:"size_id,omitempty"`
	BundleID    int64           `json:"bundle_id,omitempty"`
	Picks       []stock.Key     `json:"picks,omitempty"`
	ProductName string          `json:"product_name"`
	ColorName   string          `json:"color_name,omitempty"`
	SizeName    string          `json:"size_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type cartResponse struct {
	CartID   int64              `json:"cart_id,omitempty"`
	Currency string             `json:"currency"`
	Rate     decimal.Decimal    `json:"rate"`
	Items    []cartLineResponse `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
	Tax      decimal.Decimal    `json:"tax"`
	Total    decimal.Decimal    `json:"total"`
}

func newCartResponse(v *cart.View) cartResponse {
	resp := cartResponse{
		CartID:   v.CartID,
		Currency: v.Currency,
		Rate:     v.Rate,
		Items:    make([]cartLineResponse, 0, len(v.Lines)),
		Subtotal: v.Subtotal,
		Tax:      v.Tax,
		Total:    v.Total,
	}
	for _, l := range v.Lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ID:          l.ID,
			VariantID:   l.VariantID,
			SizeID:      l.SizeID,
			BundleID:    l.BundleID,
			Picks:       l.Picks,
			ProductName: l.ProductName,
			ColorName:   l.ColorName,
			SizeName:    l.SizeName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return resp
}

// respondCart renders the caller's cart priced for the country and currency
// query parameters.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, status int) {
	q := r.URL.Query()
	view, err := h.carts.Get(r.Context(), userFrom(r.Context()), q.Get("country"), q.Get("currency"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, newCartResponse(view))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, http.StatusOK)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	_, err := h.carts.AddItem(r.Context(), userFrom(r.Context()), cart.AddRequest{
		VariantID: req.VariantID,
		SizeID:    req.SizeID,
		BundleID:  req.BundleID,
		Picks:     req.Picks,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.carts.UpdateQuantity(r.Context(), userFrom(r.Context()), itemID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	if _, err := h.carts.RemoveItem(r.Context(), userFrom(r.Context()), itemID); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), userFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
