//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderLine struct {
	VariantID int64  `json:"variant_id"`
	SizeID    int64  `json:"size_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type orderRequest struct {
	CartID            int64       `json:"cart_id"`
	ShippingAddressID int64       `json:"shipping_address_id"`
	BillingAddressID  int64       `json:"billing_address_id"`
	Currency          string      `json:"currency"`
	DeliveryOption    string      `json:"delivery_option"`
	Items             []orderLine `json:"items"`
	ShippingCost      string      `json:"shipping_cost"`
	Total             string      `json:"total"`
	BaseTotal         string      `json:"base_total"`
}

// freshCart empties the user's cart and adds one line.
func freshCart(t *testing.T, user, variant, size int64, qty int) cartResponse {
	t.Helper()

	requireStatus(t, do(t, http.MethodDelete, "/api/cart", nil, asUser(user)), http.StatusNoContent)
	resp := do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"variant_id": variant,
		"size_id":    size,
		"quantity":   qty,
	}, asUser(user))
	requireStatus(t, resp, http.StatusCreated)
	return decodeJSON[cartResponse](t, resp)
}

// homePickup is a domestic pickup order for a single line.
func homePickup(cartID, address, variant, size int64, qty int, unit, total string) orderRequest {
	return orderRequest{
		CartID:            cartID,
		ShippingAddressID: address,
		BillingAddressID:  address,
		Currency:          "NGN",
		DeliveryOption:    "pickup",
		Items:             []orderLine{{VariantID: variant, SizeID: size, Quantity: qty, Price: unit}},
		ShippingCost:      "0",
		Total:             total,
		BaseTotal:         total,
	}
}

func placeOrder(t *testing.T, user int64, req orderRequest) orderResponse {
	t.Helper()

	resp := do(t, http.MethodPost, "/api/orders", req, asUser(user))
	requireStatus(t, resp, http.StatusCreated)
	return decodeJSON[orderResponse](t, resp)
}

func getOrder(t *testing.T, user int64, reference string) orderResponse {
	t.Helper()

	resp := do(t, http.MethodGet, "/api/orders/"+reference, nil, asUser(user))
	requireStatus(t, resp, http.StatusOK)
	return decodeJSON[orderResponse](t, resp)
}

func TestCart_Lifecycle(t *testing.T) {
	c := freshCart(t, userBob, variantTeeRed, sizeM, 2)
	require.Len(t, c.Items, 1)
	require.Equal(t, "20000", c.Subtotal)

	// Adding the same stock unit merges into the existing line.
	resp := do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"variant_id": variantTeeRed, "size_id": sizeM, "quantity": 1,
	}, asUser(userBob))
	requireStatus(t, resp, http.StatusCreated)
	c = decodeJSON[cartResponse](t, resp)
	require.Len(t, c.Items, 1)
	require.Equal(t, 3, c.Items[0].Quantity)

	itemPath := fmt.Sprintf("/api/cart/items/%d", c.Items[0].ID)
	resp = do(t, http.MethodPatch, itemPath, map[string]any{"quantity": 6}, asUser(userBob))
	requireStatus(t, resp, http.StatusConflict)

	resp = do(t, http.MethodGet, "/api/cart?currency=USD&country=Ghana", nil, asUser(userBob))
	requireStatus(t, resp, http.StatusOK)
	usd := decodeJSON[cartResponse](t, resp)
	require.Equal(t, "USD", usd.Currency)
	require.Equal(t, "10", usd.Items[0].UnitPrice)

	// Carts are private to their owner.
	resp = do(t, http.MethodDelete, itemPath, nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusNotFound)

	resp = do(t, http.MethodDelete, itemPath, nil, asUser(userBob))
	requireStatus(t, resp, http.StatusOK)
	require.Empty(t, decodeJSON[cartResponse](t, resp).Items)
}

func TestCart_RequiresUser(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/cart", nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	require.Equal(t, "unauthenticated", decodeJSON[problemResponse](t, resp).Error)
}

func TestOrder_PaidOnce(t *testing.T) {
	c := freshCart(t, userAlice, variantTeeRed, sizeS, 2)
	o := placeOrder(t, userAlice, homePickup(c.CartID, addressAliceHome, variantTeeRed, sizeS, 2, "10000", "20000"))
	require.Equal(t, "pending", o.PaymentStatus)
	require.NotEmpty(t, o.Reference)

	resp := do(t, http.MethodGet, "/api/orders", nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusOK)
	var refs []string
	for _, listed := range decodeJSON[[]orderResponse](t, resp) {
		refs = append(refs, listed.Reference)
	}
	require.Contains(t, refs, o.Reference)

	resp = sendWebhook(t, "charge.success", o.Reference, 2_000_000, "NGN")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "applied", decodeJSON[webhookResponse](t, resp).Status)

	resp = sendWebhook(t, "charge.success", o.Reference, 2_000_000, "NGN")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "duplicate", decodeJSON[webhookResponse](t, resp).Status)

	paid := getOrder(t, userAlice, o.Reference)
	assert.Equal(t, "completed", paid.PaymentStatus)
	assert.Equal(t, "processing", paid.Status)

	resp = do(t, http.MethodGet, "/api/cart", nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusOK)
	require.Empty(t, decodeJSON[cartResponse](t, resp).Items)

	// Other users cannot see it.
	resp = do(t, http.MethodGet, "/api/orders/"+o.Reference, nil, asUser(userBob))
	requireStatus(t, resp, http.StatusNotFound)

	// An unshipped paid order can still be cancelled, after which it is hidden.
	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", o.ID), nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusOK)
	resp = do(t, http.MethodGet, "/api/orders/"+o.Reference, nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusNotFound)
}

func TestOrder_FailedPaymentRestoresStock(t *testing.T) {
	c := freshCart(t, userBob, variantCap, sizeM, 10)
	req := homePickup(c.CartID, addressBobHome, variantCap, sizeM, 10, "5000", "50000")

	first := placeOrder(t, userBob, req)

	// Every cap is reserved by the first order.
	resp := do(t, http.MethodPost, "/api/orders", req, asUser(userBob))
	requireStatus(t, resp, http.StatusConflict)

	resp = sendWebhook(t, "charge.failed", first.Reference, 0, "NGN")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "applied", decodeJSON[webhookResponse](t, resp).Status)
	require.Equal(t, "failed", getOrder(t, userBob, first.Reference).PaymentStatus)

	// A late success does not revive a failed order.
	resp = sendWebhook(t, "charge.success", first.Reference, 5_000_000, "NGN")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "ignored", decodeJSON[webhookResponse](t, resp).Status)

	second := placeOrder(t, userBob, req)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", second.ID), nil, asUser(userBob))
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "cancelled", decodeJSON[orderResponse](t, resp).Status)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", second.ID), nil, asUser(userBob))
	requireStatus(t, resp, http.StatusConflict)

	// Cancelling returned the caps as well.
	third := placeOrder(t, userBob, req)
	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", third.ID), nil, asUser(userBob))
	requireStatus(t, resp, http.StatusOK)
}

func TestOrder_Rejections(t *testing.T) {
	c := freshCart(t, userAlice, variantPolo, sizeM, 1)

	tests := []struct {
		name   string
		user   int64
		req    orderRequest
		status int
	}{
		{
			name:   "StalePrice",
			user:   userAlice,
			req:    homePickup(c.CartID, addressAliceHome, variantPolo, sizeM, 1, "14000", "14000"),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "WrongTotal",
			user:   userAlice,
			req:    homePickup(c.CartID, addressAliceHome, variantPolo, sizeM, 1, "15000", "15500"),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "Oversell",
			user:   userAlice,
			req:    homePickup(c.CartID, addressAliceHome, variantPolo, sizeM, 4, "15000", "60000"),
			status: http.StatusConflict,
		},
		{
			name:   "ForeignCart",
			user:   userBob,
			req:    homePickup(c.CartID, addressBobHome, variantPolo, sizeM, 1, "15000", "15000"),
			status: http.StatusNotFound,
		},
		{
			name:   "ForeignAddress",
			user:   userAlice,
			req:    homePickup(c.CartID, addressBobHome, variantPolo, sizeM, 1, "15000", "15000"),
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/api/orders", tt.req, asUser(tt.user))
			requireStatus(t, resp, tt.status)
		})
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-forged"}}`)
	resp := do(t, http.MethodPost, "/webhooks/payment", body, withHeader("X-Paystack-Signature", "00"))
	requireStatus(t, resp, http.StatusBadRequest)
	require.Equal(t, "invalid_signature", decodeJSON[problemResponse](t, resp).Error)
}
