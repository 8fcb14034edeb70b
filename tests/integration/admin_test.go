//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type sweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

func asAdmin() requestOption {
	return withHeader("api_key", adminAPIKey)
}

func TestDeliveryFee_InternationalOrder(t *testing.T) {
	c := freshCart(t, userAlice, variantTeeBlue, sizeS, 1)
	o := placeOrder(t, userAlice, orderRequest{
		CartID:            c.CartID,
		ShippingAddressID: addressAliceAbroad,
		BillingAddressID:  addressAliceAbroad,
		Currency:          "USD",
		DeliveryOption:    "delivery",
		Items:             []orderLine{{VariantID: variantTeeBlue, SizeID: sizeS, Quantity: 1, Price: "10"}},
		ShippingCost:      "0",
		Total:             "10.5",
		BaseTotal:         "10500",
	})
	require.True(t, o.International)
	require.Equal(t, "0.5", o.Tax)

	feePath := fmt.Sprintf("/api/admin/orders/%d/delivery-fee", o.ID)
	fee := map[string]any{"fee": "25"}

	resp := do(t, http.MethodPut, feePath, fee)
	requireStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, http.MethodPut, feePath, fee, withHeader("api_key", "wrong-key"))
	requireStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, http.MethodPut, feePath, fee, asAdmin())
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "25", decodeJSON[orderResponse](t, resp).DeliveryFee)

	reference := fmt.Sprintf("DF-%d-1700000000000", o.ID)

	// The fee cannot settle before the order itself is paid.
	resp = sendWebhook(t, "charge.success", reference, 2500, "USD")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "ignored", decodeJSON[webhookResponse](t, resp).Status)
	require.False(t, getOrder(t, userAlice, o.Reference).DeliveryFeePaid)

	resp = sendWebhook(t, "charge.success", o.Reference, 1050, "USD")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "applied", decodeJSON[webhookResponse](t, resp).Status)

	// Short charges are refused.
	resp = sendWebhook(t, "charge.success", reference, 1, "USD")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "ignored", decodeJSON[webhookResponse](t, resp).Status)
	require.False(t, getOrder(t, userAlice, o.Reference).DeliveryFeePaid)

	resp = sendWebhook(t, "charge.success", reference, 2500, "USD")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "applied", decodeJSON[webhookResponse](t, resp).Status)

	resp = sendWebhook(t, "charge.success", reference, 2500, "USD")
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "duplicate", decodeJSON[webhookResponse](t, resp).Status)

	paid := getOrder(t, userAlice, o.Reference)
	require.True(t, paid.DeliveryFeePaid)
	require.Equal(t, "completed", paid.PaymentStatus)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", o.ID), nil, asUser(userAlice))
	requireStatus(t, resp, http.StatusOK)
}

func TestDeliveryFee_DomesticRejected(t *testing.T) {
	c := freshCart(t, userBob, variantTeeRed, sizeM, 1)
	o := placeOrder(t, userBob, homePickup(c.CartID, addressBobHome, variantTeeRed, sizeM, 1, "10000", "10000"))

	resp := do(t, http.MethodPut, fmt.Sprintf("/api/admin/orders/%d/delivery-fee", o.ID), map[string]any{"fee": "25"}, asAdmin())
	requireStatus(t, resp, http.StatusUnprocessableEntity)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", o.ID), nil, asUser(userBob))
	requireStatus(t, resp, http.StatusOK)
}

func TestCompensationSweep(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/admin/compensation/sweep", nil)
	requireStatus(t, resp, http.StatusUnauthorized)

	// Nothing in this run is older than the grace period.
	resp = do(t, http.MethodPost, "/api/admin/compensation/sweep", nil, asAdmin())
	requireStatus(t, resp, http.StatusOK)
	report := decodeJSON[sweepResponse](t, resp)
	require.Zero(t, report.Expired)
	require.Zero(t, report.Failed)
}
