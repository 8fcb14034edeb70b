package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

type deliveryFeeRequest struct {
	Fee decimal.Decimal `json:"fee"`
}

type sweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

func (h *Handler) quoteDeliveryFee(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req deliveryFeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.payments.QuoteDeliveryFee(r.Context(), orderID, req.Fee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepLocked(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse(report))
}
