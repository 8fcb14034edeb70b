package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
	"github.com/xenking/storefront-fulfillment/internal/gateway/paystack"
)

type authorizationResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

func (h *Handler) initializePayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	a, err := h.payments.Initialize(r.Context(), userFrom(r.Context()), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizationResponse(*a))
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.payments.Verify(r.Context(), userFrom(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) initializeDeliveryFee(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	a, err := h.payments.InitializeDeliveryFee(r.Context(), userFrom(r.Context()), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizationResponse(*a))
}

func (h *Handler) verifyDeliveryFee(w http.ResponseWriter, r *http.Request) {
	o, err := h.payments.VerifyDeliveryFee(r.Context(), userFrom(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// paymentWebhook answers 400 only for unauthenticated payloads. Anything the
// service cannot act on is acknowledged so the gateway stops redelivering.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}
	if err := paystack.VerifySignature(h.webhookSecret, body, r.Header.Get(h.signatureHeader)); err != nil {
		lg.Warn("Rejected webhook", zap.Error(err))
		writeProblem(w, r, http.StatusBadRequest, "invalid_signature", "invalid signature")
		return
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		lg.Warn("Unparseable webhook acknowledged", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Status: string(payment.OutcomeIgnored)})
		return
	}

	outcome, err := h.payments.HandleEvent(r.Context(), ev)
	if err != nil {
		lg.Error("Webhook handling failed",
			zap.String("event", string(ev.Type)),
			zap.String("reference", ev.Reference),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Status: string(payment.OutcomeIgnored)})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: string(outcome)})
}
