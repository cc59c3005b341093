package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// PaymentWebhook handles provider event deliveries. Any non-2xx response
// makes the provider redeliver.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, errBadBody.With(err))
		return
	}

	outcome, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Debug("Webhook acknowledged", zap.String("outcome", string(outcome)))
	writeJSON(w, http.StatusOK, struct {
		Received bool `json:"received"`
	}{true})
}
