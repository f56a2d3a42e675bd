package handlers

import (
	"net/http"

	"github.com/bookwell/bookwell/libs/httpx"
)

func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}
	outcome, err := s.billing.HandleStripe(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "result": outcome})
}
