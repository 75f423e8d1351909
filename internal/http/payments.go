package httpapi

import (
	"net/http"

	"github.com/example/fleetopia/internal/models"
)

// Payment holds follow the cargo lifecycle when Stripe is configured:
// hold on assignment, capture on delivery, release on repost. All three
// are best-effort side flows; a payment failure never rolls back a
// committed status transition.

func (s *Server) holdPayment(r *http.Request, c *models.CargoOffer) {
	if s.payments == nil {
		return
	}
	amount := int64(c.Price * 100)
	if amount <= 0 {
		return
	}
	id, err := s.payments.Hold(r.Context(), amount, "eur", "")
	if err != nil {
		s.logger.Warn("payment hold failed", "cargo_id", c.ID, "error", err)
		return
	}
	s.intentsMu.Lock()
	s.intents[c.ID] = id
	s.intentsMu.Unlock()
}

func (s *Server) capturePayment(r *http.Request, c *models.CargoOffer) {
	if id, ok := s.takeIntent(c.ID); ok {
		if err := s.payments.Capture(r.Context(), id); err != nil {
			s.logger.Warn("payment capture failed", "cargo_id", c.ID, "error", err)
		}
	}
}

func (s *Server) releasePayment(r *http.Request, c *models.CargoOffer) {
	if id, ok := s.takeIntent(c.ID); ok {
		if err := s.payments.Release(r.Context(), id); err != nil {
			s.logger.Warn("payment release failed", "cargo_id", c.ID, "error", err)
		}
	}
}

func (s *Server) takeIntent(cargoID string) (string, bool) {
	if s.payments == nil {
		return "", false
	}
	s.intentsMu.Lock()
	defer s.intentsMu.Unlock()
	id, ok := s.intents[cargoID]
	if ok {
		delete(s.intents, cargoID)
	}
	return id, ok
}
