package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/fleetopia/internal/chat"
	"github.com/example/fleetopia/internal/dispatch"
	"github.com/example/fleetopia/internal/matching"
	"github.com/example/fleetopia/internal/models"
	"github.com/example/fleetopia/internal/observability"
)

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if userIDFromContext(r.Context()) == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, &models.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	f := matching.Filters{
		UrgencyOnly:  q.Get("urgency_only") == "true",
		ExcludeRisky: q.Get("exclude_risky") == "true",
		VehicleType:  models.VehicleType(q.Get("vehicle_type")),
	}
	if v := q.Get("min_profit"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p < 0 {
			writeError(w, &models.ValidationError{Field: "min_profit", Reason: "must be a number >= 0"})
			return
		}
		f.MinProfit = p
		f.HasMinProfit = true
	}
	if v := q.Get("max_distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d <= 0 {
			writeError(w, &models.ValidationError{Field: "max_distance", Reason: "must be a positive number"})
			return
		}
		f.MaxDistanceKm = d
	}
	matches := s.engine.FindBestMatches(r.Context(), limit, f)
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	actor := userIDFromContext(r.Context())
	if actor == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	var req struct {
		CargoOfferID string `json:"cargo_offer_id"`
		VehicleID    string `json:"vehicle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if req.CargoOfferID == "" || req.VehicleID == "" {
		writeError(w, &models.ValidationError{Field: "cargo_offer_id/vehicle_id", Reason: "required"})
		return
	}

	res, err := s.store.Assign(r.Context(), req.CargoOfferID, req.VehicleID, actor)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCargoUnavailable):
			observability.AssignConflicts.WithLabelValues("cargo").Inc()
		case errors.Is(err, models.ErrVehicleUnavailable):
			observability.AssignConflicts.WithLabelValues("vehicle").Inc()
		}
		writeError(w, err)
		return
	}
	observability.AssignmentsTotal.Inc()

	s.holdPayment(r, res.Cargo)
	ev := dispatch.Event{Type: "assignment", CargoOfferID: res.Cargo.ID, VehicleID: res.Vehicle.ID, RouteID: res.Route.ID, At: time.Now()}
	s.wsreg.Notify(res.Cargo.UserID, ev)
	s.wsreg.Notify(actor, ev)

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	s.cargoTransition(w, r, "delivery", func(actor, id string) (*models.CargoOffer, error) {
		c, err := s.store.Deliver(r.Context(), id, actor)
		if err == nil {
			s.capturePayment(r, c)
		}
		return c, err
	})
}

func (s *Server) handleRepost(w http.ResponseWriter, r *http.Request) {
	s.cargoTransition(w, r, "repost", func(actor, id string) (*models.CargoOffer, error) {
		c, err := s.store.Repost(r.Context(), id, actor)
		if err == nil {
			s.releasePayment(r, c)
		}
		return c, err
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.cargoTransition(w, r, "cancel", func(actor, id string) (*models.CargoOffer, error) {
		return s.store.Cancel(r.Context(), id, actor)
	})
}

func (s *Server) cargoTransition(w http.ResponseWriter, r *http.Request, event string, op func(actor, id string) (*models.CargoOffer, error)) {
	actor := userIDFromContext(r.Context())
	if actor == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	c, err := op(actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	ev := dispatch.Event{Type: event, CargoOfferID: c.ID, At: time.Now()}
	s.wsreg.Notify(c.UserID, ev)
	if c.AcceptedBy != "" {
		s.wsreg.Notify(c.AcceptedBy, ev)
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCargo(w http.ResponseWriter, r *http.Request) {
	actor := userIDFromContext(r.Context())
	if actor == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	var c models.CargoOffer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if c.FromCity == "" || c.ToCity == "" {
		writeError(w, &models.ValidationError{Field: "from_city/to_city", Reason: "required"})
		return
	}
	if c.Price <= 0 {
		writeError(w, &models.ValidationError{Field: "price", Reason: "must be positive"})
		return
	}
	if c.Urgency == "" {
		c.Urgency = models.UrgencyLow
	}
	c.ID = ""
	c.UserID = actor
	c.Status = models.CargoNew
	c.AcceptedBy = ""
	c.AcceptedAt = nil
	if err := s.store.CreateCargo(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCargo(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCargo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCargo(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCargo(r.Context(), models.CargoStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cargo": list})
}

func (s *Server) handleSendOffer(w http.ResponseWriter, r *http.Request) {
	actor := userIDFromContext(r.Context())
	if actor == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	var req struct {
		Price   float64 `json:"price"`
		Message string  `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	c, err := s.store.GetCargo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !chat.CanInitiate(actor, c) {
		writeError(w, models.ErrForbidden)
		return
	}
	offer, msg, err := s.store.SendOffer(r.Context(), id, actor, req.Price, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	s.wsreg.Notify(c.UserID, dispatch.Event{Type: "offer", CargoOfferID: id, At: time.Now()})
	writeJSON(w, http.StatusCreated, map[string]any{"offer_request": offer, "message": msg})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	actor := userIDFromContext(r.Context())
	if actor == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	c, err := s.store.GetCargo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !chat.CanAccess(actor, c) {
		writeError(w, models.ErrForbidden)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, &models.ValidationError{Field: "since", Reason: "must be RFC3339"})
			return
		}
		since = t
	}
	msgs, err := s.store.ListMessages(r.Context(), id, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleUpsertVehicle(w http.ResponseWriter, r *http.Request) {
	if userIDFromContext(r.Context()) == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if v.LicensePlate == "" {
		writeError(w, &models.ValidationError{Field: "license_plate", Reason: "required"})
		return
	}
	if err := s.store.UpsertVehicle(r.Context(), &v); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListVehicles(r.Context(), models.VehicleStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": list})
}

func (s *Server) handleNearbyVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, &models.ValidationError{Field: "lat/lng", Reason: "required numbers"})
		return
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": s.tracker.Nearby(lat, lng, limit)})
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	if userIDFromContext(r.Context()) == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	routes, err := s.store.ListRoutes(r.Context(), r.URL.Query().Get("fleet_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (s *Server) handleVehiclePosition(w http.ResponseWriter, r *http.Request) {
	var p models.VehiclePosition
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if p.VehicleID == "" {
		writeError(w, &models.ValidationError{Field: "vehicle_id", Reason: "required"})
		return
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	// publish for the consumer fleet; also fold into the local tracker so
	// single-instance runs see the sample immediately
	if s.kafka != nil {
		if err := s.kafka.PublishPosition(p); err != nil {
			s.logger.Warn("position publish failed", "vehicle_id", p.VehicleID, "error", err)
		}
	}
	if _, known := s.tracker.Position(p.VehicleID); !known {
		observability.VehiclesTracked.Inc()
	}
	s.tracker.Upsert(p)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		writeError(w, models.ErrUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(userID, conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses with the
// human-readable reason in the body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *models.ValidationError
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrCargoUnavailable), errors.Is(err, models.ErrVehicleUnavailable):
		status = http.StatusConflict
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case models.IsPersistence(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
