package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleetopia/internal/models"
)

// MemoryStore implements Store on mutex-guarded maps. It backs local runs
// without Postgres and the concurrency tests; the single mutex gives the
// same all-or-nothing semantics the Postgres transaction does.
type MemoryStore struct {
	mu       sync.Mutex
	cargo    map[string]*models.CargoOffer
	vehicles map[string]*models.Vehicle
	routes   map[string]*models.Route
	messages map[string][]*models.ChatMessage // by cargo offer id
	offers   map[string]*models.OfferRequest  // by cargoID+"/"+transporterID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cargo:    make(map[string]*models.CargoOffer),
		vehicles: make(map[string]*models.Vehicle),
		routes:   make(map[string]*models.Route),
		messages: make(map[string][]*models.ChatMessage),
		offers:   make(map[string]*models.OfferRequest),
	}
}

func (m *MemoryStore) CreateCargo(ctx context.Context, c *models.CargoOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CargoNew
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	m.cargo[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCargo(ctx context.Context, id string) (*models.CargoOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cargo[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListCargo(ctx context.Context, status models.CargoStatus) ([]models.CargoOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CargoOffer, 0)
	for _, c := range m.cargo {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = models.VehicleIdle
	}
	v.UpdatedAt = time.Now()
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListVehicles(ctx context.Context, status models.VehicleStatus) ([]models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Vehicle, 0)
	for _, v := range m.vehicles {
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Assign(ctx context.Context, cargoID, vehicleID, actingUserID string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cargo[cargoID]
	if !ok || c.Status != models.CargoNew {
		return nil, models.ErrCargoUnavailable
	}
	if c.UserID == actingUserID {
		return nil, models.ErrForbidden
	}
	v, ok := m.vehicles[vehicleID]
	if !ok || v.Status != models.VehicleIdle {
		return nil, models.ErrVehicleUnavailable
	}

	now := time.Now()
	c.Status = models.CargoTaken
	c.AcceptedBy = actingUserID
	c.AcceptedAt = &now
	c.UpdatedAt = now

	v.Status = models.VehicleAssigned
	v.CurrentRoute = routeText(c)
	v.UpdatedAt = now

	r := &models.Route{
		ID:           uuid.NewString(),
		CargoOfferID: c.ID,
		VehicleID:    v.ID,
		FleetID:      v.FleetID,
		FromLabel:    c.FromCity,
		ToLabel:      c.ToCity,
		From:         c.From,
		To:           c.To,
		Status:       models.RouteAccepted,
		CreatedAt:    now,
	}
	m.routes[r.ID] = r

	cc, vc, rc := *c, *v, *r
	return &Assignment{Cargo: &cc, Vehicle: &vc, Route: &rc}, nil
}

func (m *MemoryStore) Deliver(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cargo[cargoID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.UserID != actingUserID {
		return nil, models.ErrForbidden
	}
	if c.Status != models.CargoTaken {
		return nil, models.ErrCargoUnavailable
	}
	c.Status = models.CargoCompleted
	c.UpdatedAt = time.Now()
	m.releaseVehicleFor(c.ID, models.RouteCompleted)
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Repost(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cargo[cargoID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.UserID != actingUserID {
		return nil, models.ErrForbidden
	}
	if c.Status != models.CargoTaken && c.Status != models.CargoCompleted {
		return nil, models.ErrCargoUnavailable
	}
	if c.Status == models.CargoTaken {
		m.releaseVehicleFor(c.ID, models.RouteCompleted)
	}
	c.Status = models.CargoNew
	c.AcceptedBy = ""
	c.AcceptedAt = nil
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cargo[cargoID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.UserID != actingUserID {
		return nil, models.ErrForbidden
	}
	if c.Status != models.CargoNew {
		return nil, models.ErrCargoUnavailable
	}
	c.Status = models.CargoCanceled
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

// releaseVehicleFor flips the vehicle linked to cargoID back to idle and
// progresses its route. Caller holds the lock.
func (m *MemoryStore) releaseVehicleFor(cargoID string, rs models.RouteStatus) {
	for _, r := range m.routes {
		if r.CargoOfferID != cargoID || r.Status == models.RouteCompleted {
			continue
		}
		r.Status = rs
		if v, ok := m.vehicles[r.VehicleID]; ok && v.Status == models.VehicleAssigned {
			v.Status = models.VehicleIdle
			v.CurrentRoute = ""
			v.UpdatedAt = time.Now()
		}
	}
}

func (m *MemoryStore) SendOffer(ctx context.Context, cargoID, senderID string, price float64, content string) (*models.OfferRequest, *models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cargo[cargoID]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	if c.UserID == senderID {
		return nil, nil, models.ErrForbidden
	}
	if price <= 0 {
		return nil, nil, &models.ValidationError{Field: "price", Reason: "must be positive"}
	}

	now := time.Now()
	key := cargoID + "/" + senderID
	req, ok := m.offers[key]
	if ok {
		req.Price = price
		req.Status = models.OfferPending
		req.UpdatedAt = now
	} else {
		req = &models.OfferRequest{
			ID:            uuid.NewString(),
			CargoOfferID:  cargoID,
			TransporterID: senderID,
			Price:         price,
			Status:        models.OfferPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		m.offers[key] = req
	}

	msg := &models.ChatMessage{
		ID:           uuid.NewString(),
		CargoOfferID: cargoID,
		SenderID:     senderID,
		Content:      content,
		Price:        price,
		CreatedAt:    now,
	}
	m.messages[cargoID] = append(m.messages[cargoID], msg)

	rc, mc := *req, *msg
	return &rc, &mc, nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cargo[msg.CargoOfferID]; !ok {
		return models.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	m.messages[msg.CargoOfferID] = append(m.messages[msg.CargoOfferID], &cp)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, cargoID string, since time.Time) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChatMessage, 0)
	for _, msg := range m.messages[cargoID] {
		if !since.IsZero() && !msg.CreatedAt.After(since) {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListRoutes(ctx context.Context, fleetID string) ([]models.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Route, 0)
	for _, r := range m.routes {
		if fleetID != "" && r.FleetID != fleetID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
