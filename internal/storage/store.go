package storage

import (
	"context"
	"time"

	"github.com/example/fleetopia/internal/models"
)

// Assignment is the result of a committed assignment transaction.
type Assignment struct {
	Cargo   *models.CargoOffer `json:"cargo"`
	Vehicle *models.Vehicle    `json:"vehicle"`
	Route   *models.Route      `json:"route"`
}

// Store is the single write path for cargo offers and vehicles. Status
// transitions only ever happen through the operations below so the
// status-machine invariants hold; ad hoc partial updates are not offered.
type Store interface {
	CreateCargo(ctx context.Context, c *models.CargoOffer) error
	GetCargo(ctx context.Context, id string) (*models.CargoOffer, error)
	ListCargo(ctx context.Context, status models.CargoStatus) ([]models.CargoOffer, error)

	UpsertVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, status models.VehicleStatus) ([]models.Vehicle, error)

	// Assign atomically re-validates both sides and commits the linked
	// transition: cargo NEW->TAKEN, vehicle idle->assigned, route created
	// with endpoints snapshotted from the cargo. Exactly one of two racing
	// calls on the same cargo or vehicle succeeds; the loser gets
	// ErrCargoUnavailable or ErrVehicleUnavailable with no partial writes.
	Assign(ctx context.Context, cargoID, vehicleID, actingUserID string) (*Assignment, error)

	// Deliver confirms delivery: owner only, TAKEN -> COMPLETED.
	Deliver(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error)

	// Repost returns a TAKEN or COMPLETED offer to the market: owner only,
	// clears acceptance and frees the assigned vehicle.
	Repost(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error)

	// Cancel retires a NEW offer: owner only, terminal.
	Cancel(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error)

	// SendOffer writes the priced chat message and upserts the
	// (cargo, transporter) OfferRequest in one transaction.
	SendOffer(ctx context.Context, cargoID, senderID string, price float64, content string) (*models.OfferRequest, *models.ChatMessage, error)

	CreateMessage(ctx context.Context, m *models.ChatMessage) error
	ListMessages(ctx context.Context, cargoID string, since time.Time) ([]models.ChatMessage, error)

	ListRoutes(ctx context.Context, fleetID string) ([]models.Route, error)
}

// routeText renders the human-readable description stored on the vehicle
// and the route at assignment time.
func routeText(c *models.CargoOffer) string {
	from := c.FromCity
	if c.FromCountry != "" {
		from += ", " + c.FromCountry
	}
	to := c.ToCity
	if c.ToCountry != "" {
		to += ", " + c.ToCountry
	}
	return from + " -> " + to
}
