package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CargoStatus is the lifecycle state of a cargo offer on the marketplace.
type CargoStatus string

const (
	CargoNew        CargoStatus = "NEW"
	CargoTaken      CargoStatus = "TAKEN"
	CargoInProgress CargoStatus = "IN_PROGRESS"
	CargoCompleted  CargoStatus = "COMPLETED"
	CargoCanceled   CargoStatus = "CANCELED"
)

// Accepted reports whether the status implies an accepted counterparty.
// AcceptedBy must be set exactly for these states.
func (s CargoStatus) Accepted() bool {
	switch s {
	case CargoTaken, CargoInProgress, CargoCompleted:
		return true
	default:
		return false
	}
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type VehicleType string

const (
	VehicleVan   VehicleType = "VAN"
	VehicleTruck VehicleType = "TRUCK"
	VehicleSemi  VehicleType = "SEMI"
)

type VehicleStatus string

const (
	VehicleIdle         VehicleStatus = "idle"
	VehicleAssigned     VehicleStatus = "assigned"
	VehicleInTransit    VehicleStatus = "in_transit"
	VehicleEnRoute      VehicleStatus = "en_route"
	VehicleLoading      VehicleStatus = "loading"
	VehicleUnloading    VehicleStatus = "unloading"
	VehicleMaintenance  VehicleStatus = "maintenance"
	VehicleOutOfService VehicleStatus = "out_of_service"
)

type CargoOffer struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	FromCity     string      `json:"from_city"`
	FromCountry  string      `json:"from_country"`
	ToCity       string      `json:"to_city"`
	ToCountry    string      `json:"to_country"`
	From         Coord       `json:"from"`
	To           Coord       `json:"to"`
	WeightKg     float64     `json:"weight_kg"`
	VolumeM3     float64     `json:"volume_m3"`
	CargoType    string      `json:"cargo_type"`
	Price        float64     `json:"price"`
	PriceType    string      `json:"price_type"` // fixed or negotiable
	Urgency      Urgency     `json:"urgency"`
	LoadingDate  time.Time   `json:"loading_date"`
	DeliveryDate time.Time   `json:"delivery_date"`
	Status       CargoStatus `json:"status"`
	AcceptedBy   string      `json:"accepted_by,omitempty"`
	AcceptedAt   *time.Time  `json:"accepted_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type Vehicle struct {
	ID           string        `json:"id"`
	FleetID      string        `json:"fleet_id"`
	Name         string        `json:"name"`
	LicensePlate string        `json:"license_plate"`
	Type         VehicleType   `json:"type"`
	DriverName   string        `json:"driver_name"`
	Loc          Coord         `json:"loc"`
	Status       VehicleStatus `json:"status"`
	CurrentRoute string        `json:"current_route,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type RouteStatus string

const (
	RoutePlanned    RouteStatus = "PLANNED"
	RouteSuggested  RouteStatus = "SUGGESTED"
	RouteAccepted   RouteStatus = "ACCEPTED"
	RouteInProgress RouteStatus = "IN_PROGRESS"
	RouteCompleted  RouteStatus = "COMPLETED"
)

// Route links one cargo offer to one vehicle. Endpoints are snapshotted at
// assignment time: later cargo edits must not alter a committed route.
type Route struct {
	ID           string      `json:"id"`
	CargoOfferID string      `json:"cargo_offer_id"`
	VehicleID    string      `json:"vehicle_id"`
	FleetID      string      `json:"fleet_id"`
	FromLabel    string      `json:"from_label"`
	ToLabel      string      `json:"to_label"`
	From         Coord       `json:"from"`
	To           Coord       `json:"to"`
	Status       RouteStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Match is a scored cargo/vehicle pairing. Ephemeral: produced by the
// matching engine for a suggestion list, never persisted.
type Match struct {
	Cargo   CargoOffer `json:"cargo"`
	Vehicle Vehicle    `json:"vehicle"`

	Score          float64 `json:"score"`
	ProfitScore    float64 `json:"profit_score"`
	ProximityScore float64 `json:"proximity_score"`
	UrgencyScore   float64 `json:"urgency_score"`

	EstProfit    float64   `json:"est_profit"`
	EstCost      float64   `json:"est_cost"`
	PickupKm     float64   `json:"pickup_km"`
	HaulKm       float64   `json:"haul_km"`
	PickupETASec float64   `json:"pickup_eta_seconds"`
	Risk         RiskLevel `json:"risk"`

	RouteText      string   `json:"route_text"`
	Recommendation string   `json:"recommendation"`
	Advantages     []string `json:"advantages,omitempty"`
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
)

// OfferRequest records a transporter's priced bid on a cargo offer.
// Unique per (cargo offer, transporter) pair.
type OfferRequest struct {
	ID            string      `json:"id"`
	CargoOfferID  string      `json:"cargo_offer_id"`
	TransporterID string      `json:"transporter_id"`
	Price         float64     `json:"price"`
	Status        OfferStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type ChatMessage struct {
	ID           string    `json:"id"`
	CargoOfferID string    `json:"cargo_offer_id"`
	SenderID     string    `json:"sender_id"`
	Content      string    `json:"content"`
	Price        float64   `json:"price,omitempty"` // >0 only on priced offer messages
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
}

// VehiclePosition is a telemetry sample flowing through the ingest pipeline.
type VehiclePosition struct {
	VehicleID  string    `json:"vehicle_id"`
	Loc        Coord     `json:"loc"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Status     string    `json:"status,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
