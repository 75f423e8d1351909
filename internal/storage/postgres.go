package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/fleetopia/internal/models"
)

// PostgresStore implements Store on database/sql. The assignment and
// send-offer paths run inside a single transaction with row locks so the
// status checks and writes serialize against concurrent attempts on the
// same cargo or vehicle.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

const cargoCols = `id, user_id, from_city, from_country, to_city, to_country,
	from_lat, from_lng, to_lat, to_lng, weight_kg, volume_m3, cargo_type,
	price, price_type, urgency, loading_date, delivery_date, status,
	accepted_by, accepted_at, created_at, updated_at`

func scanCargo(row interface{ Scan(...any) error }) (*models.CargoOffer, error) {
	var c models.CargoOffer
	var acceptedBy sql.NullString
	var acceptedAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.FromCity, &c.FromCountry, &c.ToCity, &c.ToCountry,
		&c.From.Lat, &c.From.Lng, &c.To.Lat, &c.To.Lng, &c.WeightKg, &c.VolumeM3, &c.CargoType,
		&c.Price, &c.PriceType, &c.Urgency, &c.LoadingDate, &c.DeliveryDate, &c.Status,
		&acceptedBy, &acceptedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if acceptedBy.Valid {
		c.AcceptedBy = acceptedBy.String
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		c.AcceptedAt = &t
	}
	return &c, nil
}

const vehicleCols = `id, fleet_id, name, license_plate, type, driver_name,
	lat, lng, status, current_route, updated_at`

func scanVehicle(row interface{ Scan(...any) error }) (*models.Vehicle, error) {
	var v models.Vehicle
	var route sql.NullString
	err := row.Scan(&v.ID, &v.FleetID, &v.Name, &v.LicensePlate, &v.Type, &v.DriverName,
		&v.Loc.Lat, &v.Loc.Lng, &v.Status, &route, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.CurrentRoute = route.String
	return &v, nil
}

func (p *PostgresStore) CreateCargo(ctx context.Context, c *models.CargoOffer) error {
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
	_, err := p.db.ExecContext(ctx, `INSERT INTO cargo_offers(`+cargoCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NULL,NULL,$20,$21)`,
		c.ID, c.UserID, c.FromCity, c.FromCountry, c.ToCity, c.ToCountry,
		c.From.Lat, c.From.Lng, c.To.Lat, c.To.Lng, c.WeightKg, c.VolumeM3, c.CargoType,
		c.Price, c.PriceType, c.Urgency, c.LoadingDate, c.DeliveryDate, c.Status,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return &models.PersistenceError{Op: "create cargo", Err: err}
	}
	return nil
}

func (p *PostgresStore) GetCargo(ctx context.Context, id string) (*models.CargoOffer, error) {
	c, err := scanCargo(p.db.QueryRowContext(ctx, `SELECT `+cargoCols+` FROM cargo_offers WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get cargo", Err: err}
	}
	return c, nil
}

func (p *PostgresStore) ListCargo(ctx context.Context, status models.CargoStatus) ([]models.CargoOffer, error) {
	q := `SELECT ` + cargoCols + ` FROM cargo_offers`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list cargo", Err: err}
	}
	defer rows.Close()
	out := make([]models.CargoOffer, 0)
	for rows.Next() {
		c, err := scanCargo(rows)
		if err != nil {
			return nil, &models.PersistenceError{Op: "list cargo", Err: err}
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "list cargo", Err: err}
	}
	return out, nil
}

func (p *PostgresStore) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = models.VehicleIdle
	}
	v.UpdatedAt = time.Now()
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles(`+vehicleCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			fleet_id=EXCLUDED.fleet_id, name=EXCLUDED.name,
			license_plate=EXCLUDED.license_plate, type=EXCLUDED.type,
			driver_name=EXCLUDED.driver_name, lat=EXCLUDED.lat, lng=EXCLUDED.lng,
			status=EXCLUDED.status, current_route=EXCLUDED.current_route,
			updated_at=EXCLUDED.updated_at`,
		v.ID, v.FleetID, v.Name, v.LicensePlate, v.Type, v.DriverName,
		v.Loc.Lat, v.Loc.Lng, v.Status, nullString(v.CurrentRoute), v.UpdatedAt)
	if err != nil {
		return &models.PersistenceError{Op: "upsert vehicle", Err: err}
	}
	return nil
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get vehicle", Err: err}
	}
	return v, nil
}

func (p *PostgresStore) ListVehicles(ctx context.Context, status models.VehicleStatus) ([]models.Vehicle, error) {
	q := `SELECT ` + vehicleCols + ` FROM vehicles`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list vehicles", Err: err}
	}
	defer rows.Close()
	out := make([]models.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, &models.PersistenceError{Op: "list vehicles", Err: err}
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "list vehicles", Err: err}
	}
	return out, nil
}

func (p *PostgresStore) Assign(ctx context.Context, cargoID, vehicleID, actingUserID string) (*Assignment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "begin assign", Err: err}
	}
	defer tx.Rollback()

	// Re-validation inside the transaction is the concurrency guard: the
	// last writer to pass the status check wins, the other fails cleanly.
	c, err := scanCargo(tx.QueryRowContext(ctx, `SELECT `+cargoCols+` FROM cargo_offers WHERE id=$1 FOR UPDATE`, cargoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCargoUnavailable
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "lock cargo", Err: err}
	}
	if c.Status != models.CargoNew {
		return nil, models.ErrCargoUnavailable
	}
	if c.UserID == actingUserID {
		return nil, models.ErrForbidden
	}

	v, err := scanVehicle(tx.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id=$1 FOR UPDATE`, vehicleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrVehicleUnavailable
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "lock vehicle", Err: err}
	}
	if v.Status != models.VehicleIdle {
		return nil, models.ErrVehicleUnavailable
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE cargo_offers SET status=$1, accepted_by=$2, accepted_at=$3, updated_at=$3 WHERE id=$4`,
		models.CargoTaken, actingUserID, now, c.ID); err != nil {
		return nil, &models.PersistenceError{Op: "update cargo", Err: err}
	}
	c.Status = models.CargoTaken
	c.AcceptedBy = actingUserID
	c.AcceptedAt = &now
	c.UpdatedAt = now

	desc := routeText(c)
	if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET status=$1, current_route=$2, updated_at=$3 WHERE id=$4`,
		models.VehicleAssigned, desc, now, v.ID); err != nil {
		return nil, &models.PersistenceError{Op: "update vehicle", Err: err}
	}
	v.Status = models.VehicleAssigned
	v.CurrentRoute = desc
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
	if _, err := tx.ExecContext(ctx, `INSERT INTO routes(id, cargo_offer_id, vehicle_id, fleet_id, from_label, to_label, from_lat, from_lng, to_lat, to_lng, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.CargoOfferID, r.VehicleID, r.FleetID, r.FromLabel, r.ToLabel,
		r.From.Lat, r.From.Lng, r.To.Lat, r.To.Lng, r.Status, r.CreatedAt); err != nil {
		return nil, &models.PersistenceError{Op: "insert route", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &models.PersistenceError{Op: "commit assign", Err: err}
	}
	return &Assignment{Cargo: c, Vehicle: v, Route: r}, nil
}

func (p *PostgresStore) Deliver(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	return p.transition(ctx, cargoID, actingUserID, "deliver", func(tx *sql.Tx, c *models.CargoOffer) error {
		if c.Status != models.CargoTaken {
			return models.ErrCargoUnavailable
		}
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE cargo_offers SET status=$1, updated_at=$2 WHERE id=$3`,
			models.CargoCompleted, now, c.ID); err != nil {
			return &models.PersistenceError{Op: "deliver cargo", Err: err}
		}
		c.Status = models.CargoCompleted
		c.UpdatedAt = now
		return p.releaseVehicleFor(ctx, tx, c.ID, now)
	})
}

func (p *PostgresStore) Repost(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	return p.transition(ctx, cargoID, actingUserID, "repost", func(tx *sql.Tx, c *models.CargoOffer) error {
		if c.Status != models.CargoTaken && c.Status != models.CargoCompleted {
			return models.ErrCargoUnavailable
		}
		now := time.Now()
		if c.Status == models.CargoTaken {
			if err := p.releaseVehicleFor(ctx, tx, c.ID, now); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cargo_offers SET status=$1, accepted_by=NULL, accepted_at=NULL, updated_at=$2 WHERE id=$3`,
			models.CargoNew, now, c.ID); err != nil {
			return &models.PersistenceError{Op: "repost cargo", Err: err}
		}
		c.Status = models.CargoNew
		c.AcceptedBy = ""
		c.AcceptedAt = nil
		c.UpdatedAt = now
		return nil
	})
}

func (p *PostgresStore) Cancel(ctx context.Context, cargoID, actingUserID string) (*models.CargoOffer, error) {
	return p.transition(ctx, cargoID, actingUserID, "cancel", func(tx *sql.Tx, c *models.CargoOffer) error {
		if c.Status != models.CargoNew {
			return models.ErrCargoUnavailable
		}
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE cargo_offers SET status=$1, updated_at=$2 WHERE id=$3`,
			models.CargoCanceled, now, c.ID); err != nil {
			return &models.PersistenceError{Op: "cancel cargo", Err: err}
		}
		c.Status = models.CargoCanceled
		c.UpdatedAt = now
		return nil
	})
}

// transition runs an owner-only cargo status change inside a transaction
// with the row locked, so every transition observes the latest status.
func (p *PostgresStore) transition(ctx context.Context, cargoID, actingUserID, op string, apply func(*sql.Tx, *models.CargoOffer) error) (*models.CargoOffer, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "begin " + op, Err: err}
	}
	defer tx.Rollback()

	c, err := scanCargo(tx.QueryRowContext(ctx, `SELECT `+cargoCols+` FROM cargo_offers WHERE id=$1 FOR UPDATE`, cargoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "lock cargo for " + op, Err: err}
	}
	if c.UserID != actingUserID {
		return nil, models.ErrForbidden
	}
	if err := apply(tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &models.PersistenceError{Op: "commit " + op, Err: err}
	}
	return c, nil
}

func (p *PostgresStore) releaseVehicleFor(ctx context.Context, tx *sql.Tx, cargoID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET status=$1, current_route=NULL, updated_at=$2
		WHERE status=$3 AND id IN (SELECT vehicle_id FROM routes WHERE cargo_offer_id=$4 AND status<>$5)`,
		models.VehicleIdle, now, models.VehicleAssigned, cargoID, models.RouteCompleted); err != nil {
		return &models.PersistenceError{Op: "release vehicle", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE routes SET status=$1 WHERE cargo_offer_id=$2 AND status<>$1`,
		models.RouteCompleted, cargoID); err != nil {
		return &models.PersistenceError{Op: "complete route", Err: err}
	}
	return nil
}

func (p *PostgresStore) SendOffer(ctx context.Context, cargoID, senderID string, price float64, content string) (*models.OfferRequest, *models.ChatMessage, error) {
	if price <= 0 {
		return nil, nil, &models.ValidationError{Field: "price", Reason: "must be positive"}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, &models.PersistenceError{Op: "begin send offer", Err: err}
	}
	defer tx.Rollback()

	c, err := scanCargo(tx.QueryRowContext(ctx, `SELECT `+cargoCols+` FROM cargo_offers WHERE id=$1 FOR UPDATE`, cargoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, models.ErrNotFound
	}
	if err != nil {
		return nil, nil, &models.PersistenceError{Op: "lock cargo for offer", Err: err}
	}
	if c.UserID == senderID {
		return nil, nil, models.ErrForbidden
	}

	now := time.Now()
	req := &models.OfferRequest{
		ID:            uuid.NewString(),
		CargoOfferID:  cargoID,
		TransporterID: senderID,
		Price:         price,
		Status:        models.OfferPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// unique (cargo_offer_id, transporter_id): re-offering updates the bid
	row := tx.QueryRowContext(ctx, `INSERT INTO offer_requests(id, cargo_offer_id, transporter_id, price, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (cargo_offer_id, transporter_id) DO UPDATE SET price=EXCLUDED.price, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at
		RETURNING id, created_at`, req.ID, req.CargoOfferID, req.TransporterID, req.Price, req.Status, now)
	if err := row.Scan(&req.ID, &req.CreatedAt); err != nil {
		return nil, nil, &models.PersistenceError{Op: "upsert offer request", Err: err}
	}

	msg := &models.ChatMessage{
		ID:           uuid.NewString(),
		CargoOfferID: cargoID,
		SenderID:     senderID,
		Content:      content,
		Price:        price,
		CreatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_messages(id, cargo_offer_id, sender_id, content, price, read, created_at)
		VALUES($1,$2,$3,$4,$5,false,$6)`,
		msg.ID, msg.CargoOfferID, msg.SenderID, msg.Content, msg.Price, msg.CreatedAt); err != nil {
		return nil, nil, &models.PersistenceError{Op: "insert offer message", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, &models.PersistenceError{Op: "commit send offer", Err: err}
	}
	return req, msg, nil
}

func (p *PostgresStore) CreateMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO chat_messages(id, cargo_offer_id, sender_id, content, price, read, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.CargoOfferID, m.SenderID, m.Content, m.Price, m.Read, m.CreatedAt)
	if err != nil {
		return &models.PersistenceError{Op: "create message", Err: err}
	}
	return nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, cargoID string, since time.Time) ([]models.ChatMessage, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, cargo_offer_id, sender_id, content, price, read, created_at
		FROM chat_messages WHERE cargo_offer_id=$1 AND created_at > $2 ORDER BY created_at`, cargoID, since)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list messages", Err: err}
	}
	defer rows.Close()
	out := make([]models.ChatMessage, 0)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.CargoOfferID, &m.SenderID, &m.Content, &m.Price, &m.Read, &m.CreatedAt); err != nil {
			return nil, &models.PersistenceError{Op: "list messages", Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "list messages", Err: err}
	}
	return out, nil
}

func (p *PostgresStore) ListRoutes(ctx context.Context, fleetID string) ([]models.Route, error) {
	q := `SELECT id, cargo_offer_id, vehicle_id, fleet_id, from_label, to_label, from_lat, from_lng, to_lat, to_lng, status, created_at FROM routes`
	args := []any{}
	if fleetID != "" {
		q += ` WHERE fleet_id=$1`
		args = append(args, fleetID)
	}
	q += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list routes", Err: err}
	}
	defer rows.Close()
	out := make([]models.Route, 0)
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.CargoOfferID, &r.VehicleID, &r.FleetID, &r.FromLabel, &r.ToLabel,
			&r.From.Lat, &r.From.Lng, &r.To.Lat, &r.To.Lng, &r.Status, &r.CreatedAt); err != nil {
			return nil, &models.PersistenceError{Op: "list routes", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "list routes", Err: err}
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
