package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/example/fleetopia/internal/config"
	"github.com/example/fleetopia/internal/eta"
	"github.com/example/fleetopia/internal/geo"
	"github.com/example/fleetopia/internal/models"
	"github.com/example/fleetopia/internal/observability"
	"github.com/example/fleetopia/internal/storage"
)

// Filters narrow the candidate set before ranking.
type Filters struct {
	UrgencyOnly   bool
	MinProfit     float64 // applied only when HasMinProfit
	HasMinProfit  bool
	MaxDistanceKm float64 // vehicle-to-pickup cutoff; 0 means config default
	VehicleType   models.VehicleType
	ExcludeRisky  bool
}

// Engine produces ranked cargo/vehicle pairings for a dispatcher. It only
// reads: a suggestion going stale before the dispatcher acts is expected
// and caught by the assignment transaction's re-validation, not here.
type Engine struct {
	Store   storage.Store
	Tracker geo.Tracker // optional: freshest telemetry position per vehicle
	ETA     eta.Client  // optional routing engine
	Cache   *eta.Cache  // optional ETA cache
	Cfg     config.MatchingConfig
	Logger  *slog.Logger

	// Now is swappable for deterministic scoring in tests.
	Now func() time.Time
}

func New(store storage.Store, tracker geo.Tracker, cfg config.MatchingConfig, logger *slog.Logger) *Engine {
	return &Engine{Store: store, Tracker: tracker, Cfg: cfg, Logger: logger, Now: time.Now}
}

// FindBestMatches scores every NEW cargo against every idle vehicle,
// filters, and returns at most limit matches ordered by score. A store
// failure degrades to an empty list: the dispatcher sees no suggestions
// rather than an error page.
func (e *Engine) FindBestMatches(ctx context.Context, limit int, f Filters) []models.Match {
	start := time.Now()
	defer func() {
		observability.MatchQueriesTotal.Inc()
		observability.MatchQueryLatency.Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = e.Cfg.DefaultLimit
	}
	maxDist := f.MaxDistanceKm
	if maxDist <= 0 {
		maxDist = e.Cfg.DefaultMaxDistKm
	}

	cargos, err := e.Store.ListCargo(ctx, models.CargoNew)
	if err != nil {
		e.warn("cargo snapshot unavailable", err)
		return []models.Match{}
	}
	vehicles, err := e.Store.ListVehicles(ctx, models.VehicleIdle)
	if err != nil {
		e.warn("vehicle snapshot unavailable", err)
		return []models.Match{}
	}
	if len(cargos) == 0 || len(vehicles) == 0 {
		return []models.Match{}
	}

	now := e.now()
	matches := make([]models.Match, 0, len(cargos))
	for _, c := range cargos {
		if f.UrgencyOnly && c.Urgency != models.UrgencyHigh {
			continue
		}
		for _, v := range vehicles {
			if f.VehicleType != "" && v.Type != f.VehicleType {
				continue
			}
			observability.CandidatesEvaluated.Inc()
			m := e.score(c, v, maxDist, now)
			if m.PickupKm > maxDist {
				continue
			}
			if f.HasMinProfit && m.EstProfit < f.MinProfit {
				continue
			}
			if f.ExcludeRisky && m.Risk == models.RiskHigh {
				continue
			}
			matches = append(matches, m)
		}
	}

	// score desc, then pickup distance asc, then older cargo first
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].PickupKm != matches[j].PickupKm {
			return matches[i].PickupKm < matches[j].PickupKm
		}
		return matches[i].Cargo.CreatedAt.Before(matches[j].Cargo.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (e *Engine) score(c models.CargoOffer, v models.Vehicle, maxDist float64, now time.Time) models.Match {
	loc := v.Loc
	if e.Tracker != nil {
		if p, ok := e.Tracker.Position(v.ID); ok {
			loc = p
		}
	}

	pickupKm := geo.DistanceKm(loc, c.From)
	haulKm := geo.DistanceKm(c.From, c.To)
	pickupETA := e.pickupETA(loc, c.From)

	travelHours := (pickupKm + haulKm) / e.Cfg.AvgSpeedKmh
	estCost := (pickupKm+haulKm)*e.Cfg.FuelCostPerKm + travelHours*e.Cfg.DriverCostPerHr
	estProfit := c.Price - estCost

	profitScore := 0.0
	if c.Price > 0 {
		profitScore = clamp01(estProfit / c.Price)
	}
	proximityScore := clamp01(1 - pickupKm/maxDist)
	urgencyScore := urgencyScore(c, now)
	risk := riskLevel(c, pickupETA, now)

	m := models.Match{
		Cargo:          c,
		Vehicle:        v,
		ProfitScore:    profitScore,
		ProximityScore: proximityScore,
		UrgencyScore:   urgencyScore,
		EstProfit:      round2(estProfit),
		EstCost:        round2(estCost),
		PickupKm:       round2(pickupKm),
		HaulKm:         round2(haulKm),
		PickupETASec:   pickupETA,
		Risk:           risk,
		RouteText:      fmt.Sprintf("%s -> %s (%.0f km)", c.FromCity, c.ToCity, haulKm),
	}
	m.Score = e.Cfg.WeightProfit*profitScore + e.Cfg.WeightProximity*proximityScore + e.Cfg.WeightUrgency*urgencyScore
	m.Advantages = advantages(m)
	m.Recommendation = recommendation(m)
	return m
}

func (e *Engine) pickupETA(from, to models.Coord) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.ETA != nil {
		if v, err := e.ETA.EstimateSeconds(from, to); err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, e.Cfg.AvgSpeedKmh)
}

// urgencyScore blends the poster's urgency flag with loading-date
// pressure: offers loading within a day score near the top regardless
// of the flag.
func urgencyScore(c models.CargoOffer, now time.Time) float64 {
	base := 0.3
	switch c.Urgency {
	case models.UrgencyMedium:
		base = 0.6
	case models.UrgencyHigh:
		base = 1.0
	}
	if c.LoadingDate.IsZero() {
		return base
	}
	hoursLeft := c.LoadingDate.Sub(now).Hours()
	switch {
	case hoursLeft <= 24:
		return clamp01(base + 0.3)
	case hoursLeft <= 72:
		return clamp01(base + 0.15)
	default:
		return base
	}
}

// riskLevel classifies schedule tightness: how much slack remains between
// the estimated arrival at the pickup and the loading deadline.
func riskLevel(c models.CargoOffer, pickupETASec float64, now time.Time) models.RiskLevel {
	if c.LoadingDate.IsZero() {
		return models.RiskLow
	}
	slackHours := c.LoadingDate.Sub(now).Hours() - pickupETASec/3600
	switch {
	case slackHours < 2:
		return models.RiskHigh
	case slackHours < 12:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func advantages(m models.Match) []string {
	var out []string
	if m.ProfitScore >= 0.5 {
		out = append(out, "high profit margin")
	}
	if m.PickupKm <= 25 {
		out = append(out, fmt.Sprintf("vehicle only %.0f km from pickup", m.PickupKm))
	}
	if m.Cargo.Urgency == models.UrgencyHigh {
		out = append(out, "urgent cargo, premium priority")
	}
	if m.Risk == models.RiskLow {
		out = append(out, "comfortable loading schedule")
	}
	return out
}

func recommendation(m models.Match) string {
	switch {
	case m.Score >= 0.7:
		return fmt.Sprintf("Strong match: assign %s, estimated profit %.0f", m.Vehicle.Name, m.EstProfit)
	case m.Score >= 0.4:
		return fmt.Sprintf("Viable match for %s, estimated profit %.0f", m.Vehicle.Name, m.EstProfit)
	default:
		return "Marginal match, review before assigning"
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) warn(msg string, err error) {
	if e.Logger != nil {
		e.Logger.Warn(msg, "error", err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
