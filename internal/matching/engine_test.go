package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/fleetopia/internal/config"
	"github.com/example/fleetopia/internal/models"
	"github.com/example/fleetopia/internal/storage"
)

var testCfg = config.MatchingConfig{
	WeightProfit:     0.4,
	WeightProximity:  0.3,
	WeightUrgency:    0.3,
	FuelCostPerKm:    0.35,
	DriverCostPerHr:  25,
	AvgSpeedKmh:      65,
	DefaultMaxDistKm: 100,
	DefaultLimit:     5,
}

// Berlin-ish coordinates; one degree of latitude is ~111 km.
var (
	pickup   = models.Coord{Lat: 52.5, Lng: 13.4}
	dropoff  = models.Coord{Lat: 48.1, Lng: 11.6}
	nearLoc  = models.Coord{Lat: 52.55, Lng: 13.4}  // ~6 km from pickup
	midLoc   = models.Coord{Lat: 52.9, Lng: 13.4}   // ~45 km
	farLoc   = models.Coord{Lat: 54.0, Lng: 13.4}   // ~167 km
	fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
)

func newEngine(t *testing.T, store storage.Store) *Engine {
	t.Helper()
	e := New(store, nil, testCfg, nil)
	e.Now = func() time.Time { return fixedNow }
	return e
}

func seedCargo(t *testing.T, st storage.Store, id string, price float64, urgency models.Urgency, loadingIn time.Duration) {
	t.Helper()
	err := st.CreateCargo(context.Background(), &models.CargoOffer{
		ID: id, UserID: "shipper", FromCity: "Berlin", ToCity: "Munich",
		From: pickup, To: dropoff, Price: price, Urgency: urgency,
		LoadingDate: fixedNow.Add(loadingIn), Status: models.CargoNew,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func seedVehicle(t *testing.T, st storage.Store, id string, loc models.Coord, vt models.VehicleType, status models.VehicleStatus) {
	t.Helper()
	err := st.UpsertVehicle(context.Background(), &models.Vehicle{
		ID: id, FleetID: "fleet1", Name: id, LicensePlate: id, Type: vt, Loc: loc, Status: status,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFindBestMatchesEmptyWhenNothingAvailable(t *testing.T) {
	st := storage.NewMemoryStore()
	e := newEngine(t, st)
	if got := e.FindBestMatches(context.Background(), 5, Filters{}); len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}

	seedCargo(t, st, "c1", 1000, models.UrgencyLow, 96*time.Hour)
	if got := e.FindBestMatches(context.Background(), 5, Filters{}); len(got) != 0 {
		t.Fatalf("cargo without vehicles should match nothing, got %d", len(got))
	}
}

func TestFindBestMatchesPrefersCloserVehicle(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "c1", 1500, models.UrgencyMedium, 96*time.Hour)
	seedVehicle(t, st, "far", midLoc, models.VehicleTruck, models.VehicleIdle)
	seedVehicle(t, st, "near", nearLoc, models.VehicleTruck, models.VehicleIdle)

	got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Vehicle.ID != "near" {
		t.Fatalf("expected closer vehicle ranked first, got %s", got[0].Vehicle.ID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("expected strictly better score for closer vehicle")
	}
}

func TestFindBestMatchesMaxDistanceExcludes(t *testing.T) {
	st := storage.NewMemoryStore()
	// far vehicle would win on raw profit but violates the cutoff
	seedCargo(t, st, "c1", 5000, models.UrgencyHigh, 96*time.Hour)
	seedVehicle(t, st, "far", farLoc, models.VehicleSemi, models.VehicleIdle)
	seedVehicle(t, st, "near", midLoc, models.VehicleVan, models.VehicleIdle)

	got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{MaxDistanceKm: 50})
	if len(got) != 1 {
		t.Fatalf("expected 1 match after distance filter, got %d", len(got))
	}
	if got[0].Vehicle.ID != "near" {
		t.Fatalf("expected near vehicle, got %s", got[0].Vehicle.ID)
	}
}

func TestFindBestMatchesVehicleTypeFilter(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "c1", 1500, models.UrgencyLow, 96*time.Hour)
	seedVehicle(t, st, "van", nearLoc, models.VehicleVan, models.VehicleIdle)
	seedVehicle(t, st, "semi", nearLoc, models.VehicleSemi, models.VehicleIdle)

	got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{VehicleType: models.VehicleSemi})
	if len(got) != 1 || got[0].Vehicle.ID != "semi" {
		t.Fatalf("expected only the semi, got %+v", got)
	}
}

func TestFindBestMatchesUrgencyOnly(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "calm", 1500, models.UrgencyLow, 96*time.Hour)
	seedCargo(t, st, "hot", 1500, models.UrgencyHigh, 96*time.Hour)
	seedVehicle(t, st, "v1", nearLoc, models.VehicleTruck, models.VehicleIdle)

	got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{UrgencyOnly: true})
	if len(got) != 1 || got[0].Cargo.ID != "hot" {
		t.Fatalf("expected only the urgent cargo, got %+v", got)
	}
}

func TestFindBestMatchesMinProfit(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "cheap", 200, models.UrgencyLow, 96*time.Hour) // ~500 km haul costs far more than 200
	seedCargo(t, st, "rich", 5000, models.UrgencyLow, 96*time.Hour)
	seedVehicle(t, st, "v1", nearLoc, models.VehicleTruck, models.VehicleIdle)

	got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{MinProfit: 100, HasMinProfit: true})
	if len(got) != 1 || got[0].Cargo.ID != "rich" {
		t.Fatalf("expected only the profitable cargo, got %d matches", len(got))
	}
}

func TestFindBestMatchesExcludeRisky(t *testing.T) {
	st := storage.NewMemoryStore()
	// loading in one hour: no slack, risk high
	seedCargo(t, st, "tight", 2000, models.UrgencyHigh, time.Hour)
	seedCargo(t, st, "roomy", 2000, models.UrgencyHigh, 96*time.Hour)
	seedVehicle(t, st, "v1", nearLoc, models.VehicleTruck, models.VehicleIdle)

	e := newEngine(t, st)
	all := e.FindBestMatches(context.Background(), 5, Filters{})
	if len(all) != 2 {
		t.Fatalf("expected both without filter, got %d", len(all))
	}
	got := e.FindBestMatches(context.Background(), 5, Filters{ExcludeRisky: true})
	if len(got) != 1 || got[0].Cargo.ID != "roomy" {
		t.Fatalf("expected risky pair dropped, got %+v", got)
	}
}

func TestFindBestMatchesIgnoresBusyVehicles(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "c1", 1500, models.UrgencyLow, 96*time.Hour)
	seedVehicle(t, st, "busy", nearLoc, models.VehicleTruck, models.VehicleAssigned)
	seedVehicle(t, st, "shop", nearLoc, models.VehicleTruck, models.VehicleMaintenance)

	if got := newEngine(t, st).FindBestMatches(context.Background(), 5, Filters{}); len(got) != 0 {
		t.Fatalf("non-idle vehicles must not be candidates, got %d", len(got))
	}
}

func TestFindBestMatchesDeterministic(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "c1", 1500, models.UrgencyMedium, 96*time.Hour)
	seedCargo(t, st, "c2", 1800, models.UrgencyLow, 96*time.Hour)
	seedVehicle(t, st, "v1", nearLoc, models.VehicleTruck, models.VehicleIdle)
	seedVehicle(t, st, "v2", midLoc, models.VehicleVan, models.VehicleIdle)

	e := newEngine(t, st)
	a := e.FindBestMatches(context.Background(), 5, Filters{})
	b := e.FindBestMatches(context.Background(), 5, Filters{})
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical inputs must yield identical ordered results")
	}
}

func TestFindBestMatchesLimit(t *testing.T) {
	st := storage.NewMemoryStore()
	seedCargo(t, st, "c1", 1500, models.UrgencyLow, 96*time.Hour)
	for _, id := range []string{"v1", "v2", "v3"} {
		seedVehicle(t, st, id, nearLoc, models.VehicleTruck, models.VehicleIdle)
	}
	if got := newEngine(t, st).FindBestMatches(context.Background(), 2, Filters{}); len(got) != 2 {
		t.Fatalf("expected limit respected, got %d", len(got))
	}
}

type failingStore struct {
	storage.Store
}

func (f *failingStore) ListCargo(ctx context.Context, status models.CargoStatus) ([]models.CargoOffer, error) {
	return nil, &models.PersistenceError{Op: "list cargo", Err: errors.New("connection refused")}
}

func TestFindBestMatchesDegradesOnStoreFailure(t *testing.T) {
	e := newEngine(t, &failingStore{Store: storage.NewMemoryStore()})
	got := e.FindBestMatches(context.Background(), 5, Filters{})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result on store failure, got %v", got)
	}
}

func TestRiskLevels(t *testing.T) {
	c := models.CargoOffer{LoadingDate: fixedNow.Add(30 * time.Minute)}
	if r := riskLevel(c, 600, fixedNow); r != models.RiskHigh {
		t.Fatalf("expected high risk, got %s", r)
	}
	c.LoadingDate = fixedNow.Add(6 * time.Hour)
	if r := riskLevel(c, 600, fixedNow); r != models.RiskMedium {
		t.Fatalf("expected medium risk, got %s", r)
	}
	c.LoadingDate = fixedNow.Add(48 * time.Hour)
	if r := riskLevel(c, 600, fixedNow); r != models.RiskLow {
		t.Fatalf("expected low risk, got %s", r)
	}
}
