package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/fleetopia/internal/models"
)

func seed(t *testing.T) (*MemoryStore, *models.CargoOffer, *models.Vehicle) {
	t.Helper()
	st := NewMemoryStore()
	ctx := context.Background()
	c := &models.CargoOffer{
		ID: "c1", UserID: "shipper", FromCity: "Berlin", FromCountry: "DE",
		ToCity: "Munich", ToCountry: "DE", Price: 1000, Status: models.CargoNew,
	}
	if err := st.CreateCargo(ctx, c); err != nil {
		t.Fatal(err)
	}
	v := &models.Vehicle{ID: "v1", FleetID: "fleet1", Name: "Truck 1", LicensePlate: "B-TR-1", Status: models.VehicleIdle}
	if err := st.UpsertVehicle(ctx, v); err != nil {
		t.Fatal(err)
	}
	return st, c, v
}

func TestAssignHappyPath(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()

	res, err := st.Assign(ctx, "c1", "v1", "carrier")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if res.Cargo.Status != models.CargoTaken || res.Cargo.AcceptedBy != "carrier" {
		t.Fatalf("cargo not taken: %+v", res.Cargo)
	}
	if res.Cargo.AcceptedAt == nil {
		t.Fatal("accepted_at must be set")
	}
	if res.Vehicle.Status != models.VehicleAssigned {
		t.Fatalf("vehicle not assigned: %+v", res.Vehicle)
	}
	if res.Vehicle.CurrentRoute != "Berlin, DE -> Munich, DE" {
		t.Fatalf("unexpected route text %q", res.Vehicle.CurrentRoute)
	}
	if res.Route == nil || res.Route.CargoOfferID != "c1" || res.Route.VehicleID != "v1" || res.Route.FleetID != "fleet1" {
		t.Fatalf("route not linked: %+v", res.Route)
	}

	// re-read through the store, not the returned copies
	c, _ := st.GetCargo(ctx, "c1")
	if c.Status != models.CargoTaken {
		t.Fatal("taken status not persisted")
	}
}

func TestAssignRejectsNonNewCargo(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Assign(ctx, "c1", "v1", "carrier"); err != nil {
		t.Fatal(err)
	}
	_ = st.UpsertVehicle(ctx, &models.Vehicle{ID: "v2", Status: models.VehicleIdle})
	_, err := st.Assign(ctx, "c1", "v2", "carrier2")
	if !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("expected ErrCargoUnavailable, got %v", err)
	}
	// atomicity: the second vehicle must be untouched
	v2, _ := st.GetVehicle(ctx, "v2")
	if v2.Status != models.VehicleIdle {
		t.Fatalf("losing assign left vehicle half-updated: %s", v2.Status)
	}
}

func TestAssignRejectsBusyVehicle(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	_ = st.UpsertVehicle(ctx, &models.Vehicle{ID: "busy", Status: models.VehicleMaintenance})
	_, err := st.Assign(ctx, "c1", "busy", "carrier")
	if !errors.Is(err, models.ErrVehicleUnavailable) {
		t.Fatalf("expected ErrVehicleUnavailable, got %v", err)
	}
	// cargo must stay NEW, no route created
	c, _ := st.GetCargo(ctx, "c1")
	if c.Status != models.CargoNew || c.AcceptedBy != "" {
		t.Fatalf("failed assign mutated cargo: %+v", c)
	}
	routes, _ := st.ListRoutes(ctx, "")
	if len(routes) != 0 {
		t.Fatalf("failed assign created a route")
	}
}

func TestAssignRejectsOwner(t *testing.T) {
	st, _, _ := seed(t)
	_, err := st.Assign(context.Background(), "c1", "v1", "shipper")
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("owner accepting own offer must be forbidden, got %v", err)
	}
}

func TestAssignMissingEntities(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Assign(ctx, "ghost", "v1", "carrier"); !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("missing cargo: got %v", err)
	}
	if _, err := st.Assign(ctx, "c1", "ghost", "carrier"); !errors.Is(err, models.ErrVehicleUnavailable) {
		t.Fatalf("missing vehicle: got %v", err)
	}
}

func TestConcurrentAssignExactlyOneWins(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	const racers = 32
	for i := 0; i < racers; i++ {
		_ = st.UpsertVehicle(ctx, &models.Vehicle{ID: vehID(i), Status: models.VehicleIdle})
	}

	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Assign(ctx, "c1", vehID(i), "carrier")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrCargoUnavailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != racers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}
}

func vehID(i int) string { return "rv" + string(rune('A'+i)) }

func TestDeliverByOwner(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Assign(ctx, "c1", "v1", "carrier"); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Deliver(ctx, "c1", "carrier"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-owner deliver must be forbidden, got %v", err)
	}

	c, err := st.Deliver(ctx, "c1", "shipper")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.CargoCompleted {
		t.Fatalf("expected COMPLETED, got %s", c.Status)
	}
	// invariant: acceptance survives completion
	if c.AcceptedBy != "carrier" {
		t.Fatal("acceptance cleared on delivery")
	}
	// vehicle returns to the pool
	v, _ := st.GetVehicle(ctx, "v1")
	if v.Status != models.VehicleIdle {
		t.Fatalf("vehicle not freed after delivery: %s", v.Status)
	}
}

func TestDeliverRequiresTaken(t *testing.T) {
	st, _, _ := seed(t)
	if _, err := st.Deliver(context.Background(), "c1", "shipper"); !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("deliver on NEW must fail, got %v", err)
	}
}

func TestRepostClearsAcceptance(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Assign(ctx, "c1", "v1", "carrier"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Deliver(ctx, "c1", "shipper"); err != nil {
		t.Fatal(err)
	}

	c, err := st.Repost(ctx, "c1", "shipper")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.CargoNew || c.AcceptedBy != "" || c.AcceptedAt != nil {
		t.Fatalf("repost did not reset acceptance: %+v", c)
	}
}

func TestRepostFromTakenFreesVehicle(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Assign(ctx, "c1", "v1", "carrier"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Repost(ctx, "c1", "shipper"); err != nil {
		t.Fatal(err)
	}
	v, _ := st.GetVehicle(ctx, "v1")
	if v.Status != models.VehicleIdle || v.CurrentRoute != "" {
		t.Fatalf("vehicle not freed on repost: %+v", v)
	}
	// the offer is assignable again
	if _, err := st.Assign(ctx, "c1", "v1", "carrier2"); err != nil {
		t.Fatalf("reposted cargo must be assignable: %v", err)
	}
}

func TestRepostRequiresTakenOrCompleted(t *testing.T) {
	st, _, _ := seed(t)
	if _, err := st.Repost(context.Background(), "c1", "shipper"); !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("repost on NEW must fail, got %v", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, err := st.Cancel(ctx, "c1", "stranger"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-owner cancel must be forbidden, got %v", err)
	}
	c, err := st.Cancel(ctx, "c1", "shipper")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.CargoCanceled {
		t.Fatalf("expected CANCELED, got %s", c.Status)
	}
	if _, err := st.Assign(ctx, "c1", "v1", "carrier"); !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("canceled cargo must not be assignable, got %v", err)
	}
	if _, err := st.Cancel(ctx, "c1", "shipper"); !errors.Is(err, models.ErrCargoUnavailable) {
		t.Fatalf("cancel is terminal, got %v", err)
	}
}

func TestAcceptanceInvariant(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()

	check := func(label string) {
		c, err := st.GetCargo(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if (c.AcceptedBy != "") != c.Status.Accepted() {
			t.Fatalf("%s: acceptance invariant violated: status=%s accepted_by=%q", label, c.Status, c.AcceptedBy)
		}
	}

	check("new")
	_, _ = st.Assign(ctx, "c1", "v1", "carrier")
	check("taken")
	_, _ = st.Deliver(ctx, "c1", "shipper")
	check("completed")
	_, _ = st.Repost(ctx, "c1", "shipper")
	check("reposted")
}

func TestSendOfferUpsertsSinglePendingRequest(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()

	req1, msg1, err := st.SendOffer(ctx, "c1", "carrier", 900, "can do it for 900")
	if err != nil {
		t.Fatal(err)
	}
	if req1.Status != models.OfferPending || msg1.Price != 900 {
		t.Fatalf("unexpected offer %+v msg %+v", req1, msg1)
	}

	// re-offering updates the same request, adds a second message
	req2, _, err := st.SendOffer(ctx, "c1", "carrier", 850, "final: 850")
	if err != nil {
		t.Fatal(err)
	}
	if req2.ID != req1.ID {
		t.Fatal("expected upsert of the unique (cargo, transporter) pair")
	}
	if req2.Price != 850 {
		t.Fatalf("expected updated price, got %f", req2.Price)
	}
	msgs, _ := st.ListMessages(ctx, "c1", time.Time{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 chat messages, got %d", len(msgs))
	}
}

func TestSendOfferRejectsOwnerAndBadPrice(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	if _, _, err := st.SendOffer(ctx, "c1", "shipper", 900, "my own cargo"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("owner bid must be forbidden, got %v", err)
	}
	var ve *models.ValidationError
	if _, _, err := st.SendOffer(ctx, "c1", "carrier", -5, "negative"); !errors.As(err, &ve) {
		t.Fatalf("negative price must be a validation error, got %v", err)
	}
	if _, _, err := st.SendOffer(ctx, "ghost", "carrier", 900, "hello"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing cargo must be not found, got %v", err)
	}
}

func TestListMessagesSince(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	cutoff := time.Now()
	old := &models.ChatMessage{CargoOfferID: "c1", SenderID: "carrier", Content: "old", CreatedAt: cutoff.Add(-time.Hour)}
	fresh := &models.ChatMessage{CargoOfferID: "c1", SenderID: "shipper", Content: "fresh", CreatedAt: cutoff.Add(time.Minute)}
	if err := st.CreateMessage(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateMessage(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	msgs, err := st.ListMessages(ctx, "c1", cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Fatalf("expected only the fresh message, got %+v", msgs)
	}
}
