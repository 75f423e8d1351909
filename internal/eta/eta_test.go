package eta

import (
	"testing"
	"time"

	"github.com/example/fleetopia/internal/models"
)

func TestEstimateSecondsScalesWithSpeed(t *testing.T) {
	a := models.Coord{Lat: 52.5, Lng: 13.4}
	b := models.Coord{Lat: 52.6, Lng: 13.4} // ~11 km
	slow := EstimateSeconds(a, b, 30)
	fast := EstimateSeconds(a, b, 60)
	if slow <= fast {
		t.Fatalf("slower speed must yield longer eta: slow=%f fast=%f", slow, fast)
	}
	if fast <= 0 {
		t.Fatal("eta must be positive for distinct points")
	}
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a := models.Coord{Lat: 1, Lng: 2}
	b := models.Coord{Lat: 3, Lng: 4}
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set(a, b, 120)
	if v, ok := c.Get(a, b); !ok || v != 120 {
		t.Fatalf("expected hit with 120, got %f ok=%v", v, ok)
	}
	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected expiry")
	}
}
