package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/fleetopia/internal/models"
)

// Tracker is the live vehicle-position index consumed by the matcher and
// the telemetry pipeline. Positions are explicit shared state with owner
// and timestamp, never process-global memory: they survive restarts when
// backed by Redis and stay consistent across instances.
type Tracker interface {
	Upsert(p models.VehiclePosition)
	Position(vehicleID string) (models.Coord, bool)
	Nearby(lat, lng float64, limit int) []models.VehiclePosition
}

// Index is the in-memory Tracker used for local runs and tests.
type Index struct {
	mu        sync.RWMutex
	positions map[string]models.VehiclePosition
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]models.VehiclePosition)}
}

func (g *Index) Upsert(p models.VehiclePosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	g.positions[p.VehicleID] = p
}

func (g *Index) Position(vehicleID string) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[vehicleID]
	if !ok {
		return models.Coord{}, false
	}
	return p.Loc, true
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lng float64, limit int) []models.VehiclePosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.VehiclePosition
		dist float64
	}
	arr := make([]pair, 0, len(g.positions))
	for _, p := range g.positions {
		dist := Haversine(lat, lng, p.Loc.Lat, p.Loc.Lng)
		arr = append(arr, pair{p, dist})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.VehiclePosition, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is Haversine between two coords in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}
