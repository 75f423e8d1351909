package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleetopia/internal/models"
)

// RedisTracker implements Tracker on Redis GEO commands so positions are
// shared across API instances and the consumer.
type RedisTracker struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisTracker(addr, password, key string) *RedisTracker {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTracker{client: c, key: key, ctx: context.Background()}
}

func (r *RedisTracker) Upsert(p models.VehiclePosition) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lng, Latitude: p.Loc.Lat, Name: p.VehicleID}).Result()
	meta := map[string]interface{}{
		"speed_kmh": strconv.FormatFloat(p.SpeedKmh, 'f', 1, 64),
		"updated":   time.Now().Format(time.RFC3339),
	}
	if p.Status != "" {
		meta["status"] = p.Status
	}
	_ = r.client.HSet(r.ctx, metaKey(p.VehicleID), meta).Err()
}

func (r *RedisTracker) Position(vehicleID string) (models.Coord, bool) {
	res, err := r.client.GeoPos(r.ctx, r.key, vehicleID).Result()
	if err != nil || len(res) == 0 || res[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: res[0].Latitude, Lng: res[0].Longitude}, true
}

func (r *RedisTracker) Nearby(lat, lng float64, limit int) []models.VehiclePosition {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{Radius: 200, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.VehiclePosition, 0, len(res))
	for _, g := range res {
		p := models.VehiclePosition{VehicleID: g.Name}
		p.Loc.Lat = g.Latitude
		p.Loc.Lng = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["speed_kmh"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					p.SpeedKmh = f
				}
			}
			p.Status = m["status"]
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					p.RecordedAt = t
				}
			}
		}
		out = append(out, p)
	}
	return out
}

func metaKey(id string) string { return "vehicle:meta:" + id }
