// Package route fetches drawable polylines between an origin and a
// destination. The resolver is display-only: trip transitions never wait on
// it, and a failed lookup degrades to a trip without a route.
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
)

// Resolver turns an origin/destination pair into an ordered polyline.
type Resolver interface {
	Resolve(ctx context.Context, origin, dest models.Coord) ([]models.Coord, error)
}

// OSRMClient fetches route geometry from an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (o *OSRMClient) Resolve(ctx context.Context, origin, dest models.Coord) ([]models.Coord, error) {
	// GeoJSON geometry gives the full drawable polyline, not just duration.
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][2]float64 `json:"coordinates"` // [lng, lat]
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm no route: %v", out.Code)
	}
	coords := out.Routes[0].Geometry.Coordinates
	line := make([]models.Coord, len(coords))
	for i, c := range coords {
		line[i] = models.Coord{Lat: c[1], Lng: c[0]}
	}
	return line, nil
}

// Cache memoizes resolved polylines per origin/destination pair with a TTL.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	line []models.Coord
	ts   time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b models.Coord) ([]models.Coord, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, false
	}
	return e.line, true
}

func (c *Cache) Set(a, b models.Coord, line []models.Coord) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{line: line, ts: time.Now()}
	c.mu.Unlock()
}

// CachingResolver consults the cache before the inner resolver.
type CachingResolver struct {
	Inner Resolver
	Cache *Cache
}

func (r *CachingResolver) Resolve(ctx context.Context, origin, dest models.Coord) ([]models.Coord, error) {
	if line, ok := r.Cache.Get(origin, dest); ok {
		return line, nil
	}
	line, err := r.Inner.Resolve(ctx, origin, dest)
	if err != nil {
		return nil, err
	}
	r.Cache.Set(origin, dest, line)
	return line, nil
}
