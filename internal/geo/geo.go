// Package geo provides WGS-84 locations, great-circle distance and the
// grid-cell advisory locks that serialize deduplication per spatial
// neighborhood.
package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Mean earth radius in meters (IUGG).
const earthRadiusM = 6371008.8

const metersPerLatDegree = 111320.0

// Location is a WGS-84 coordinate pair in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return fmt.Errorf("location contains NaN")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %g out of range [-90, 90]", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %g out of range [-180, 180]", l.Lon)
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// Grid buckets locations into square cells whose edge is a multiple of the
// dedup radius, so any two points within the radius fall into the same cell
// or adjacent cells.
type Grid struct {
	cellDeg float64
}

// NewGrid builds a grid for the given dedup radius. The cell edge is four
// radii of latitude; locking a cell plus its eight neighbors therefore
// covers every point within the radius at latitudes where roads exist.
func NewGrid(radiusM float64) Grid {
	return Grid{cellDeg: 4 * radiusM / metersPerLatDegree}
}

// Cell returns the key of the cell containing l.
func (g Grid) Cell(l Location) string {
	x := int64(math.Floor(l.Lat / g.cellDeg))
	y := int64(math.Floor(l.Lon / g.cellDeg))
	return fmt.Sprintf("%d:%d", x, y)
}

// Neighborhood returns the keys of l's cell and its eight neighbors, sorted
// so that callers acquire locks in a stable order.
func (g Grid) Neighborhood(l Location) []string {
	cx := int64(math.Floor(l.Lat / g.cellDeg))
	cy := int64(math.Floor(l.Lon / g.cellDeg))

	keys := make([]string, 0, 9)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			keys = append(keys, fmt.Sprintf("%d:%d", cx+dx, cy+dy))
		}
	}
	sort.Strings(keys)
	return keys
}

// BoundingBox returns the lat/lon bounds of a circle of radiusM around l,
// for use as a cheap store-level prefilter before exact distance checks.
func BoundingBox(l Location, radiusM float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusM / metersPerLatDegree
	cosLat := math.Cos(l.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := radiusM / (metersPerLatDegree * cosLat)
	return l.Lat - dLat, l.Lat + dLat, l.Lon - dLon, l.Lon + dLon
}

// RegionLock hands out advisory mutexes keyed by grid cell. Lock acquires
// the given keys in the order provided; callers must pass sorted key sets
// (Grid.Neighborhood does) to stay deadlock-free.
type RegionLock struct {
	mu    sync.Mutex
	cells map[string]*sync.Mutex
}

func NewRegionLock() *RegionLock {
	return &RegionLock{cells: make(map[string]*sync.Mutex)}
}

func (r *RegionLock) Lock(keys []string) (unlock func()) {
	locked := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		r.mu.Lock()
		m, ok := r.cells[key]
		if !ok {
			m = &sync.Mutex{}
			r.cells[key] = m
		}
		r.mu.Unlock()

		m.Lock()
		locked = append(locked, m)
	}

	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}
