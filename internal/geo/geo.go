package geo

import (
	"math"
	"sort"
	"strings"

	"github.com/xaenox/rescue-bot/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

const (
	// BroadLimit caps category-wide searches.
	BroadLimit = 10
	// UserLimit caps lists surfaced to an end user.
	UserLimit = 5
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// rounding can push h a hair over 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Index is a read-only facility lookup. Entries are never mutated; every
// search returns copies with DistanceKm filled in.
type Index struct {
	facilities []models.Facility
	byID       map[string]int
}

// NewIndex builds an index over facilities in catalog order.
func NewIndex(facilities []models.Facility) *Index {
	idx := &Index{
		facilities: make([]models.Facility, len(facilities)),
		byID:       make(map[string]int, len(facilities)),
	}
	copy(idx.facilities, facilities)
	for i, f := range idx.facilities {
		idx.byID[string(f.Category)+"/"+f.ID] = i
	}
	return idx
}

// Len returns the number of facilities.
func (idx *Index) Len() int {
	return len(idx.facilities)
}

// Get looks a facility up by category and id.
func (idx *Index) Get(category models.Category, id string) (models.Facility, bool) {
	i, ok := idx.byID[string(category)+"/"+id]
	if !ok {
		return models.Facility{}, false
	}
	return idx.facilities[i], true
}

// Category returns all facilities of the given category in catalog order.
func (idx *Index) Category(category models.Category) []models.Facility {
	var out []models.Facility
	for _, f := range idx.facilities {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of facilities per category.
func (idx *Index) Count() map[models.Category]int {
	out := make(map[models.Category]int)
	for _, f := range idx.facilities {
		out[f.Category]++
	}
	return out
}

type hit struct {
	f    models.Facility
	dist float64
	has  bool
}

func withDistance(f models.Facility, dist float64) models.Facility {
	d := math.Round(dist*100) / 100
	f.DistanceKm = &d
	return f
}

func matchesCategory(f models.Facility, categories []models.Category) bool {
	if len(categories) == 0 {
		return true
	}
	for _, c := range categories {
		if f.Category == c {
			return true
		}
	}
	return false
}

// Nearby returns facilities within radiusKm of p, closest first. Facilities
// without coordinates are skipped. Equal distances keep catalog order.
func (idx *Index) Nearby(p Point, radiusKm float64, categories ...models.Category) []models.Facility {
	var hits []hit
	for _, f := range idx.facilities {
		if !f.HasCoordinates() || !matchesCategory(f, categories) {
			continue
		}
		d := Distance(p, Point{Lat: *f.Latitude, Lon: *f.Longitude})
		if d <= radiusKm {
			hits = append(hits, hit{f: f, dist: d, has: true})
		}
	}
	return sortHits(hits)
}

// NearbyOrAll is Nearby capped at limit, falling back to every facility of
// the categories ordered by distance when nothing is inside the radius.
func (idx *Index) NearbyOrAll(p Point, radiusKm float64, limit int, categories ...models.Category) []models.Facility {
	out := idx.Nearby(p, radiusKm, categories...)
	if len(out) == 0 {
		var hits []hit
		for _, f := range idx.facilities {
			if matchesCategory(f, categories) {
				hits = append(hits, distanceHit(f, &p))
			}
		}
		out = sortHits(hits)
	}
	return capped(out, limit)
}

// ByType returns facilities whose type, category or capabilities match any of
// types. With a point the result is ordered by distance, otherwise catalog
// order is kept.
func (idx *Index) ByType(types []string, p *Point, limit int, categories ...models.Category) []models.Facility {
	var hits []hit
	for _, f := range idx.facilities {
		if !matchesCategory(f, categories) || !matchesType(f, types) {
			continue
		}
		hits = append(hits, distanceHit(f, p))
	}
	if p == nil {
		out := make([]models.Facility, 0, len(hits))
		for _, h := range hits {
			out = append(out, h.f)
		}
		return capped(out, limit)
	}
	return capped(sortHits(hits), limit)
}

func distanceHit(f models.Facility, p *Point) hit {
	if p == nil || !f.HasCoordinates() {
		return hit{f: f}
	}
	return hit{f: f, dist: Distance(*p, Point{Lat: *f.Latitude, Lon: *f.Longitude}), has: true}
}

func matchesType(f models.Facility, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		t = strings.ToLower(t)
		if strings.EqualFold(f.Type, t) || strings.EqualFold(string(f.Category), t) {
			return true
		}
		for _, c := range f.Capabilities {
			if strings.Contains(strings.ToLower(c), t) {
				return true
			}
		}
	}
	return false
}

// sortHits orders by distance with ungeocoded entries last, stable on catalog order.
func sortHits(hits []hit) []models.Facility {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].has != hits[j].has {
			return hits[i].has
		}
		return hits[i].dist < hits[j].dist
	})
	out := make([]models.Facility, 0, len(hits))
	for _, h := range hits {
		if h.has {
			out = append(out, withDistance(h.f, h.dist))
		} else {
			out = append(out, h.f)
		}
	}
	return out
}

func capped(fs []models.Facility, limit int) []models.Facility {
	if limit > 0 && len(fs) > limit {
		return fs[:limit]
	}
	return fs
}
