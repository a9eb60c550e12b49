package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/xaenox/rescue-bot/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed karachi.yaml
var defaultCatalog []byte

// Catalog is the static facility and unit dataset loaded once at startup.
type Catalog struct {
	Facilities []models.Facility
	Units      []models.Unit
}

type document struct {
	Hospitals      []models.Facility `yaml:"hospitals"`
	FireStations   []models.Facility `yaml:"fire_stations"`
	PoliceStations []models.Facility `yaml:"police_stations"`
	Units          []models.Unit     `yaml:"units"`
}

// Load reads a catalog from path, or the embedded Karachi catalog when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading catalog: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document. Facility categories come from the
// section they are listed under.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}

	c := &Catalog{Units: doc.Units}
	sections := []struct {
		category models.Category
		entries  []models.Facility
	}{
		{models.CategoryMedical, doc.Hospitals},
		{models.CategoryFire, doc.FireStations},
		{models.CategoryPolice, doc.PoliceStations},
	}

	for _, s := range sections {
		seen := make(map[string]bool, len(s.entries))
		for i, f := range s.entries {
			if f.ID == "" {
				f.ID = fmt.Sprintf("%s_%d", s.category, i+1)
			}
			if seen[f.ID] {
				return nil, fmt.Errorf("duplicate %s facility id %q", s.category, f.ID)
			}
			seen[f.ID] = true
			if (f.Latitude == nil) != (f.Longitude == nil) {
				return nil, fmt.Errorf("facility %q has only one coordinate", f.ID)
			}
			f.Category = s.category
			f.DistanceKm = nil
			c.Facilities = append(c.Facilities, f)
		}
	}

	units := make(map[string]bool, len(c.Units))
	for _, u := range c.Units {
		if !u.Category.Valid() || u.Category == models.CategoryGeneral {
			return nil, fmt.Errorf("unit %q has invalid category %q", u.ID, u.Category)
		}
		if units[u.ID] {
			return nil, fmt.Errorf("duplicate unit id %q", u.ID)
		}
		units[u.ID] = true
	}

	return c, nil
}
