package cities

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrCityNotFound is returned when a slug has no registry entry.
var ErrCityNotFound = errors.New("city not found")

// City is one registry entry. Latitude drives the solar calculator; the IANA
// timezone anchors wall-clock time for ambient rendering.
type City struct {
	Slug      string  `json:"slug" yaml:"slug"`
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Timezone  string  `json:"timezone" yaml:"timezone"`

	loc *time.Location
}

// Location returns the city's time.Location, resolved at registry load.
func (c City) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Registry is an immutable slug-indexed city catalog loaded at startup.
type Registry struct {
	byID map[string]City
	all  []City
}

type registryFile struct {
	Cities []City `yaml:"cities"`
}

// Load reads and validates the city registry from a YAML file. Slugs are
// lowercased; duplicate slugs, out-of-range coordinates and unknown timezones
// are configuration errors.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cities file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML. Split from Load for tests.
func Parse(data []byte) (*Registry, error) {
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse cities file: %w", err)
	}
	if len(rf.Cities) == 0 {
		return nil, fmt.Errorf("cities file contains no cities")
	}

	byID := make(map[string]City, len(rf.Cities))
	all := make([]City, 0, len(rf.Cities))
	for i, c := range rf.Cities {
		c.Slug = strings.ToLower(strings.TrimSpace(c.Slug))
		if c.Slug == "" {
			return nil, fmt.Errorf("city %d: slug is required", i)
		}
		if _, dup := byID[c.Slug]; dup {
			return nil, fmt.Errorf("duplicate city slug %q", c.Slug)
		}
		if c.Name == "" {
			c.Name = c.Slug
		}
		if c.Latitude < -90 || c.Latitude > 90 {
			return nil, fmt.Errorf("city %q: latitude %v out of range", c.Slug, c.Latitude)
		}
		if c.Longitude < -180 || c.Longitude > 180 {
			return nil, fmt.Errorf("city %q: longitude %v out of range", c.Slug, c.Longitude)
		}
		if c.Timezone == "" {
			c.Timezone = "UTC"
		}
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("city %q: timezone: %w", c.Slug, err)
		}
		c.loc = loc
		byID[c.Slug] = c
		all = append(all, c)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	return &Registry{byID: byID, all: all}, nil
}

// Get returns the city for a slug (case-insensitive), or ErrCityNotFound.
func (r *Registry) Get(slug string) (City, error) {
	c, ok := r.byID[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return City{}, fmt.Errorf("%w: %s", ErrCityNotFound, slug)
	}
	return c, nil
}

// All returns every city ordered by slug.
func (r *Registry) All() []City {
	return r.all
}

// Slugs returns every slug ordered alphabetically.
func (r *Registry) Slugs() []string {
	out := make([]string, len(r.all))
	for i, c := range r.all {
		out[i] = c.Slug
	}
	return out
}
