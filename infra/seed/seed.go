// Package seed loads the initial fleet from a YAML file.
//
//	units:
//	  - id: amb-1
//	    label: Ambulance 1
//	    lat: 19.0760
//	    lng: 72.8777
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medidispatch/dispatch-core/core/model"
)

type file struct {
	Units []entry `yaml:"units"`
}

type entry struct {
	ID    string  `yaml:"id"`
	Label string  `yaml:"label"`
	Lat   float64 `yaml:"lat"`
	Lng   float64 `yaml:"lng"`
}

// Registrar adds units to the fleet.
type Registrar interface {
	RegisterUnit(ctx context.Context, u model.Unit) (model.Unit, error)
}

// Parse decodes a seed document. Unknown fields and duplicate ids are
// rejected.
func Parse(r io.Reader) ([]model.Unit, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Units))
	units := make([]model.Unit, 0, len(f.Units))
	for i, e := range f.Units {
		u := model.Unit{ID: e.ID, Label: e.Label, Location: model.Coordinate{Lat: e.Lat, Lng: e.Lng}, State: model.UnitAvailable}
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("seed unit %d: %w", i, err)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("seed unit %s listed twice: %w", u.ID, model.ErrInvalidInput)
		}
		seen[u.ID] = struct{}{}
		units = append(units, u)
	}
	return units, nil
}

// Load parses the seed file at path.
func Load(path string) ([]model.Unit, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(b))
}

// Apply registers every unit and returns how many were accepted. Units
// already known keep their state; only label and position are refreshed.
func Apply(ctx context.Context, reg Registrar, units []model.Unit) (int, error) {
	n := 0
	for _, u := range units {
		if _, err := reg.RegisterUnit(ctx, u); err != nil {
			return n, fmt.Errorf("register %s: %w", u.ID, err)
		}
		n++
	}
	return n, nil
}

// Marshal renders units in the seed format.
func Marshal(units []model.Unit) ([]byte, error) {
	f := file{Units: make([]entry, 0, len(units))}
	for _, u := range units {
		f.Units = append(f.Units, entry{ID: u.ID, Label: u.Label, Lat: u.Location.Lat, Lng: u.Location.Lng})
	}
	return yaml.Marshal(f)
}
