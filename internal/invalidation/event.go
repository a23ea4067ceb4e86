// Package invalidation defines the dataset change events that drop cached
// metadata and query results.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

type Op string

const (
	// OpUpdate rewrites existing values, possibly only within an area.
	OpUpdate Op = "update"
	// OpAppend adds time steps.
	OpAppend Op = "append"
	// OpDelete removes the dataset.
	OpDelete Op = "delete"
)

// Event announces a change to one dataset. Version increases with every
// change a producer publishes for the dataset; BBox and Cells narrow the
// change to an area.
type Event struct {
	Version uint64    `json:"version"`
	Op      Op        `json:"op"`
	Dataset string    `json:"dataset"`
	TS      time.Time `json:"ts"`
	BBox    *BBox     `json:"bbox,omitempty"`
	Cells   []string  `json:"h3_cells,omitempty"`
}

// BBox is a lat/lon envelope in degrees. MinLon > MaxLon crosses the
// antimeridian.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

func (b BBox) Model() model.BBox {
	return model.BBox{MinLat: b.MinLat, MinLon: b.MinLon, MaxLat: b.MaxLat, MaxLon: b.MaxLon}
}

// Decode parses and validates one event.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return errors.New("version must be >= 1")
	}
	switch e.Op {
	case OpUpdate, OpAppend, OpDelete:
	default:
		return fmt.Errorf("op must be update|append|delete, got %q", e.Op)
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return errors.New("dataset is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	if e.Op == OpDelete && (e.BBox != nil || len(e.Cells) > 0) {
		return errors.New("delete applies to the whole dataset; bbox and h3_cells must be empty")
	}
	if e.BBox != nil {
		bb := *e.BBox
		if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
			return errors.New("bbox longitude out of range")
		}
		if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
			return errors.New("bbox latitude out of range")
		}
		if bb.MinLat > bb.MaxLat {
			return errors.New("bbox must satisfy min_lat <= max_lat")
		}
	}
	for _, c := range e.Cells {
		if strings.TrimSpace(c) == "" {
			return errors.New("h3_cells must not contain empty cells")
		}
	}
	return nil
}

// Area reports whether the event is limited to part of the dataset.
func (e Event) Area() bool { return e.BBox != nil || len(e.Cells) > 0 }
