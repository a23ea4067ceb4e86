// Package zarr reads zarr v2 groups: consolidated metadata, dtypes, the
// codec pipeline and chunked orthogonal selections over arrays.
package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for consolidated metadata
	MTMetadata MetaType = ".zmetadata"
)

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// KeyMetaType splits a consolidated key such as "precip/.zarray" into its
// node path and metadata type. Relies on every key name being 7 characters.
func KeyMetaType(s string) (node string, mt MetaType, ok bool) {
	if len(s) < 7 {
		return "", mt, false
	}
	mt = MetaType(s[len(s)-7:])
	if _, ok = metaTypes[mt]; !ok {
		return "", mt, false
	}
	return strings.TrimSuffix(s[:len(s)-7], "/"), mt, true
}

type Attributes map[string]any

// CodecConfig is a numcodecs codec configuration. It always carries "id".
type CodecConfig map[string]any

func (c CodecConfig) ID() string {
	id, _ := c["id"].(string)
	return id
}

// String returns the string option key, or "".
func (c CodecConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// ArrayMeta is the content of a ".zarray" key.
type ArrayMeta struct {
	ZarrFormat int `json:"zarr_format"`
	// Length of each dimension of the array.
	Shape []int `json:"shape"`
	// Length of each dimension of a chunk. All chunks share one shape.
	Chunks     []int         `json:"chunks"`
	Dtype      Dtype         `json:"dtype"`
	Compressor CodecConfig   `json:"compressor"`
	Filters    []CodecConfig `json:"filters"`
	// Default value for uninitialized portions of the array, or null.
	FillValue FillValue `json:"fill_value"`
	// "C" (row-major) or "F" (column-major) layout of bytes within a chunk.
	Order string `json:"order"`
	// "." or "/", separating chunk indices in chunk keys. Default ".".
	DimensionSeparator string `json:"dimension_separator"`
}

func (m *ArrayMeta) validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for i, c := range m.Chunks {
		if c <= 0 {
			return fmt.Errorf("chunk length %d on dimension %d", c, i)
		}
	}
	switch m.Order {
	case "", "C", "F":
	default:
		return fmt.Errorf("unsupported order %q", m.Order)
	}
	switch m.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("unsupported dimension_separator %q", m.DimensionSeparator)
	}
	return nil
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// FillValue is a decoded fill_value. Set is false for a null fill value.
type FillValue struct {
	Set   bool
	Value float64
}

func (f *FillValue) UnmarshalJSON(d []byte) error {
	var v any
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = FillValue{}
	case float64:
		*f = FillValue{Set: true, Value: x}
	case bool:
		*f = FillValue{Set: true}
		if x {
			f.Value = 1
		}
	case string:
		switch x {
		case FillValueNaN:
			*f = FillValue{Set: true, Value: math.NaN()}
		case FillValueInfinity:
			*f = FillValue{Set: true, Value: math.Inf(1)}
		case FillValueNegativeInfinity:
			*f = FillValue{Set: true, Value: math.Inf(-1)}
		default:
			// base64 fill values of byte string dtypes carry no numeric meaning
			*f = FillValue{}
		}
	default:
		return fmt.Errorf("unsupported fill_value %s", string(d))
	}
	return nil
}

func (f FillValue) MarshalJSON() ([]byte, error) {
	switch {
	case !f.Set:
		return []byte("null"), nil
	case math.IsNaN(f.Value):
		return []byte(`"NaN"`), nil
	case math.IsInf(f.Value, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f.Value, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f.Value)
}

// Matches reports whether v is the fill value.
func (f FillValue) Matches(v float64) bool {
	if !f.Set {
		return false
	}
	if math.IsNaN(f.Value) {
		return math.IsNaN(v)
	}
	return v == f.Value
}

// ConsolidatedMetadata is the content of a ".zmetadata" key.
type ConsolidatedMetadata struct {
	ConsolidatedFormat int
	Groups             map[string]struct{}
	Arrays             map[string]*ArrayMeta
	Attrs              map[string]Attributes
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	if cd.ConsolidatedFormat != 1 {
		return fmt.Errorf("unsupported zarr_consolidated_format %d", cd.ConsolidatedFormat)
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Groups:             map[string]struct{}{},
		Arrays:             map[string]*ArrayMeta{},
		Attrs:              map[string]Attributes{},
	}

	for key, data := range cd.Metadata {
		node, kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consolidated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			if err := arr.validate(); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Arrays[node] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Attrs[node] = attr
		case MTGroup:
			cm.Groups[node] = struct{}{}
		}
	}

	*m = cm
	return nil
}

// Dimensions returns the xarray dimension names recorded for an array.
func (a Attributes) Dimensions() ([]string, bool) {
	raw, ok := a["_ARRAY_DIMENSIONS"].([]any)
	if !ok {
		return nil, false
	}
	dims := make([]string, 0, len(raw))
	for _, d := range raw {
		s, ok := d.(string)
		if !ok {
			return nil, false
		}
		dims = append(dims, s)
	}
	return dims, true
}

// Float returns a numeric attribute.
func (a Attributes) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case []any:
		// netCDF-style single element lists
		if len(v) == 1 {
			f, ok := v[0].(float64)
			return f, ok
		}
	}
	return 0, false
}
