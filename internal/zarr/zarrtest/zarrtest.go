// Package zarrtest writes small zarr v2 groups for tests.
package zarrtest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

// Setter receives the keys of a written group.
type Setter interface {
	Set(key string, val []byte)
}

// Dir writes keys as files below a directory.
type Dir string

func (d Dir) Set(key string, val []byte) {
	p := filepath.Join(string(d), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(p, val, 0o644); err != nil {
		panic(err)
	}
}

// Array describes one array. Exactly one of Floats and Ints holds the
// values, in C order.
type Array struct {
	Name       string
	Dims       []string
	Shape      []int
	Chunks     []int // defaults to Shape
	Dtype      string
	Fill       any
	Compressor zarr.CodecConfig
	Filters    []zarr.CodecConfig
	Attrs      map[string]any
	Floats     []float64
	Ints       []int64
	// SkipChunks leaves the listed chunk keys unwritten.
	SkipChunks map[string]bool
}

type Group struct {
	Attrs  map[string]any
	Arrays []Array
	// Codec options used to encode chunks, e.g. the encryption key.
	Options zarr.CodecOptions
	// NoConsolidated skips writing .zmetadata.
	NoConsolidated bool
}

// Write encodes the group into s.
func (g *Group) Write(s Setter) error {
	meta := map[string]any{".zgroup": map[string]any{"zarr_format": 2}}
	attrs := g.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	meta[".zattrs"] = attrs
	if err := setJSON(s, ".zgroup", meta[".zgroup"]); err != nil {
		return err
	}
	if err := setJSON(s, ".zattrs", attrs); err != nil {
		return err
	}
	for _, a := range g.Arrays {
		am, aa, err := g.writeArray(s, a)
		if err != nil {
			return fmt.Errorf("array %q: %w", a.Name, err)
		}
		meta[a.Name+"/.zarray"] = am
		meta[a.Name+"/.zattrs"] = aa
	}
	if g.NoConsolidated {
		return nil
	}
	return setJSON(s, ".zmetadata", map[string]any{
		"zarr_consolidated_format": 1,
		"metadata":                 meta,
	})
}

func setJSON(s Setter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Set(key, b)
	return nil
}

func (g *Group) writeArray(s Setter, a Array) (map[string]any, map[string]any, error) {
	chunks := a.Chunks
	if chunks == nil {
		chunks = a.Shape
	}
	dt, err := zarr.ParseDtype(a.Dtype)
	if err != nil {
		return nil, nil, err
	}
	filters := make([]any, 0, len(a.Filters))
	for _, f := range a.Filters {
		filters = append(filters, map[string]any(f))
	}
	var comp any
	if a.Compressor != nil {
		comp = map[string]any(a.Compressor)
	}
	am := map[string]any{
		"zarr_format": 2,
		"shape":       a.Shape,
		"chunks":      chunks,
		"dtype":       a.Dtype,
		"compressor":  comp,
		"filters":     nil,
		"fill_value":  a.Fill,
		"order":       "C",
	}
	if len(filters) > 0 {
		am["filters"] = filters
	}
	aa := map[string]any{"_ARRAY_DIMENSIONS": a.Dims}
	for k, v := range a.Attrs {
		aa[k] = v
	}
	if err := setJSON(s, a.Name+"/.zarray", am); err != nil {
		return nil, nil, err
	}
	if err := setJSON(s, a.Name+"/.zattrs", aa); err != nil {
		return nil, nil, err
	}

	var encoders []zarr.Encoder
	for _, f := range a.Filters {
		e, err := encoder(f, g.Options)
		if err != nil {
			return nil, nil, err
		}
		encoders = append(encoders, e)
	}
	if a.Compressor != nil {
		e, err := encoder(a.Compressor, g.Options)
		if err != nil {
			return nil, nil, err
		}
		encoders = append(encoders, e)
	}

	nchunks := make([]int, len(a.Shape))
	for d := range a.Shape {
		nchunks[d] = (a.Shape[d] + chunks[d] - 1) / chunks[d]
	}
	return am, aa, eachIndex(nchunks, func(ch []int) error {
		key := chunkKey(ch)
		if a.SkipChunks[key] {
			return nil
		}
		raw := encodeChunk(a, dt, chunks, ch)
		for _, e := range encoders {
			if raw, err = e.Encode(raw); err != nil {
				return err
			}
		}
		s.Set(a.Name+"/"+key, raw)
		return nil
	})
}

func encoder(cfg zarr.CodecConfig, opts zarr.CodecOptions) (zarr.Encoder, error) {
	c, err := zarr.NewCodec(cfg, opts)
	if err != nil {
		return nil, err
	}
	e, ok := c.(zarr.Encoder)
	if !ok {
		return nil, fmt.Errorf("codec %q cannot encode", cfg.ID())
	}
	return e, nil
}

func chunkKey(ch []int) string {
	if len(ch) == 0 {
		return "0"
	}
	key := ""
	for i, c := range ch {
		if i > 0 {
			key += "."
		}
		key += fmt.Sprint(c)
	}
	return key
}

// encodeChunk lays out one full-size chunk; cells past the array edge hold
// the fill value or zero.
func encodeChunk(a Array, dt zarr.Dtype, chunks, ch []int) []byte {
	n := 1
	for _, c := range chunks {
		n *= c
	}
	buf := make([]byte, n*dt.ByteSize)
	bo := binary.ByteOrder(binary.LittleEndian)
	if dt.ByteOrder == zarr.BOBigEndian {
		bo = binary.BigEndian
	}
	strides := make([]int, len(a.Shape))
	acc := 1
	for d := len(a.Shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= a.Shape[d]
	}
	fill, _ := a.Fill.(float64)
	if a.Fill == "NaN" {
		fill = math.NaN()
	}
	i := 0
	_ = eachIndex(chunks, func(local []int) error {
		src, inside := 0, true
		for d, l := range local {
			g := ch[d]*chunks[d] + l
			if g >= a.Shape[d] {
				inside = false
				break
			}
			src += g * strides[d]
		}
		p := buf[i*dt.ByteSize : (i+1)*dt.ByteSize]
		i++
		switch {
		case a.Ints != nil:
			var v int64
			if inside {
				v = a.Ints[src]
			}
			putInt(bo, p, v)
		case dt.BasicType == zarr.BTFloatingPoint:
			v := fill
			if inside {
				v = a.Floats[src]
			}
			if dt.ByteSize == 4 {
				bo.PutUint32(p, math.Float32bits(float32(v)))
			} else {
				bo.PutUint64(p, math.Float64bits(v))
			}
		default:
			v := int64(fill)
			if inside {
				v = int64(a.Floats[src])
			}
			putInt(bo, p, v)
		}
		return nil
	})
	return buf
}

func putInt(bo binary.ByteOrder, p []byte, v int64) {
	switch len(p) {
	case 1:
		p[0] = byte(v)
	case 2:
		bo.PutUint16(p, uint16(v))
	case 4:
		bo.PutUint32(p, uint32(v))
	default:
		bo.PutUint64(p, uint64(v))
	}
}

func eachIndex(lens []int, fn func([]int) error) error {
	for _, l := range lens {
		if l == 0 {
			return nil
		}
	}
	pos := make([]int, len(lens))
	for {
		if err := fn(pos); err != nil {
			return err
		}
		d := len(lens) - 1
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < lens[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// Climate builds a group with float32 latitude/longitude coordinates, an
// int64 "hours since 1970-01-01" time coordinate and a float32 variable
// computed by fn over (time, latitude, longitude). With no times the
// variable is static over (latitude, longitude) and fn sees t == 0.
func Climate(variable string, lats, lons []float64, times []time.Time, fn func(t, i, j int) float64) *Group {
	steps := max(1, len(times))
	vals := make([]float64, 0, steps*len(lats)*len(lons))
	for t := 0; t < steps; t++ {
		for i := range lats {
			for j := range lons {
				vals = append(vals, fn(t, i, j))
			}
		}
	}
	chunk := func(n, c int) int { return max(1, min(n, c)) }
	v := Array{
		Name:       variable,
		Dims:       []string{"latitude", "longitude"},
		Shape:      []int{len(lats), len(lons)},
		Chunks:     []int{chunk(len(lats), 2), chunk(len(lons), 3)},
		Dtype:      "<f4",
		Fill:       "NaN",
		Compressor: zarr.CodecConfig{"id": "zlib", "level": 1},
		Floats:     vals,
	}
	g := &Group{
		Attrs: map[string]any{
			"name":                variable,
			"spatial resolution":  1.0,
			"unit of measurement": "mm",
		},
		Arrays: []Array{
			{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{len(lats)}, Dtype: "<f4", Fill: "NaN", Floats: lats},
			{Name: "longitude", Dims: []string{"longitude"}, Shape: []int{len(lons)}, Dtype: "<f4", Fill: "NaN", Floats: lons},
		},
	}
	if len(times) > 0 {
		hours := make([]int64, len(times))
		for k, t := range times {
			hours[k] = int64(t.Sub(time.Unix(0, 0).UTC()) / time.Hour)
		}
		g.Arrays = append(g.Arrays, Array{
			Name: "time", Dims: []string{"time"}, Shape: []int{len(times)}, Dtype: "<i8", Ints: hours,
			Attrs: map[string]any{"units": "hours since 1970-01-01", "calendar": "proleptic_gregorian"},
		})
		v.Dims = append([]string{"time"}, v.Dims...)
		v.Shape = append([]int{len(times)}, v.Shape...)
		v.Chunks = append([]int{chunk(len(times), 5)}, v.Chunks...)
	}
	g.Arrays = append(g.Arrays, v)
	return g
}

// Memory writes g into a new memory store.
func Memory(g *Group) (*zarr.MemoryStore, error) {
	s := zarr.NewMemoryStore()
	if err := g.Write(s); err != nil {
		return nil, err
	}
	return s, nil
}
