package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/mohammed-shakir/geotemporal-query/internal/catalog"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
	"github.com/mohammed-shakir/geotemporal-query/internal/pipeline"
)

// NetCDF classic format, 64-bit offset variant.
const (
	ncMagic     = "CDF\x02"
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C

	ncChar   = 2
	ncDouble = 6
)

const timeUnits = "seconds since 1970-01-01 00:00:00"

// global attributes that are nested or lists in zarr and have no NetCDF form
var droppedAttrs = map[string]bool{
	"bbox":              true,
	"date range":        true,
	"tags":              true,
	"finalization date": true,
	updateRangeAttr:     true,
}

type ncAttr struct {
	name string
	text string
	num  []float64
	// isText selects text over num
	isText bool
}

type ncVar struct {
	name   string
	dimIDs []int
	attrs  []ncAttr
	values []float64
	begin  int64
}

func (v *ncVar) vsize() int64 { return int64(len(v.values)) * 8 }

type ncDim struct {
	name string
	size int
}

// NetCDF encodes the result as a NetCDF classic file: one coordinate
// variable per dimension and the data variable, all as doubles. Times are
// seconds since the Unix epoch.
func NetCDF(res *pipeline.Result) ([]byte, error) {
	d := res.Data
	dims := make([]ncDim, len(d.Coords))
	vars := make([]*ncVar, 0, len(d.Coords)+1)
	dimIDs := make([]int, len(d.Coords))
	for i, c := range d.Coords {
		dimIDs[i] = i
		name := c.Name
		v := &ncVar{dimIDs: []int{i}}
		if c.Role == grid.RoleTime {
			name = "time"
			v.values = make([]float64, len(c.Times))
			for k, t := range c.Times {
				v.values[k] = float64(t.Unix())
			}
			v.attrs = []ncAttr{
				textAttr("standard_name", "time"),
				textAttr("units", timeUnits),
				textAttr("calendar", "proleptic_gregorian"),
			}
		} else {
			v.values = c.Values
			switch c.Role {
			case grid.RoleLat:
				v.attrs = []ncAttr{textAttr("standard_name", "latitude"), textAttr("units", "degrees_north")}
			case grid.RoleLon:
				v.attrs = []ncAttr{textAttr("standard_name", "longitude"), textAttr("units", "degrees_east")}
			}
		}
		v.name = name
		dims[i] = ncDim{name: name, size: c.Len()}
		vars = append(vars, v)
	}

	data := &ncVar{
		name:   res.Variable,
		dimIDs: dimIDs,
		values: d.Values,
		attrs:  []ncAttr{{name: "_FillValue", num: []float64{math.NaN()}}},
	}
	if u, ok := res.Attrs[unitAttr].(string); ok {
		data.attrs = append(data.attrs, textAttr("units", u))
	}
	vars = append(vars, data)

	global := globalAttrs(res.Attrs)

	// the header length does not depend on the begin offsets it records
	var hdr bytes.Buffer
	writeHeader(&hdr, dims, global, vars)
	off := int64(hdr.Len())
	for _, v := range vars {
		v.begin = off
		off += v.vsize()
	}
	out := bytes.NewBuffer(make([]byte, 0, off))
	writeHeader(out, dims, global, vars)
	b := out.Bytes()
	for _, v := range vars {
		for _, x := range v.values {
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(x))
		}
	}
	if int64(len(b)) != off {
		return nil, fmt.Errorf("netcdf: wrote %d bytes, layout expects %d", len(b), off)
	}
	return b, nil
}

func textAttr(name, text string) ncAttr { return ncAttr{name: name, text: text, isText: true} }

func globalAttrs(attrs map[string]any) []ncAttr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ncAttr, 0, len(keys)+1)
	for _, k := range keys {
		if droppedAttrs[k] {
			continue
		}
		switch v := attrs[k].(type) {
		case string:
			out = append(out, textAttr(k, v))
		case float64:
			out = append(out, ncAttr{name: k, num: []float64{v}})
		case int:
			out = append(out, ncAttr{name: k, num: []float64{float64(v)}})
		case bool:
			b := 0.0
			if v {
				b = 1
			}
			out = append(out, ncAttr{name: k, num: []float64{b}})
		}
	}
	if catalog.UpdateInProgress(attrs) {
		if r, ok := attrs[updateRangeAttr].([]any); ok && len(r) == 2 {
			out = append(out, textAttr("updating date range", fmt.Sprintf("%v-%v", r[0], r[1])))
		}
	}
	return out
}

func writeHeader(w *bytes.Buffer, dims []ncDim, global []ncAttr, vars []*ncVar) {
	w.WriteString(ncMagic)
	putU32(w, 0) // numrecs: no record dimension

	if len(dims) == 0 {
		putU32(w, 0)
		putU32(w, 0)
	} else {
		putU32(w, ncDimension)
		putU32(w, uint32(len(dims)))
		for _, d := range dims {
			putName(w, d.name)
			putU32(w, uint32(d.size))
		}
	}

	writeAttrs(w, global)

	if len(vars) == 0 {
		putU32(w, 0)
		putU32(w, 0)
		return
	}
	putU32(w, ncVariable)
	putU32(w, uint32(len(vars)))
	for _, v := range vars {
		putName(w, v.name)
		putU32(w, uint32(len(v.dimIDs)))
		for _, id := range v.dimIDs {
			putU32(w, uint32(id))
		}
		writeAttrs(w, v.attrs)
		putU32(w, ncDouble)
		vs := v.vsize()
		if vs > math.MaxUint32 {
			// the format's escape for oversized variables
			vs = math.MaxUint32
		}
		putU32(w, uint32(vs))
		_ = binary.Write(w, binary.BigEndian, v.begin)
	}
}

func writeAttrs(w *bytes.Buffer, attrs []ncAttr) {
	if len(attrs) == 0 {
		putU32(w, 0)
		putU32(w, 0)
		return
	}
	putU32(w, ncAttribute)
	putU32(w, uint32(len(attrs)))
	for _, a := range attrs {
		putName(w, a.name)
		if a.isText {
			putU32(w, ncChar)
			putU32(w, uint32(len(a.text)))
			w.WriteString(a.text)
			pad(w, len(a.text))
			continue
		}
		putU32(w, ncDouble)
		putU32(w, uint32(len(a.num)))
		for _, x := range a.num {
			_ = binary.Write(w, binary.BigEndian, x)
		}
	}
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func putName(w *bytes.Buffer, s string) {
	putU32(w, uint32(len(s)))
	w.WriteString(s)
	pad(w, len(s))
}

func pad(w *bytes.Buffer, n int) {
	if r := n % 4; r != 0 {
		w.Write(make([]byte, 4-r))
	}
}
