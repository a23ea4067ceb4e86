package zarr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchConcurrency bounds concurrent chunk reads of one selection.
const DefaultFetchConcurrency = 8

// Array is a zarr v2 array bound to a store. Values are exposed as float64
// with fill values (and CF _FillValue / missing_value) turned into NaN and
// CF scale_factor / add_offset applied.
type Array struct {
	store  Store
	path   string
	meta   *ArrayMeta
	attrs  Attributes
	dims   []string
	codecs pipeline

	missing     []float64
	scale       float64
	offset      float64
	concurrency int
}

// OpenArray binds metadata already read from the store (usually from
// consolidated metadata) to its chunks.
func OpenArray(store Store, name string, meta *ArrayMeta, attrs Attributes, opts CodecOptions) (*Array, error) {
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}
	p, err := newPipeline(meta, opts)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}
	dims, ok := attrs.Dimensions()
	if !ok {
		dims = make([]string, len(meta.Shape))
		for i := range dims {
			dims[i] = "dim_" + strconv.Itoa(i)
		}
	}
	if len(dims) != len(meta.Shape) {
		return nil, fmt.Errorf("array %q: %d dimension names for shape %v", name, len(dims), meta.Shape)
	}
	a := &Array{
		store:       store,
		path:        name,
		meta:        meta,
		attrs:       attrs,
		dims:        dims,
		codecs:      p,
		scale:       1,
		concurrency: DefaultFetchConcurrency,
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrs.Float(key); ok {
			a.missing = append(a.missing, v)
		}
	}
	if v, ok := attrs.Float("scale_factor"); ok {
		a.scale = v
	}
	if v, ok := attrs.Float("add_offset"); ok {
		a.offset = v
	}
	return a, nil
}

func (a *Array) Name() string      { return a.path }
func (a *Array) Dims() []string    { return append([]string(nil), a.dims...) }
func (a *Array) Shape() []int      { return append([]int(nil), a.meta.Shape...) }
func (a *Array) Meta() *ArrayMeta  { return a.meta }
func (a *Array) Attrs() Attributes { return a.attrs }

// SetConcurrency bounds concurrent chunk reads.
func (a *Array) SetConcurrency(n int) {
	if n > 0 {
		a.concurrency = n
	}
}

// chunkKey renders the store key of chunk ch.
func (a *Array) chunkKey(ch []int) string {
	sep := a.meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(ch))
	for i, c := range ch {
		parts[i] = strconv.Itoa(c)
	}
	key := strings.Join(parts, sep)
	if len(ch) == 0 {
		key = "0"
	}
	return path.Join(a.path, key)
}

// chunkBytes fetches and decodes one chunk. found is false for chunks that
// were never written.
func (a *Array) chunkBytes(ctx context.Context, ch []int) (b []byte, found bool, err error) {
	key := a.chunkKey(ch)
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read chunk %s: %w", key, err)
	}
	b, err = a.codecs.decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode chunk %s: %w", key, err)
	}
	return b, true, nil
}

func (a *Array) chunkLen() int {
	n := 1
	for _, c := range a.meta.Chunks {
		n *= c
	}
	return n
}

// chunkStrides returns element strides inside a chunk for the array order.
func (a *Array) chunkStrides() []int {
	c := a.meta.Chunks
	st := make([]int, len(c))
	acc := 1
	if a.meta.Order == "F" {
		for i := range c {
			st[i] = acc
			acc *= c[i]
		}
		return st
	}
	for i := len(c) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= c[i]
	}
	return st
}

// pick is the part of one dimension's selection falling into one chunk.
type pick struct {
	chunk int
	out   []int // positions in the output selection
	local []int // offsets inside the chunk
}

func groupByChunk(sel []int, chunk int) []pick {
	var out []pick
	for i, v := range sel {
		c := v / chunk
		if len(out) == 0 || out[len(out)-1].chunk != c {
			out = append(out, pick{chunk: c})
		}
		p := &out[len(out)-1]
		p.out = append(p.out, i)
		p.local = append(p.local, v-c*chunk)
	}
	return out
}

// Read returns the orthogonal selection idx, one ascending index list per
// dimension with nil meaning the whole dimension, in C order.
func (a *Array) Read(ctx context.Context, idx [][]int) ([]float64, error) {
	shape := a.meta.Shape
	if len(idx) != len(shape) {
		return nil, fmt.Errorf("array %q: selection rank %d, array rank %d", a.path, len(idx), len(shape))
	}
	sel := make([][]int, len(shape))
	outShape := make([]int, len(shape))
	total := 1
	for d, s := range idx {
		if s == nil {
			s = make([]int, shape[d])
			for i := range s {
				s[i] = i
			}
		}
		for i, v := range s {
			if v < 0 || v >= shape[d] || (i > 0 && v <= s[i-1]) {
				return nil, fmt.Errorf("array %q: invalid index %d on dimension %q", a.path, v, a.dims[d])
			}
		}
		sel[d] = s
		outShape[d] = len(s)
		total *= len(s)
	}
	out := make([]float64, total)
	if total == 0 {
		return out, nil
	}
	outStrides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		outStrides[d] = acc
		acc *= outShape[d]
	}

	groups := make([][]pick, len(shape))
	for d := range shape {
		groups[d] = groupByChunk(sel[d], a.meta.Chunks[d])
	}
	cstrides := a.chunkStrides()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	odometer(groupLens(groups), func(ci []int) {
		picks := make([]pick, len(ci))
		ch := make([]int, len(ci))
		for d, k := range ci {
			picks[d] = groups[d][k]
			ch[d] = picks[d].chunk
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vals, err := a.chunkValues(gctx, ch)
			if err != nil {
				return err
			}
			// each chunk writes a disjoint set of output cells
			lens := make([]int, len(picks))
			for d := range picks {
				lens[d] = len(picks[d].out)
			}
			odometer(lens, func(pos []int) {
				o, c := 0, 0
				for d, p := range pos {
					o += picks[d].out[p] * outStrides[d]
					c += picks[d].local[p] * cstrides[d]
				}
				out[o] = vals[c]
			})
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAll reads the whole array.
func (a *Array) ReadAll(ctx context.Context) ([]float64, error) {
	return a.Read(ctx, make([][]int, len(a.meta.Shape)))
}

// chunkValues decodes a chunk into float64 with missing values as NaN.
func (a *Array) chunkValues(ctx context.Context, ch []int) ([]float64, error) {
	n := a.chunkLen()
	vals := make([]float64, n)
	b, found, err := a.chunkBytes(ctx, ch)
	if err != nil {
		return nil, err
	}
	if !found {
		for i := range vals {
			vals[i] = math.NaN()
		}
		return vals, nil
	}
	if err := a.meta.Dtype.DecodeFloat64(b, vals); err != nil {
		return nil, fmt.Errorf("chunk %s: %w", a.chunkKey(ch), err)
	}
	for i, v := range vals {
		if a.isMissing(v) {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = v*a.scale + a.offset
	}
	return vals, nil
}

func (a *Array) isMissing(v float64) bool {
	if math.IsNaN(v) || a.meta.FillValue.Matches(v) {
		return true
	}
	for _, m := range a.missing {
		if v == m {
			return true
		}
	}
	return false
}

// ReadInt64 reads a whole integral array without float conversion. Missing
// chunks read as zero; callers use it for coordinate arrays which are
// always fully written.
func (a *Array) ReadInt64(ctx context.Context) ([]int64, error) {
	if !a.meta.Dtype.Integral() {
		return nil, fmt.Errorf("array %q: dtype %s is not integral", a.path, a.meta.Dtype)
	}
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("array %q: integer reads need a 1-d array, have rank %d", a.path, len(a.meta.Shape))
	}
	n, chunk := a.meta.Shape[0], a.meta.Chunks[0]
	out := make([]int64, n)
	buf := make([]int64, chunk)
	for c := 0; c*chunk < n; c++ {
		b, found, err := a.chunkBytes(ctx, []int{c})
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if err := a.meta.Dtype.DecodeInt64(b, buf); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", a.chunkKey([]int{c}), err)
		}
		copy(out[c*chunk:], buf[:min(chunk, n-c*chunk)])
	}
	return out, nil
}

func groupLens(groups [][]pick) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i] = len(g)
	}
	return out
}

// odometer calls fn for every index tuple below lens in C order. fn must
// not retain pos.
func odometer(lens []int, fn func(pos []int)) {
	for _, l := range lens {
		if l == 0 {
			return
		}
	}
	pos := make([]int, len(lens))
	for {
		fn(pos)
		d := len(lens) - 1
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < lens[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return
		}
	}
}
