package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNotConsolidated is returned for groups without a ".zmetadata" key.
var ErrNotConsolidated = errors.New("group has no consolidated metadata")

// Group is an opened zarr group. Arrays are keyed by their path relative to
// the group root.
type Group struct {
	Attrs  Attributes
	Arrays map[string]*Array
}

// OpenGroup reads the consolidated metadata at the root of store and binds
// every array it lists.
func OpenGroup(ctx context.Context, store Store, opts CodecOptions) (*Group, error) {
	raw, err := store.Get(ctx, string(MTMetadata))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotConsolidated
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", MTMetadata, err)
	}
	var cm ConsolidatedMetadata
	if err := json.Unmarshal(raw, &cm); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MTMetadata, err)
	}
	if _, ok := cm.Groups[""]; !ok {
		return nil, fmt.Errorf("%s lists no root group", MTMetadata)
	}

	g := &Group{Attrs: cm.Attrs[""], Arrays: make(map[string]*Array, len(cm.Arrays))}
	if g.Attrs == nil {
		g.Attrs = Attributes{}
	}
	for name, meta := range cm.Arrays {
		attrs := cm.Attrs[name]
		if attrs == nil {
			attrs = Attributes{}
		}
		a, err := OpenArray(store, name, meta, attrs, opts)
		if err != nil {
			return nil, err
		}
		g.Arrays[name] = a
	}
	return g, nil
}

// Names returns the array names in sorted order.
func (g *Group) Names() []string {
	out := make([]string, 0, len(g.Arrays))
	for n := range g.Arrays {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
