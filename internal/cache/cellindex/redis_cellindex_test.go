package cellindex

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache/keys"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/redisstore"
)

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestRedisCellIndex_PutLookup_AndDedup(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	ds := "cpc-precip"
	ttl := 2 * time.Minute
	fpA := Footprint{Res: 3, Cells: []string{"831f8dfffffffff", "831f89fffffffff", "831f8dfffffffff"}}
	fpB := Footprint{Res: 3, Cells: []string{"831f89fffffffff"}}

	if err := idx.Put(ctx, ds, "res:a", []byte("A"), ttl, fpA); err != nil {
		t.Fatalf("Put A: %v", err)
	}
	if err := idx.Put(ctx, ds, "res:b", []byte("B"), ttl, fpB); err != nil {
		t.Fatalf("Put B: %v", err)
	}

	if v, _ := mr.Get("res:a"); v != "A" {
		t.Fatalf("value of res:a=%q", v)
	}
	members, err := mr.Members(keys.Cell(ds, 3, "831f8dfffffffff"))
	if err != nil || !reflect.DeepEqual(members, []string{"res:a"}) {
		t.Fatalf("cell set=%v err=%v", members, err)
	}
	if ttlLeft := mr.TTL(keys.Cell(ds, 3, "831f89fffffffff")); ttlLeft <= 0 || ttlLeft > ttl {
		t.Fatalf("index set ttl=%v", ttlLeft)
	}

	got, err := idx.Lookup(ctx, ds, 3, []string{"831f89fffffffff"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if want := []string{"res:a", "res:b"}; !reflect.DeepEqual(sorted(got), want) {
		t.Fatalf("Lookup=%v want %v", got, want)
	}

	got, err = idx.Lookup(ctx, ds, 3, []string{"831f8dfffffffff"})
	if err != nil || !reflect.DeepEqual(got, []string{"res:a"}) {
		t.Fatalf("Lookup=%v err=%v", got, err)
	}

	got, err = idx.Lookup(ctx, "other", 3, []string{"831f89fffffffff"})
	if err != nil || len(got) != 0 {
		t.Fatalf("other dataset Lookup=%v err=%v", got, err)
	}
}

func TestRedisCellIndex_WideAndAll(t *testing.T) {
	cli, _ := newMini(t)
	idx := NewRedisIndex(cli)
	ctx := context.Background()

	ds := "era5"
	if err := idx.Put(ctx, ds, "res:wide", []byte("W"), time.Minute, Footprint{Wide: true}); err != nil {
		t.Fatalf("Put wide: %v", err)
	}
	if err := idx.Put(ctx, ds, "res:narrow", []byte("N"), time.Minute, Footprint{Res: 3, Cells: []string{"831f8dfffffffff"}}); err != nil {
		t.Fatalf("Put narrow: %v", err)
	}

	got, err := idx.Lookup(ctx, ds, 3, []string{"83754efffffffff"})
	if err != nil || !reflect.DeepEqual(got, []string{"res:wide"}) {
		t.Fatalf("Lookup unrelated cell=%v err=%v", got, err)
	}

	all, err := idx.All(ctx, ds)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if want := []string{"res:narrow", "res:wide"}; !reflect.DeepEqual(sorted(all), want) {
		t.Fatalf("All=%v want %v", all, want)
	}
}
