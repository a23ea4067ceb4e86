package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache/keys"
)

func TestSetIndexed_ResultAndSetsExpireTogether(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	res := keys.Result("cpc", "rectangle(59.2,17.8,59.5,18.3)|array")
	cellSet := keys.Cell("cpc", 3, "831f8dfffffffff")
	all := keys.Dataset("cpc")

	if err := rc.SetIndexed(ctx, res, []byte("v"), 2*time.Second, all, cellSet); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}
	for _, k := range []string{res, cellSet, all} {
		if ttl := mr.TTL(k); ttl != 2*time.Second {
			t.Fatalf("ttl(%s)=%v want 2s", k, ttl)
		}
	}
	members, err := rc.Members(ctx, cellSet, all)
	if err != nil || len(members) != 1 || members[0] != res {
		t.Fatalf("members=%v err=%v", members, err)
	}

	mr.FastForward(3 * time.Second)

	got, err := rc.MGet(ctx, []string{res})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if _, ok := got[res]; ok {
		t.Fatalf("result still present after expiry: %v", got)
	}
	if members, _ := rc.Members(ctx, cellSet, all); len(members) != 0 {
		t.Fatalf("index sets outlived their results: %v", members)
	}
}
