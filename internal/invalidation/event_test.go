package invalidation

import (
	"strings"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate(t *testing.T) {
	bb := &BBox{MinLat: 55, MinLon: 11, MaxLat: 56, MaxLon: 12}
	cases := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"bbox update", Event{Version: 1, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), BBox: bb}, true},
		{"cells update", Event{Version: 2, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), Cells: []string{"831f8dfffffffff"}}, true},
		{"whole append", Event{Version: 3, Op: OpAppend, Dataset: "cpc", TS: mustTS()}, true},
		{"antimeridian", Event{Version: 1, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), BBox: &BBox{MinLat: -10, MinLon: 179, MaxLat: 10, MaxLon: -179}}, true},
		{"delete", Event{Version: 1, Op: OpDelete, Dataset: "cpc", TS: mustTS()}, true},
		{"zero version", Event{Op: OpUpdate, Dataset: "cpc", TS: mustTS()}, false},
		{"bad op", Event{Version: 1, Op: "insert", Dataset: "cpc", TS: mustTS()}, false},
		{"no dataset", Event{Version: 1, Op: OpUpdate, Dataset: " ", TS: mustTS()}, false},
		{"no ts", Event{Version: 1, Op: OpUpdate, Dataset: "cpc"}, false},
		{"delete with area", Event{Version: 1, Op: OpDelete, Dataset: "cpc", TS: mustTS(), BBox: bb}, false},
		{"inverted lat", Event{Version: 1, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), BBox: &BBox{MinLat: 56, MinLon: 11, MaxLat: 55, MaxLon: 12}}, false},
		{"lon out of range", Event{Version: 1, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), BBox: &BBox{MinLat: 55, MinLon: 11, MaxLat: 56, MaxLon: 190}}, false},
		{"empty cell", Event{Version: 1, Op: OpUpdate, Dataset: "cpc", TS: mustTS(), Cells: []string{""}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecode(t *testing.T) {
	body := `{"version":7,"op":"update","dataset":"era5","ts":"2025-10-26T12:30:45Z",
		"bbox":{"min_lat":55,"min_lon":11,"max_lat":56,"max_lon":12}}`
	ev, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Version != 7 || ev.Dataset != "era5" || !ev.TS.Equal(mustTS()) || !ev.Area() {
		t.Fatalf("event=%+v", ev)
	}
	if bb := ev.BBox.Model(); bb.MinLat != 55 || bb.MaxLon != 12 {
		t.Fatalf("bbox=%+v", bb)
	}

	if _, err := Decode([]byte(`{"version":1`)); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("truncated body err=%v", err)
	}
	if _, err := Decode([]byte(`{"version":1,"op":"update","ts":"2025-10-26T12:30:45Z"}`)); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("missing dataset err=%v", err)
	}
}
