package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/invalidation"
)

type areaCall struct {
	dataset string
	bb      *model.BBox
	cells   []string
}

type fakeResults struct {
	mu        sync.Mutex
	areas     []areaCall
	datasets  []string
	failFirst atomic.Bool
}

func (f *fakeResults) fail() error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeResults) Get(context.Context, model.Query) ([]byte, bool, error) { return nil, false, nil }
func (f *fakeResults) Put(context.Context, model.Query, []byte) error         { return nil }

func (f *fakeResults) InvalidateDataset(_ context.Context, dataset string) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets = append(f.datasets, dataset)
	return 3, nil
}

func (f *fakeResults) InvalidateArea(_ context.Context, dataset string, bb *model.BBox, cells []string) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.areas = append(f.areas, areaCall{dataset: dataset, bb: bb, cells: cells})
	return 1, nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeCatalog) Invalidate(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return true
}

func (f *fakeCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return map[string][]int32{"t": {0, 1}} }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "dataset-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func newRunner(t *testing.T) (*Runner, *fakeResults, *fakeCatalog, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	fr, fc := &fakeResults{}, &fakeCatalog{}
	r := New(InvalidationConfig{Enabled: true, Driver: DriverKafka}, fr, fc, Options{Register: reg})
	return r, fr, fc, reg
}

func message(t *testing.T, offset int64, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "dataset-changes", Offset: offset, Timestamp: ev.TS, Value: b}
}

func bboxEvent(version uint64) invalidation.Event {
	return invalidation.Event{
		Version: version, Op: invalidation.OpUpdate, Dataset: "cpc", TS: time.Now().UTC(),
		BBox: &invalidation.BBox{MinLat: 55, MinLon: 11, MaxLat: 56, MaxLon: 12},
	}
}

func TestHandleMessage_AreaAndIdempotency(t *testing.T) {
	r, fr, fc, reg := newRunner(t)
	ctx := context.Background()

	msg := message(t, 1, bboxEvent(1))
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if len(fr.areas) != 1 || fr.areas[0].dataset != "cpc" || fr.areas[0].bb.MaxLat != 56 {
		t.Fatalf("areas=%+v", fr.areas)
	}
	if fc.count() != 1 {
		t.Fatalf("catalog invalidations=%d", fc.count())
	}

	// same version again is skipped
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("second handleMessage: %v", err)
	}
	if len(fr.areas) != 1 || fc.count() != 1 {
		t.Fatalf("duplicate applied: areas=%d catalog=%d", len(fr.areas), fc.count())
	}
	if got := testutil.ToFloat64(r.ms.apply.WithLabelValues("skip_version")); got != 1 {
		t.Fatalf("skip_version=%v", got)
	}
	if got := testutil.ToFloat64(r.ms.lastApplied.WithLabelValues("cpc")); got == 0 {
		t.Fatal("last applied timestamp not set")
	}
	if n, err := testutil.GatherAndCount(reg, "inval_msgs_total"); err != nil || n == 0 {
		t.Fatalf("inval_msgs_total n=%d err=%v", n, err)
	}
}

func TestApply_WholeDatasetAndCells(t *testing.T) {
	r, fr, _, _ := newRunner(t)
	ctx := context.Background()

	n, err := r.Apply(ctx, invalidation.Event{Version: 4, Op: invalidation.OpAppend, Dataset: "era5", TS: time.Now()})
	if err != nil || n != 3 {
		t.Fatalf("append n=%d err=%v", n, err)
	}
	if len(fr.datasets) != 1 || fr.datasets[0] != "era5" {
		t.Fatalf("datasets=%v", fr.datasets)
	}

	_, err = r.Apply(ctx, invalidation.Event{Version: 5, Op: invalidation.OpUpdate, Dataset: "era5", TS: time.Now(), Cells: []string{"831f8dfffffffff"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(fr.areas) != 1 || fr.areas[0].bb != nil || len(fr.areas[0].cells) != 1 {
		t.Fatalf("areas=%+v", fr.areas)
	}

	// older versions of the dataset are stale, other datasets are not
	if _, err := r.Apply(ctx, invalidation.Event{Version: 2, Op: invalidation.OpDelete, Dataset: "era5", TS: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Apply(ctx, invalidation.Event{Version: 2, Op: invalidation.OpDelete, Dataset: "cpc", TS: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if len(fr.datasets) != 2 || fr.datasets[1] != "cpc" {
		t.Fatalf("datasets=%v", fr.datasets)
	}
}

func TestHandleMessage_InvalidIsSkipped(t *testing.T) {
	r, fr, _, _ := newRunner(t)
	msg := &sarama.ConsumerMessage{Topic: "dataset-changes", Offset: 3, Value: []byte(`{"version":1,"op":"insert"}`)}
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("invalid message must not block the partition: %v", err)
	}
	if len(fr.areas)+len(fr.datasets) != 0 {
		t.Fatal("invalid message was applied")
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("invalid=%v", got)
	}
}

func TestConsumeClaim_OrderAndCommitAfterWork(t *testing.T) {
	r, _, _, _ := newRunner(t)
	g := &groupHandler{process: r.handleMessage}
	s := &sess{ctx: t.Context()}

	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- message(t, 10, bboxEvent(1))
	ch <- message(t, 11, bboxEvent(2))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestConsumeClaim_RetryAfterFailure(t *testing.T) {
	r, fr, _, _ := newRunner(t)
	fr.failFirst.Store(true)
	ctx := context.Background()

	msg := message(t, 5, bboxEvent(1))
	g := &groupHandler{process: r.handleMessage}

	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message was marked: %v", s.marked)
	}

	// the failed version was not recorded, so redelivery applies it
	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 || len(fr.areas) != 1 {
		t.Fatalf("marked=%v areas=%d", s.marked, len(fr.areas))
	}
}

func TestReadiness(t *testing.T) {
	r, _, _, _ := newRunner(t)
	if ok, _ := r.Readiness(); ok {
		t.Fatal("enabled runner without assignment must not be ready")
	}
	g := &groupHandler{setup: r.setup, cleanup: r.cleanup}
	_ = g.Setup(&sess{ctx: context.Background()})
	if ok, parts := r.Readiness(); !ok || len(parts) != 2 {
		t.Fatalf("ready=%t parts=%v", ok, parts)
	}

	_ = g.Cleanup(&sess{ctx: context.Background()})
	if ok, _ := r.Readiness(); ok {
		t.Fatal("ready after the session ended")
	}

	off := New(InvalidationConfig{Driver: DriverNone}, nil, nil, Options{})
	if ok, _ := off.Readiness(); !ok {
		t.Fatal("disabled runner must be ready")
	}
	if err := off.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
}
