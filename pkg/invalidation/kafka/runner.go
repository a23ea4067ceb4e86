// Package kafka consumes dataset change events from a Kafka topic and drops
// the catalog entries and cached results they make stale.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/invalidation"
	"github.com/mohammed-shakir/geotemporal-query/internal/logger"
)

// Catalog drops the opened metadata of a dataset.
type Catalog interface {
	Invalidate(name string) bool
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	results  cache.Interface
	catalog  Catalog
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger     *slog.Logger
	Register   prometheus.Registerer
	DedupeSize int
}

func New(cfg InvalidationConfig, results cache.Interface, cat Catalog, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if results == nil {
		results = cache.Noop{}
	}
	return &Runner{
		log:     opts.Logger,
		cfg:     cfg,
		results: results,
		catalog: cat,
		ms:      newMetricSet(opts.Register),
		ver:     newVersionDedupe(opts.DedupeSize),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.catalog == nil {
		return errors.New("kafka runner: catalog dependency is required")
	}

	cfg, err := r.cfg.sarama()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{setup: r.setup, cleanup: r.cleanup, process: r.handleMessage}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) setup(sess sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(true)
	r.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			r.assign[p] = struct{}{}
		}
	}
}

func (r *Runner) cleanup(sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(false)
	r.assign = map[int32]struct{}{}
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

// Readiness reports whether the runner holds a partition assignment. A
// disabled runner is always ready.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		return true, nil
	}
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one message. Malformed events are counted and
// skipped; a failed apply is returned so the message is redelivered.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		r.ms.msgs.WithLabelValues("invalid").Inc()
		r.log.Warn("skipping invalidation message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
		return nil
	}

	_, err = r.Apply(logger.WithDataset(ctx, ev.Dataset), ev)
	r.observe(ev.Op, err, time.Since(start))
	return err
}

// Apply drops what ev makes stale and returns the number of cached results
// removed. Events not newer than the last applied version of their dataset
// are skipped.
func (r *Runner) Apply(ctx context.Context, ev invalidation.Event) (int, error) {
	if r.ver.seen(ev.Dataset, ev.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return 0, nil
	}

	if r.catalog != nil && r.catalog.Invalidate(ev.Dataset) {
		r.ms.apply.WithLabelValues("catalog").Inc()
	}

	var (
		n   int
		err error
	)
	if ev.Area() {
		var bb *model.BBox
		if ev.BBox != nil {
			m := ev.BBox.Model()
			bb = &m
		}
		n, err = r.results.InvalidateArea(ctx, ev.Dataset, bb, ev.Cells)
	} else {
		n, err = r.results.InvalidateDataset(ctx, ev.Dataset)
	}
	if err != nil {
		return 0, fmt.Errorf("invalidate results of %q: %w", ev.Dataset, err)
	}
	r.ms.apply.WithLabelValues("delete").Add(float64(n))

	r.ver.mark(ev.Dataset, ev.Version)
	r.ms.lastApplied.WithLabelValues(ev.Dataset).Set(float64(ev.TS.Unix()))
	r.log.InfoContext(ctx, "dataset invalidated",
		"op", string(ev.Op),
		"version", ev.Version,
		"area", ev.Area(),
		"results", n,
	)
	return n, nil
}

func (r *Runner) observe(op invalidation.Op, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(string(op)).Observe(dur.Seconds())
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

// ConsumeClaim marks a message only after it was applied, so a failure
// ends the session and the message is consumed again.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
