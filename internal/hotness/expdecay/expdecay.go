// Package expdecay keeps exponentially decaying request counts per
// dataset cell. A count halves every half-life without new requests.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geotemporal-query/internal/hotness"
)

const (
	numShards = 64
	// scores below this are dropped when a shard is pruned
	floor = 0.05
)

type key struct{ dataset, cell string }

type counter struct {
	score float64
	last  time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[key]*counter
}

type Tracker struct {
	halfLife float64
	// maxPerShard triggers pruning of cold counters
	maxPerShard int

	now func() time.Time

	shards [numShards]shard
}

var _ hotness.Interface = (*Tracker)(nil)

// New returns a tracker holding about maxKeys counters.
func New(halfLife time.Duration, maxKeys int) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	if maxKeys <= 0 {
		maxKeys = 1 << 16
	}
	t := &Tracker{
		halfLife:    halfLife.Seconds(),
		maxPerShard: max(maxKeys/numShards, 1),
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i].m = make(map[key]*counter)
	}
	return t
}

func (t *Tracker) Inc(dataset, cell string) {
	if cell == "" {
		return
	}
	k := key{dataset, cell}
	s := t.pick(k)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.m[k]; c != nil {
		c.score = decay(c.score, n.Sub(c.last).Seconds(), t.halfLife) + 1
		c.last = n
		return
	}
	if len(s.m) >= t.maxPerShard {
		t.prune(s, n)
	}
	s.m[k] = &counter{score: 1, last: n}
}

func (t *Tracker) Score(dataset, cell string) float64 {
	k := key{dataset, cell}
	s := t.pick(k)

	s.mu.Lock()
	c := s.m[k]
	if c == nil {
		s.mu.Unlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.Unlock()

	return decay(score, t.now().Sub(last).Seconds(), t.halfLife)
}

func (t *Tracker) Reset(dataset string, cells ...string) {
	if len(cells) > 0 {
		for _, cell := range cells {
			k := key{dataset, cell}
			s := t.pick(k)
			s.mu.Lock()
			delete(s.m, k)
			s.mu.Unlock()
		}
		return
	}
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k := range s.m {
			if k.dataset == dataset {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].m)
		t.shards[i].mu.Unlock()
	}
	return total
}

// prune drops cold counters; if all are warm the oldest one goes.
// Callers hold s.mu.
func (t *Tracker) prune(s *shard, n time.Time) {
	var (
		oldest  key
		oldestT time.Time
	)
	for k, c := range s.m {
		if decay(c.score, n.Sub(c.last).Seconds(), t.halfLife) < floor {
			delete(s.m, k)
			continue
		}
		if oldestT.IsZero() || c.last.Before(oldestT) {
			oldest, oldestT = k, c.last
		}
	}
	if len(s.m) >= t.maxPerShard {
		delete(s.m, oldest)
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) pick(k key) *shard {
	h := xxhash.Sum64String(k.dataset + "\x00" + k.cell)
	return &t.shards[h&(numShards-1)]
}
