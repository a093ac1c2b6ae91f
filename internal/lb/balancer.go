package lb

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"edgeproxy/internal/config"
)

// ErrNoHealthyBackend is returned when a pool has no backend eligible for
// selection (spec §7 NoHealthyBackend).
var ErrNoHealthyBackend = errors.New("no healthy backend available")

// baseReplicas is the per-unit-weight virtual node count for the
// consistent-hash ring (spec §4.4: base_replicas * weight).
const baseReplicas = 64

// SelectionKey carries the fields a consistent-hash policy may hash on,
// in the fallback order spec §4.4 specifies: authority, then path, then
// method.
type SelectionKey struct {
	Authority string
	Path      string
	Method    string
}

func (k SelectionKey) hashInput() string {
	if k.Authority != "" {
		return k.Authority
	}
	if k.Path != "" {
		return k.Path
	}
	return k.Method
}

// Pool holds the live backend states for one configured upstream and
// dispatches selection to its configured policy.
type Pool struct {
	name     string
	policy   config.LBPolicy
	backends []*BackendState

	mu     sync.RWMutex
	cursor atomic.Uint64
	ring   *hashRing
}

// NewPool builds a Pool from its static configuration. Backend order is
// preserved from config.Upstream.Backends, matching declaration order.
func NewPool(name string, up config.Upstream) *Pool {
	states := make([]*BackendState, 0, len(up.Backends))
	for _, b := range up.Backends {
		states = append(states, NewBackendState(b))
	}

	p := &Pool{
		name:     name,
		policy:   up.Policy,
		backends: states,
	}
	if up.Policy == config.PolicyConsistentHash {
		p.ring = newHashRing(states)
	}
	return p
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// Backends returns the live backend state trackers, in configuration order.
func (p *Pool) Backends() []*BackendState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*BackendState, len(p.backends))
	copy(out, p.backends)
	return out
}

// Select picks one backend per the pool's configured policy, considering
// only backends eligible at `now` (spec §4.4 health filtering).
func (p *Pool) Select(now time.Time, key SelectionKey) (*BackendState, error) {
	healthy := p.healthyBackends(now)
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	switch p.policy {
	case config.PolicyRandom:
		return healthy[rand.Intn(len(healthy))], nil
	case config.PolicyRoundRobin:
		idx := p.cursor.Add(1) % uint64(len(healthy))
		return healthy[idx], nil
	case config.PolicyConsistentHash:
		return p.ring.lookup(key.hashInput(), now), nil
	default:
		return healthy[0], nil
	}
}

func (p *Pool) healthyBackends(now time.Time) []*BackendState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*BackendState, 0, len(p.backends))
	for _, b := range p.backends {
		if b.IsHealthy(now) {
			out = append(out, b)
		}
	}
	return out
}

// hashRing implements FNV-1a-64 weighted consistent hashing with
// base_replicas(64) * weight virtual nodes per backend.
type hashRing struct {
	points   []uint64
	owners   map[uint64]*BackendState
	backends []*BackendState
}

func newHashRing(backends []*BackendState) *hashRing {
	r := &hashRing{
		owners:   make(map[uint64]*BackendState),
		backends: backends,
	}
	for _, b := range backends {
		replicas := baseReplicas * b.Backend.Weight
		for i := 0; i < replicas; i++ {
			h := fnv1a64(b.Backend.ID + "#" + strconv.Itoa(i))
			r.points = append(r.points, h)
			r.owners[h] = b
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

// lookup walks the ring clockwise from the key's hash, skipping backends
// that are unhealthy at `now`, and wraps once. Ties among distinct owners
// are resolved by ring position, not iteration order.
func (r *hashRing) lookup(key string, now time.Time) *BackendState {
	if len(r.points) == 0 {
		return nil
	}
	h := fnv1a64(key)
	start := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })

	seen := make(map[*BackendState]bool, len(r.backends))
	for i := 0; i < len(r.points); i++ {
		idx := (start + i) % len(r.points)
		b := r.owners[r.points[idx]]
		if seen[b] {
			continue
		}
		seen[b] = true
		if b.IsHealthy(now) {
			return b
		}
	}
	return nil
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
