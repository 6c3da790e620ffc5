// Package config holds process-wide runtime configuration.
//
// All fields are hot-reloadable: readers take an immutable snapshot per
// operation via an atomic pointer, and Update swaps in a modified copy.
// Nothing here is persisted state — changing the shard count or the
// confidence level must never require re-deriving historical data.
package config

import "sync/atomic"

// Settings is one immutable configuration snapshot.
type Settings struct {
	// ConfidenceLevel is the two-sided confidence used by the ranker.
	ConfidenceLevel float64

	// ShardCount is the number of physical partitions per counter.
	ShardCount int
	// RandomSharding selects uniform-random partition choice for counter
	// writes; false uses a consistent hash of the scope.
	RandomSharding bool
	// ReadAllShards forces full scatter-gather reads even for
	// deterministic keys. Turn it on for the duration of a shard-count
	// migration; how long to keep it on is operational policy.
	ReadAllShards bool
	// RetentionMultiplier sets counter-row expiry to this many periods
	// past the period being counted, so late corrections stay
	// attributable.
	RetentionMultiplier int

	// FilterInsertions and FilterFPR size newly created membership
	// filters.
	FilterInsertions int
	FilterFPR        float64
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		ConfidenceLevel:     0.95,
		ShardCount:          8,
		RandomSharding:      false,
		ReadAllShards:       false,
		RetentionMultiplier: 3,
		FilterInsertions:    10000,
		FilterFPR:           0.001,
	}
}

// Runtime is a hot-reloadable settings holder. Safe for concurrent use.
type Runtime struct {
	current atomic.Pointer[Settings]
}

// Option mutates the initial settings.
type Option func(*Settings)

// New creates a Runtime with defaults modified by opts.
func New(opts ...Option) *Runtime {
	s := Default()
	for _, opt := range opts {
		opt(&s)
	}
	r := &Runtime{}
	r.current.Store(&s)
	return r
}

// Snapshot returns the current settings. The returned value is a copy;
// operations read one snapshot and never observe a mid-operation change.
func (r *Runtime) Snapshot() Settings {
	return *r.current.Load()
}

// Update applies fn to a copy of the current settings and swaps it in.
func (r *Runtime) Update(fn func(*Settings)) {
	for {
		old := r.current.Load()
		next := *old
		fn(&next)
		if r.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// WithConfidenceLevel sets the ranker confidence level.
func WithConfidenceLevel(level float64) Option {
	return func(s *Settings) { s.ConfidenceLevel = level }
}

// WithShardCount sets the counter partition count.
func WithShardCount(n int) Option {
	return func(s *Settings) { s.ShardCount = n }
}

// WithRandomSharding toggles uniform-random counter partitioning.
func WithRandomSharding(random bool) Option {
	return func(s *Settings) { s.RandomSharding = random }
}

// WithReadAllShards forces scatter-gather counter reads.
func WithReadAllShards(all bool) Option {
	return func(s *Settings) { s.ReadAllShards = all }
}

// WithFilterSizing sets membership filter capacity and false-positive rate.
func WithFilterSizing(insertions int, fpr float64) Option {
	return func(s *Settings) {
		s.FilterInsertions = insertions
		s.FilterFPR = fpr
	}
}
