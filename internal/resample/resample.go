// Package resample turns an irregular stream of positive events into a
// regular, quantum-aligned sample stream with randomly kept negatives in
// the gaps.
package resample

import (
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
)

// DefaultSeed seeds the process-wide source
const DefaultSeed = "kit-buying-habits"

// KeepProbability is the chance of keeping each intermediate negative sample
const KeepProbability = 0.2

// Generator builds the context of an intermediate sample at timestamp
type Generator func(previous, next oracle.Context, timestamp int64) oracle.Context

// FromPrevious extends current with features derived from the previous event
// and the number of periods elapsed since it. previous is nil for the first event.
type FromPrevious func(current oracle.Context, previous *oracle.Context, periods int64) oracle.Context

// FromNext extends current with features derived from the upcoming event
// and the number of periods until it. next is nil for the final event.
type FromNext func(current oracle.Context, next *oracle.Context, periods int64) oracle.Context

// Source draws uniform floats in [0, 1)
type Source interface {
	Float64() float64
}

// SeededSource is a deterministic, goroutine safe Source
type SeededSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSource seeds a source from a string
func NewSource(seed string) *SeededSource {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return &SeededSource{rnd: rand.New(rand.NewSource(int64(h.Sum64())))}
}

// Float64 implements Source
func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

var (
	defaultSource     *SeededSource
	defaultSourceOnce sync.Once
)

// DefaultSource returns the process-wide source seeded with DefaultSeed.
// Its sequence advances across calls, so two identical runs in the same
// process do not produce identical samples.
func DefaultSource() *SeededSource {
	defaultSourceOnce.Do(func() {
		defaultSource = NewSource(DefaultSeed)
	})
	return defaultSource
}

// Options tune a Sampler
type Options struct {
	// Latest is the last operation already known downstream. It anchors the
	// first interval and is never emitted again.
	Latest *oracle.ContextOperation

	ExtendFromPrevious FromPrevious
	ExtendFromNext     FromNext

	// KeepFirst emits the first real event. Without it the first interval
	// only contributes its intermediate samples.
	KeepFirst bool
	// KeepLast emits the final pending event once the input is exhausted
	KeepLast bool

	// Source defaults to DefaultSource()
	Source Source
}

// Sampler resamples one agent's ordered events onto a grid of period seconds
type Sampler struct {
	period   int64
	generate Generator
	opts     Options
}

// New creates a sampler. A nil generator yields empty contexts.
func New(period int64, generate Generator, opts Options) *Sampler {
	if generate == nil {
		generate = func(oracle.Context, oracle.Context, int64) oracle.Context { return oracle.Context{} }
	}
	if opts.ExtendFromPrevious == nil {
		opts.ExtendFromPrevious = func(oracle.Context, *oracle.Context, int64) oracle.Context { return oracle.Context{} }
	}
	if opts.ExtendFromNext == nil {
		opts.ExtendFromNext = func(oracle.Context, *oracle.Context, int64) oracle.Context { return oracle.Context{} }
	}
	if opts.Source == nil {
		opts.Source = DefaultSource()
	}
	return &Sampler{period: period, generate: generate, opts: opts}
}

// Resample resamples events, which must be sorted by timestamp.
// Input operations are not modified.
func (s *Sampler) Resample(events []oracle.ContextOperation) []oracle.ContextOperation {
	var out []oracle.ContextOperation
	s.Each(events, func(op oracle.ContextOperation) {
		out = append(out, op)
	})
	return out
}

// Each streams the resampled operations to emit, in timestamp order
func (s *Sampler) Each(events []oracle.ContextOperation, emit func(oracle.ContextOperation)) {
	keepFirst := s.opts.KeepFirst

	var latest *oracle.ContextOperation
	if s.opts.Latest != nil {
		clone := s.opts.Latest.Clone()
		latest = &clone
	}

	previous := latest
	for _, event := range events {
		op := event.Clone()

		if previous == nil {
			op.Context.Merge(s.opts.ExtendFromPrevious(op.Context, nil, 0))
			previous = &op
			continue
		}

		steps := (op.Timestamp - previous.Timestamp) / s.period
		if steps < 1 {
			// Too close to the anchor to land on a new grid point
			continue
		}

		op.Timestamp = previous.Timestamp + steps*s.period
		prevCtx := previous.Context.Clone()
		nextCtx := op.Context.Clone()
		op.Context.Merge(s.opts.ExtendFromPrevious(op.Context, &prevCtx, steps))
		previous.Context.Merge(s.opts.ExtendFromNext(previous.Context, &nextCtx, steps))

		prevCtx = previous.Context.Clone()
		nextCtx = op.Context.Clone()
		var samples []oracle.ContextOperation
		for step := int64(1); step < steps; step++ {
			if s.opts.Source.Float64() >= KeepProbability {
				continue
			}
			ts := previous.Timestamp + step*s.period
			sample := s.generate(prevCtx, nextCtx, ts)
			fromPrevious := s.opts.ExtendFromPrevious(sample, &prevCtx, step)
			fromNext := s.opts.ExtendFromNext(sample, &nextCtx, steps-step)
			sample.Merge(fromPrevious)
			sample.Merge(fromNext)
			samples = append(samples, oracle.ContextOperation{Timestamp: ts, Context: sample})
		}

		if previous == latest || !keepFirst {
			keepFirst = true
		} else {
			emit(previous.Clone())
		}
		for _, sample := range samples {
			emit(sample)
		}

		current := op
		previous = &current
	}

	if s.opts.KeepLast && previous != nil && previous != latest && keepFirst {
		final := previous.Clone()
		final.Context.Merge(s.opts.ExtendFromNext(final.Context, nil, 0))
		emit(final)
	}
}
