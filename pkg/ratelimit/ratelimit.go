// Package ratelimit gates worker invocations with per-worker token buckets
// configured as "N/M": at most N calls per M seconds.
package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrInvalidSpec is returned for rate specs that are not "N/M" with N and M
// positive.
var ErrInvalidSpec = errors.New("invalid rate limit spec")

// Spec is a parsed "N/M" rate.
type Spec struct {
	N      int
	Period time.Duration
}

func (s Spec) String() string {
	return fmt.Sprintf("%d/%g", s.N, s.Period.Seconds())
}

// ParseSpec parses "N/M" where N is a positive call count and M a positive
// number of seconds.
func ParseSpec(raw string) (Spec, error) {
	left, right, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil || n <= 0 {
		return Spec{}, fmt.Errorf("%w: %q: count must be a positive integer", ErrInvalidSpec, raw)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if err != nil || secs <= 0 {
		return Spec{}, fmt.Errorf("%w: %q: period must be positive seconds", ErrInvalidSpec, raw)
	}
	return Spec{N: n, Period: time.Duration(secs * float64(time.Second))}, nil
}

type bucket struct {
	spec Spec
	lim  *rate.Limiter
}

// Limiter holds one bucket per worker name. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the limiter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		logger:  log.With().Str("component", "ratelimit").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether worker may run now under spec. A bucket holds N
// tokens and refills N per M seconds. An unparseable spec does not gate.
func (l *Limiter) Allow(worker, spec string) bool {
	parsed, err := ParseSpec(spec)
	if err != nil {
		l.logger.Warn().Err(err).Str("worker", worker).Msg("Ignoring rate limit")
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[worker]
	if !ok || b.spec != parsed {
		every := parsed.Period / time.Duration(parsed.N)
		b = &bucket{spec: parsed, lim: rate.NewLimiter(rate.Every(every), parsed.N)}
		l.buckets[worker] = b
	}

	allowed := b.lim.AllowN(l.now(), 1)
	if !allowed {
		l.logger.Debug().Str("worker", worker).Str("spec", parsed.String()).Msg("Rate limited")
	}
	return allowed
}

// Reset drops the bucket of worker.
func (l *Limiter) Reset(worker string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, worker)
}
