// Package dispatch decides which workers must process a payload by matching
// its bytes against a rule resource.
package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type compiledRule struct {
	name    string
	match   MatchFunc
	workers []string
}

// Engine classifies payloads. The rule resource is loaded and compiled on
// first use and cached for the engine's lifetime.
type Engine struct {
	source RuleSource
	noCase bool
	kinds  map[string]KindFunc
	logger zerolog.Logger

	once    sync.Once
	rules   []compiledRule
	loadErr error
	warned  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNoCase makes every rule case-insensitive.
func WithNoCase(nocase bool) Option {
	return func(e *Engine) { e.noCase = nocase }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over src.
func NewEngine(src RuleSource, opts ...Option) *Engine {
	e := &Engine{
		source: src,
		kinds:  make(map[string]KindFunc),
		logger: log.With().Str("component", "dispatch").Logger(),
	}
	e.RegisterKind(KindLiteral, compileLiteral)
	e.RegisterKind(KindHex, compileHex)
	e.RegisterKind(KindRegex, compileRegex)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterKind registers a custom rule kind. It must be called before the
// first Classify.
func (e *Engine) RegisterKind(name string, fn KindFunc) {
	e.kinds[name] = fn
}

func (e *Engine) load() {
	e.once.Do(func() {
		if e.source == nil {
			e.loadErr = fmt.Errorf("no dispatch rule source")
			return
		}
		data, err := e.source()
		if err != nil {
			e.loadErr = fmt.Errorf("read dispatch rules: %w", err)
			return
		}
		rf, err := ParseRules(data)
		if err != nil {
			e.loadErr = err
			return
		}
		e.loadErr = e.compile(rf)
		if e.loadErr == nil {
			e.logger.Debug().Int("rules", len(e.rules)).Msg("Dispatch rules compiled")
		}
	})
}

func (e *Engine) compile(rf *RuleFile) error {
	nocase := e.noCase || rf.NoCase
	rules := make([]compiledRule, 0, len(rf.Rules))
	for i, r := range rf.Rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule[%d]", i)
		}
		if len(r.Workers) == 0 {
			e.logger.Warn().Str("rule", name).Msg("Dispatch rule has no workers, skipping")
			continue
		}
		kind := strings.ToLower(r.Kind)
		if kind == "" {
			kind = KindLiteral
		}
		compile, ok := e.kinds[kind]
		if !ok {
			return fmt.Errorf("%s: unknown rule kind %q", name, r.Kind)
		}
		match, err := compile(r.Pattern, nocase || r.NoCase, r.Offset)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		rules = append(rules, compiledRule{name: name, match: match, workers: r.Workers})
	}
	e.rules = rules
	return nil
}

// Err returns the load error, forcing the lazy load.
func (e *Engine) Err() error {
	e.load()
	return e.loadErr
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	e.load()
	return len(e.rules)
}

// Classify returns the sorted, de-duplicated union of the workers of every
// matching rule. An unusable rule resource classifies nothing.
func (e *Engine) Classify(data []byte) []string {
	names, _ := e.classify(data)
	return names
}

// Explain is Classify plus the names of the rules that matched.
func (e *Engine) Explain(data []byte) (workers []string, rules []string) {
	return e.classify(data)
}

func (e *Engine) classify(data []byte) ([]string, []string) {
	e.load()
	if e.loadErr != nil {
		if e.warned.CompareAndSwap(false, true) {
			e.logger.Warn().Err(e.loadErr).Msg("Dispatch rules unavailable, nothing will be dispatched")
		}
		return nil, nil
	}

	s := &Subject{raw: data}
	seen := make(map[string]struct{})
	var matched []string
	for _, r := range e.rules {
		if !r.match(s) {
			continue
		}
		matched = append(matched, r.name)
		for _, w := range r.workers {
			seen[w] = struct{}{}
		}
	}

	workers := make([]string, 0, len(seen))
	for w := range seen {
		workers = append(workers, w)
	}
	sort.Strings(workers)

	if len(matched) > 0 {
		e.logger.Debug().Strs("rules", matched).Strs("workers", workers).Msg("Dispatch matched")
	}
	return workers, matched
}
