package expressions

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rendis/rulekit/pkg/schema"
	"golang.org/x/sync/singleflight"
)

// CacheStats is a snapshot of the compile cache counters.
type CacheStats struct {
	Compiles int64 `json:"compiles"` // successful compilations performed
	Hits     int64 `json:"hits"`     // lookups served from the cache
	Size     int   `json:"size"`     // cached programs
}

// Compiler dispatches expressions to the engine of their kind and caches the
// compiled programs by kind and text. Concurrent requests for the same
// uncached expression share a single compilation. Failed compilations are not
// cached.
type Compiler struct {
	engines map[schema.ExpressionKind]Engine

	mu    sync.RWMutex
	cache map[string]Program
	group singleflight.Group

	compiles atomic.Int64
	hits     atomic.Int64
}

// NewCompiler creates a Compiler over the given engines. A later engine of the
// same kind replaces an earlier one.
func NewCompiler(engines ...Engine) *Compiler {
	c := &Compiler{
		engines: make(map[schema.ExpressionKind]Engine, len(engines)),
		cache:   make(map[string]Program),
	}
	for _, e := range engines {
		c.engines[e.Kind()] = e
	}
	return c
}

// DefaultEngines returns the built-in engines: predicate, expr, cel and jq.
func DefaultEngines() ([]Engine, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return []Engine{
		NewPredicateEngine(),
		NewExprEngine(),
		celEngine,
		NewGoJQEngine(),
	}, nil
}

// NewDefaultCompiler creates a Compiler with DefaultEngines.
func NewDefaultCompiler() (*Compiler, error) {
	engines, err := DefaultEngines()
	if err != nil {
		return nil, err
	}
	return NewCompiler(engines...), nil
}

// Kinds lists the registered expression kinds, sorted.
func (c *Compiler) Kinds() []schema.ExpressionKind {
	kinds := make([]schema.ExpressionKind, 0, len(c.engines))
	for k := range c.engines {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether kind (or the default kind when empty) has an engine.
func (c *Compiler) Supports(kind schema.ExpressionKind) bool {
	_, ok := c.engines[kind.OrDefault()]
	return ok
}

// Compile returns the cached program for (kind, expression), compiling it on
// first use.
func (c *Compiler) Compile(kind schema.ExpressionKind, expression string) (Program, error) {
	kind = kind.OrDefault()
	eng, ok := c.engines[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCompile, "unknown expression kind %q", kind).
			WithDetails(map[string]any{"kind": string(kind), "expression": expression})
	}

	key := string(kind) + "\x00" + expression
	if prg, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return prg, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double-check: another flight may have finished between lookup and Do.
		if prg, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return prg, nil
		}
		prg, err := compileSafely(eng, expression)
		if err != nil {
			return nil, err
		}
		c.compiles.Add(1)
		c.mu.Lock()
		c.cache[key] = prg
		c.mu.Unlock()
		return prg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Program), nil
}

func (c *Compiler) lookup(key string) (Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prg, ok := c.cache[key]
	return prg, ok
}

// Stats returns the current cache counters.
func (c *Compiler) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.cache)
	c.mu.RUnlock()
	return CacheStats{
		Compiles: c.compiles.Load(),
		Hits:     c.hits.Load(),
		Size:     size,
	}
}

// compileSafely converts a panic inside an engine into a compile error.
func compileSafely(eng Engine, expression string) (prg Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			prg = nil
			err = schema.NewErrorf(schema.ErrCodeCompile,
				"%s compiler panicked on %q: %v", eng.Kind(), expression, r).
				WithDetails(map[string]any{"expression": expression, "panic": fmt.Sprint(r)})
		}
	}()
	return eng.Compile(expression)
}
