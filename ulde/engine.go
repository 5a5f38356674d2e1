// Package ulde implements the Universal LLM Discovery Engine: two-tier
// detection of the instrumentor and provider that wrote a span's attributes,
// and table-driven extraction of those attributes into the canonical
// {inputs, outputs, config, metadata} sections.
//
// Both paths run inline on the span lifecycle, so they avoid regexes and
// unbounded allocation: detection is a prefix tally plus index lookups,
// extraction is a tuple-table walk with pre-compiled prefix matchers.
package ulde

import (
	"hash/fnv"
	"strconv"

	"github.com/honeyhiveai/honeyhive-go/bundle"
	"github.com/honeyhiveai/honeyhive-go/cache"
	"github.com/honeyhiveai/honeyhive-go/internal/log"
)

// Instrumentor identifies the third-party library that wrote a span's
// vendor attributes.
type Instrumentor string

const (
	InstrumentorTraceloop     Instrumentor = "traceloop"
	InstrumentorOpenInference Instrumentor = "openinference"
	InstrumentorOpenLit       Instrumentor = "openlit"
	InstrumentorUnknown       Instrumentor = "unknown"
)

// ProviderUnknown is the provider result when no detection tier succeeds.
// It is not an error; extraction still runs with best-effort rules.
const ProviderUnknown = "unknown"

// instrumentorPrefixes maps attribute-key prefixes to instrumentors in
// fixed priority order, used for tie-breaking the tier-1 tally.
var instrumentorPrefixes = [...]struct {
	prefix string
	instr  Instrumentor
}{
	{"gen_ai.", InstrumentorTraceloop},
	{"llm.", InstrumentorOpenInference},
	{"openlit.", InstrumentorOpenLit},
}

// Detection is the result of the two-tier lookup.
type Detection struct {
	Provider     string
	Instrumentor Instrumentor

	// Confidence is matched_keys / |K|, reported for monitoring only.
	Confidence float64
}

// Engine performs detection and extraction against a loaded rule bundle.
// A nil bundle puts the engine in pass-through mode: detection yields
// unknown and extraction yields empty sections.
type Engine struct {
	bundle *bundle.Bundle
	cache  *cache.Cache
	logger *log.Logger
}

// NewEngine creates an Engine. The cache holds detection results and
// compiled extractors; the logger receives one-shot transform warnings.
func NewEngine(b *bundle.Bundle, c *cache.Cache, l *log.Logger) *Engine {
	if l == nil {
		l = log.Nop()
	}
	if c == nil {
		c = cache.New(cache.WithMaxEntries(1000))
	}
	return &Engine{bundle: b, cache: c, logger: l}
}

// Ready reports whether the engine has a bundle loaded.
func (e *Engine) Ready() bool {
	return e.bundle != nil
}

// detectionKey builds the cache key for a detection result. It hashes the
// canonical key-set signature plus the values of the explicit detection
// fields, because value-based detection distinguishes providers that share
// a key set.
func (e *Engine) detectionKey(canonical string, attrs map[string]any) string {
	h := fnv.New64a()
	h.Write([]byte(canonical))
	for _, k := range e.bundle.ExplicitKeys() {
		if v, ok := attrs[k]; ok {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{'='})
			if s, ok := v.(string); ok {
				h.Write([]byte(s))
			}
		}
	}
	return "det:" + strconv.FormatUint(h.Sum64(), 16)
}
