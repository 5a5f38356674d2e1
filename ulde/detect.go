package ulde

import (
	"strings"

	"github.com/honeyhiveai/honeyhive-go/bundle"
)

// Detect runs the two-tier lookup over a span's attribute map. It is pure:
// identical inputs produce identical results, and the cache only memoizes,
// never alters, outputs. Malformed attribute values degrade to unknown
// rather than erroring.
func (e *Engine) Detect(attrs map[string]any) Detection {
	if e.bundle == nil || len(attrs) == 0 {
		return Detection{Provider: ProviderUnknown, Instrumentor: InstrumentorUnknown}
	}

	// Tier 1: instrumentor by prefix tally. O(|A|) with a fixed-size
	// counter array; priority order breaks ties.
	var counts [len(instrumentorPrefixes)]int
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
		for i := range instrumentorPrefixes {
			if strings.HasPrefix(k, instrumentorPrefixes[i].prefix) {
				counts[i]++
				break
			}
		}
	}

	instr := InstrumentorUnknown
	best := 0
	for i := range instrumentorPrefixes {
		if counts[i] > best {
			best = counts[i]
			instr = instrumentorPrefixes[i].instr
		}
	}

	canonical := bundle.CanonicalSignature(keys)
	cacheKey := e.detectionKey(canonical, attrs)
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached.(Detection)
	}

	det := e.detectProvider(attrs, keys, canonical, instr)
	e.cache.Set(cacheKey, det, 0)
	return det
}

func (e *Engine) detectProvider(attrs map[string]any, keys []string, canonical string, instr Instrumentor) Detection {
	total := len(keys)

	// Tier 2, step 1: exact signature match on the full key set.
	if id, ok := e.bundle.ExactMatch(canonical); ok {
		if target, ok := e.bundle.PatternTarget(id); ok {
			return Detection{
				Provider:     target.Provider,
				Instrumentor: Instrumentor(target.Instrumentor),
				Confidence:   1.0,
			}
		}
	}

	// Step 2: value-based detection over the detected instrumentor's
	// explicit fields. Succeeds when a single provider matches; ties are
	// broken by match count, and an unresolved tie falls through.
	if provider, matched, ok := e.detectByValue(attrs, instr); ok {
		return Detection{
			Provider:     provider,
			Instrumentor: instr,
			Confidence:   float64(matched) / float64(total),
		}
	}

	// Step 3: subset match over size buckets, largest first.
	keySet := make(map[string]struct{}, total)
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	if id, ok := e.bundle.SubsetMatch(keySet); ok {
		if target, ok := e.bundle.PatternTarget(id); ok {
			return Detection{
				Provider:     target.Provider,
				Instrumentor: Instrumentor(target.Instrumentor),
				Confidence:   confidenceOf(e.bundle, id, total),
			}
		}
	}

	return Detection{Provider: ProviderUnknown, Instrumentor: instr}
}

// detectByValue consults each provider's explicit fields, restricted to
// attribute keys in the detected instrumentor's dialect.
func (e *Engine) detectByValue(attrs map[string]any, instr Instrumentor) (string, int, bool) {
	prefix := ""
	for i := range instrumentorPrefixes {
		if instrumentorPrefixes[i].instr == instr {
			prefix = instrumentorPrefixes[i].prefix
			break
		}
	}
	if prefix == "" {
		return "", 0, false
	}

	bestProvider := ""
	bestMatched := 0
	tied := false
	for name, p := range e.bundle.Providers {
		matched := 0
		for attrKey, accepted := range p.ExplicitFields {
			if !strings.HasPrefix(attrKey, prefix) {
				continue
			}
			v, ok := attrs[attrKey].(string)
			if !ok {
				continue
			}
			for _, want := range accepted {
				if v == want {
					matched++
					break
				}
			}
		}
		if matched == 0 {
			continue
		}
		switch {
		case matched > bestMatched:
			bestProvider, bestMatched, tied = name, matched, false
		case matched == bestMatched:
			tied = true
		}
	}

	if bestMatched == 0 || tied {
		return "", 0, false
	}
	return bestProvider, bestMatched, true
}

// confidenceOf reports |signature| / |K| for a subset match.
func confidenceOf(b *bundle.Bundle, patternID string, total int) float64 {
	for _, sig := range b.Signatures {
		if sig.PatternID == patternID {
			return float64(len(sig.Keys)) / float64(total)
		}
	}
	return 0
}
