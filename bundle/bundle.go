// Package bundle loads the compiled detection and extraction rule bundle:
// provider signatures, the inverted signature index, size-bucketed subset
// index, per-instrumentor extraction rule tables, and pricing tables. The
// artifact is produced by the build pipeline and is read-only at runtime.
package bundle

import (
	"sort"
	"strings"
)

// BuildMetadata records provenance of the compiled artifact.
type BuildMetadata struct {
	BuildTime     string `json:"build_time"`
	SourceVersion string `json:"source_version"`
	RuleCount     int    `json:"rule_count"`
}

// Provider holds the detection material for one LLM vendor.
type Provider struct {
	// ExplicitFields maps attribute keys to the values that identify this
	// provider, e.g. "gen_ai.system" -> ["openai"]. Used by value-based
	// detection.
	ExplicitFields map[string][]string `json:"explicit_fields"`
}

// Signature is one frozen set of attribute keys pointing at a pattern.
type Signature struct {
	Keys      []string `json:"keys"`
	PatternID string   `json:"pattern_id"`
}

// Pattern resolves a pattern id to its provider and instrumentor.
type Pattern struct {
	Provider     string `json:"provider"`
	Instrumentor string `json:"instrumentor"`
}

// MatchKind selects how a rule's key is matched against span attributes.
type MatchKind string

const (
	// MatchExact matches a single attribute key.
	MatchExact MatchKind = "exact"

	// MatchPrefix matches every key with the given prefix and yields a
	// key-to-value map of the matches.
	MatchPrefix MatchKind = "prefix"

	// MatchIndexed matches keys of the form <prefix><i>.<subkey> and
	// reconstructs an ordered message list by ascending index.
	MatchIndexed MatchKind = "indexed"

	// MatchDerived matches nothing; the transform computes its value from
	// fields extracted earlier (cost calculation).
	MatchDerived MatchKind = "derived"
)

// Rule is one extraction step: match a source key, apply a transform. The
// first rule in a field's list producing a non-null value wins.
type Rule struct {
	Key       string    `json:"key,omitempty"`
	Match     MatchKind `json:"match"`
	Transform string    `json:"transform"`
}

// FieldRules binds a canonical field (e.g. "config.model") to its ordered
// rule lists, one list per instrumentor.
type FieldRules struct {
	Field string            `json:"field"`
	Rules map[string][]Rule `json:"rules"`
}

// ModelPrice is the per-million-token price of a model in USD.
type ModelPrice struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// Bundle is the deserialized artifact plus the derived lookup indexes built
// once at load time. It is immutable after Load and safe for concurrent use
// without locking.
type Bundle struct {
	Version       string                           `json:"version"`
	BuildMetadata BuildMetadata                    `json:"build_metadata"`
	Providers     map[string]Provider              `json:"providers"`
	Signatures    []Signature                      `json:"signatures"`
	Patterns      map[string]Pattern               `json:"pattern_to_provider"`
	Fields        []FieldRules                     `json:"fields"`
	Pricing       map[string]map[string]ModelPrice `json:"pricing"`

	// Derived at load time.
	index        map[string]string
	bySize       map[int][]sigEntry
	sizes        []int // descending bucket sizes
	maxSigSize   int
	explicitKeys []string
}

type sigEntry struct {
	keys      map[string]struct{}
	patternID string
}

// CanonicalSignature returns the canonical form of a key set: sorted keys
// joined by newline. It is the map key of the inverted index and the cache
// key of detection results.
func CanonicalSignature(keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// buildIndexes populates the derived lookup structures. Collisions in the
// inverted index resolve first-writer-wins; the build pipeline logs them at
// compile time.
func (b *Bundle) buildIndexes() {
	b.index = make(map[string]string, len(b.Signatures))
	b.bySize = make(map[int][]sigEntry)

	for _, sig := range b.Signatures {
		canon := CanonicalSignature(sig.Keys)
		if _, exists := b.index[canon]; exists {
			continue
		}
		b.index[canon] = sig.PatternID

		set := make(map[string]struct{}, len(sig.Keys))
		for _, k := range sig.Keys {
			set[k] = struct{}{}
		}
		n := len(sig.Keys)
		b.bySize[n] = append(b.bySize[n], sigEntry{keys: set, patternID: sig.PatternID})
		if n > b.maxSigSize {
			b.maxSigSize = n
		}
	}

	b.sizes = make([]int, 0, len(b.bySize))
	for n := range b.bySize {
		b.sizes = append(b.sizes, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(b.sizes)))

	seen := make(map[string]struct{})
	for _, p := range b.Providers {
		for k := range p.ExplicitFields {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				b.explicitKeys = append(b.explicitKeys, k)
			}
		}
	}
	sort.Strings(b.explicitKeys)
}

// ExplicitKeys returns the sorted union of all providers' explicit-field
// attribute keys. Detection results depend on the values of these keys, so
// they participate in the detection cache key.
func (b *Bundle) ExplicitKeys() []string {
	return b.explicitKeys
}

// ExactMatch looks up the full key set in the inverted index.
func (b *Bundle) ExactMatch(canonical string) (string, bool) {
	id, ok := b.index[canonical]
	return id, ok
}

// SubsetMatch scans the size buckets in descending order and returns the
// first signature fully contained in the given key set. Work is bounded by
// the largest signature size, not by the number of providers.
func (b *Bundle) SubsetMatch(keys map[string]struct{}) (string, bool) {
	n := len(keys)
	for _, size := range b.sizes {
		if size > n {
			continue
		}
		for _, e := range b.bySize[size] {
			if containsAll(keys, e.keys) {
				return e.patternID, true
			}
		}
	}
	return "", false
}

// PatternTarget resolves a pattern id to its provider and instrumentor.
func (b *Bundle) PatternTarget(id string) (Pattern, bool) {
	p, ok := b.Patterns[id]
	return p, ok
}

// Price returns the pricing entry for a provider and model.
func (b *Bundle) Price(provider, model string) (ModelPrice, bool) {
	models, ok := b.Pricing[provider]
	if !ok {
		return ModelPrice{}, false
	}
	p, ok := models[model]
	return p, ok
}

func containsAll(super, sub map[string]struct{}) bool {
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}
