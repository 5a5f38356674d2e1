package ulde

import (
	"sort"
	"strconv"
	"strings"

	"github.com/honeyhiveai/honeyhive-go/bundle"
)

// Canonical is the extracted event partial: the four semantic sections of
// the canonical schema.
type Canonical struct {
	Inputs   map[string]any
	Outputs  map[string]any
	Config   map[string]any
	Metadata map[string]any
}

// NewCanonical returns a Canonical with all sections initialized.
func NewCanonical() Canonical {
	return Canonical{
		Inputs:   make(map[string]any),
		Outputs:  make(map[string]any),
		Config:   make(map[string]any),
		Metadata: make(map[string]any),
	}
}

// Empty reports whether no section holds any field.
func (c Canonical) Empty() bool {
	return len(c.Inputs) == 0 && len(c.Outputs) == 0 && len(c.Config) == 0 && len(c.Metadata) == 0
}

// section returns the map for a section name.
func (c Canonical) section(name string) map[string]any {
	switch name {
	case "inputs":
		return c.Inputs
	case "outputs":
		return c.Outputs
	case "config":
		return c.Config
	case "metadata":
		return c.Metadata
	}
	return nil
}

// Extractor is a compiled rule table for one instrumentor: canonical fields
// in application order, each with its resolved transform functions.
type Extractor struct {
	fields []compiledField
}

type compiledField struct {
	section string
	name    string
	rules   []compiledRule
}

type compiledRule struct {
	key       string
	match     bundle.MatchKind
	name      string
	transform transformFunc
}

// identityExtractor yields empty canonical sections. Returned when
// compilation fails so extraction degrades instead of erroring.
var identityExtractor = &Extractor{}

// extractorFor returns the compiled extractor for an instrumentor,
// compiling it on first access. Compilation is single-flighted through the
// engine cache.
func (e *Engine) extractorFor(instr Instrumentor) *Extractor {
	if e.bundle == nil {
		return identityExtractor
	}
	v, err := e.cache.GetOrCompute("ext:"+string(instr), func() (any, error) {
		return e.compile(instr), nil
	})
	if err != nil {
		return identityExtractor
	}
	return v.(*Extractor)
}

func (e *Engine) compile(instr Instrumentor) *Extractor {
	ext := &Extractor{}
	for _, f := range e.bundle.Fields {
		rules, ok := f.Rules[string(instr)]
		if !ok {
			rules = f.Rules["*"]
		}
		if len(rules) == 0 {
			continue
		}
		section, name, found := strings.Cut(f.Field, ".")
		if !found {
			continue
		}
		cf := compiledField{section: section, name: name}
		for _, r := range rules {
			fn, ok := transforms[r.Transform]
			if !ok {
				e.logger.WarnOnce("compile/"+r.Transform, "unknown transform in bundle",
					"transform", r.Transform, "field", f.Field)
				continue
			}
			cf.rules = append(cf.rules, compiledRule{
				key:       r.Key,
				match:     r.Match,
				name:      r.Transform,
				transform: fn,
			})
		}
		if len(cf.rules) > 0 {
			ext.fields = append(ext.fields, cf)
		}
	}
	return ext
}

// extraction is the per-call state threaded through transforms.
type extraction struct {
	engine *Engine
	det    Detection
	attrs  map[string]any
	can    Canonical

	// outMsgs holds the normalized output messages captured by
	// extract_content_from_messages, so role, finish reason, and tool
	// calls can be derived when the dialect has no dedicated keys.
	outMsgs []map[string]any
}

// Extract applies the per-(provider, instrumentor) rule table to the span
// attributes and produces the canonical sections. A failing transform is
// caught, logged once per (provider, transform), and treated as null; the
// offending field is omitted and extraction continues.
func (e *Engine) Extract(det Detection, attrs map[string]any) Canonical {
	can := NewCanonical()
	ext := e.extractorFor(det.Instrumentor)
	if len(ext.fields) == 0 {
		return can
	}

	x := &extraction{engine: e, det: det, attrs: attrs, can: can}

	for _, f := range ext.fields {
		target := can.section(f.section)
		if target == nil {
			continue
		}
		for _, r := range f.rules {
			raw := x.matchRaw(r)
			if raw == nil && r.match != bundle.MatchDerived {
				continue
			}
			v, err := func() (v any, err error) {
				defer func() {
					if rec := recover(); rec != nil {
						v, err = nil, panicError(rec)
					}
				}()
				return r.transform(x, raw)
			}()
			if err != nil {
				e.logger.WarnOnce(det.Provider+"/"+r.name, "transform failed",
					"provider", det.Provider, "transform", r.name, "error", err)
				continue
			}
			if v == nil {
				continue
			}
			target[f.name] = v
			break
		}
	}

	x.derive()
	return can
}

// derive fills fields the dialect carries only inside its message payloads,
// and sums the token total when absent.
func (x *extraction) derive() {
	if len(x.outMsgs) > 0 {
		msg := x.outMsgs[0]
		for _, m := range x.outMsgs {
			if m["role"] == "assistant" {
				msg = m
				break
			}
		}
		if _, ok := x.can.Outputs["role"]; !ok {
			if role, ok := msg["role"].(string); ok && role != "" {
				x.can.Outputs["role"] = role
			}
		}
		if _, ok := x.can.Outputs["finish_reason"]; !ok {
			if fr, ok := msg["finish_reason"].(string); ok && fr != "" {
				x.can.Outputs["finish_reason"] = normalizeFinishReason(fr)
			}
		}
		if _, ok := x.can.Outputs["tool_calls"]; !ok {
			if tc, ok := msg["tool_calls"]; ok {
				x.can.Outputs["tool_calls"] = tc
			}
		}
	}

	if _, ok := x.can.Metadata["total_tokens"]; !ok {
		pt, okP := asInt(x.can.Metadata["prompt_tokens"])
		ct, okC := asInt(x.can.Metadata["completion_tokens"])
		if okP && okC {
			x.can.Metadata["total_tokens"] = pt + ct
		}
	}
}

// matchRaw resolves a rule's source value from the attribute map.
func (x *extraction) matchRaw(r compiledRule) any {
	switch r.match {
	case bundle.MatchExact:
		return x.attrs[r.key]

	case bundle.MatchPrefix:
		var out map[string]any
		for k, v := range x.attrs {
			if strings.HasPrefix(k, r.key) {
				if out == nil {
					out = make(map[string]any)
				}
				out[k] = v
			}
		}
		if out == nil {
			return nil
		}
		return out

	case bundle.MatchIndexed:
		return reconstructIndexed(x.attrs, r.key)

	case bundle.MatchDerived:
		return nil
	}
	return nil
}

// reconstructIndexed rebuilds an ordered entry list from keys of the form
// <prefix><i>.<subkey>. The numeric index is parsed in one pass without
// regex; output is ordered by ascending index.
func reconstructIndexed(attrs map[string]any, prefix string) any {
	byIndex := make(map[int]map[string]any)
	for k, v := range attrs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		idxStr, sub, found := strings.Cut(rest, ".")
		if !found || sub == "" {
			continue
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		entry, ok := byIndex[idx]
		if !ok {
			entry = make(map[string]any)
			byIndex[idx] = entry
		}
		entry[sub] = v
	}
	if len(byIndex) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]map[string]any, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, byIndex[i])
	}
	return out
}
