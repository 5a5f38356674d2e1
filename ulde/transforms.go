package ulde

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// transformFunc is one of the enumerated pure transforms. A nil result means
// the rule produced nothing and the next rule is tried.
type transformFunc func(x *extraction, raw any) (any, error)

// transforms resolves the bundle's transform names. The set is closed; an
// unknown name in the artifact fails compilation of that rule only.
var transforms = map[string]transformFunc{
	"direct":                        transformDirect,
	"json_parse_or_direct":          transformJSONParseOrDirect,
	"parse_messages":                transformParseMessages,
	"parse_flattened_messages":      transformParseFlattenedMessages,
	"extract_content_from_messages": transformExtractContent,
	"extract_first_value":           transformExtractFirstValue,
	"cost_calculate":                transformCostCalculate,
	"finish_reason_normalize":       transformFinishReason,
}

func transformDirect(_ *extraction, raw any) (any, error) {
	return raw, nil
}

func transformJSONParseOrDirect(_ *extraction, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return parseJSONOrKeep(v), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = parseJSONOrKeep(s)
			} else {
				out[k] = item
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func transformParseMessages(_ *extraction, raw any) (any, error) {
	msgs, err := normalizeMessages(raw)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs, nil
}

func transformParseFlattenedMessages(_ *extraction, raw any) (any, error) {
	entries, ok := raw.([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("flattened messages: unexpected %T", raw)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, normalizeOne(e))
	}
	return out, nil
}

func transformExtractContent(x *extraction, raw any) (any, error) {
	var msgs []map[string]any
	var err error
	if entries, ok := raw.([]map[string]any); ok {
		msgs = make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, normalizeOne(e))
		}
	} else {
		msgs, err = normalizeMessages(raw)
		if err != nil {
			return nil, err
		}
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	x.outMsgs = msgs

	// First assistant message's content, else the first content-bearing one.
	for _, m := range msgs {
		if m["role"] == "assistant" {
			if c, ok := m["content"].(string); ok && c != "" {
				return c, nil
			}
		}
	}
	for _, m := range msgs {
		if c, ok := m["content"].(string); ok && c != "" {
			return c, nil
		}
	}
	return nil, nil
}

func transformExtractFirstValue(_ *extraction, raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v[k] != nil {
				return v[k], nil
			}
		}
		return nil, nil
	case []any:
		for _, item := range v {
			if item != nil {
				return item, nil
			}
		}
		return nil, nil
	default:
		return raw, nil
	}
}

func transformCostCalculate(x *extraction, _ any) (any, error) {
	if x.engine.bundle == nil {
		return nil, nil
	}
	model, _ := x.can.Config["model"].(string)
	if model == "" {
		return nil, nil
	}
	pt, okP := asInt(x.can.Metadata["prompt_tokens"])
	ct, okC := asInt(x.can.Metadata["completion_tokens"])
	if !okP || !okC {
		return nil, nil
	}
	price, ok := x.engine.bundle.Price(x.det.Provider, model)
	if !ok {
		return nil, nil
	}
	cost := (float64(pt)*price.Prompt + float64(ct)*price.Completion) / 1e6
	return cost, nil
}

func transformFinishReason(_ *extraction, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("finish reason: unexpected %T", raw)
	}
	return normalizeFinishReason(s), nil
}

// normalizeFinishReason maps vendor finish-reason enums onto the canonical
// set {stop, length, tool_calls, content_filter, function_call, other}.
func normalizeFinishReason(s string) string {
	switch s {
	case "stop", "end_turn", "stop_sequence", "STOP", "COMPLETE":
		return "stop"
	case "length", "max_tokens", "MAX_TOKENS":
		return "length"
	case "tool_calls", "tool_use":
		return "tool_calls"
	case "content_filter", "SAFETY":
		return "content_filter"
	case "function_call":
		return "function_call"
	default:
		return "other"
	}
}

// parseJSONOrKeep attempts a JSON parse and returns the raw string when it
// fails.
func parseJSONOrKeep(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// normalizeMessages accepts a JSON string, a list, or a single object and
// normalizes every entry to {role, content[, tool_calls]}.
func normalizeMessages(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("messages: %w", err)
		}
		return normalizeMessages(parsed)
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			out = append(out, normalizeOne(item))
		}
		return out, nil
	case []map[string]any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			out = append(out, normalizeOne(item))
		}
		return out, nil
	case map[string]any:
		return []map[string]any{normalizeOne(v)}, nil
	default:
		return nil, fmt.Errorf("messages: unexpected %T", raw)
	}
}

// normalizeOne maps a single entry to the canonical message shape. Both the
// plain {role, content} form and the flattened {message.role,
// message.content} form are accepted.
func normalizeOne(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		if s, ok := v.(string); ok {
			return map[string]any{"role": "user", "content": s}
		}
		return map[string]any{"role": "user", "content": fmt.Sprintf("%v", v)}
	}

	if nested, ok := m["message"].(map[string]any); ok {
		m = nested
	}

	out := make(map[string]any, 2)
	out["role"] = firstString(m, "role", "message.role")
	if c, ok := lookupAny(m, "content", "message.content"); ok {
		out["content"] = c
	} else {
		out["content"] = nil
	}
	if name := firstString(m, "name", "message.name"); name != "" {
		out["name"] = name
	}
	if id := firstString(m, "tool_call_id", "message.tool_call_id"); id != "" {
		out["tool_call_id"] = id
	}
	if tc, ok := lookupAny(m, "tool_calls", "message.tool_calls"); ok {
		if calls := normalizeToolCalls(tc); len(calls) > 0 {
			out["tool_calls"] = calls
		}
	}
	if fr := firstString(m, "finish_reason", "message.finish_reason"); fr != "" {
		out["finish_reason"] = fr
	}
	return out
}

// normalizeToolCalls normalizes tool calls, guaranteeing that
// function.arguments stays a JSON-encoded string. A string that is already
// JSON is never decoded and re-serialized.
func normalizeToolCalls(raw any) []map[string]any {
	if s, ok := raw.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil
		}
		raw = parsed
	}

	items, ok := raw.([]any)
	if !ok {
		if one, ok := raw.(map[string]any); ok {
			items = []any{one}
		} else {
			return nil
		}
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		call, ok := item.(map[string]any)
		if !ok {
			continue
		}
		norm := map[string]any{}
		if id, ok := call["id"].(string); ok {
			norm["id"] = id
		}
		if typ, ok := call["type"].(string); ok {
			norm["type"] = typ
		}
		fn := map[string]any{}
		if f, ok := call["function"].(map[string]any); ok {
			if name, ok := f["name"].(string); ok {
				fn["name"] = name
			}
			switch args := f["arguments"].(type) {
			case string:
				fn["arguments"] = args
			case nil:
			default:
				if data, err := json.Marshal(args); err == nil {
					fn["arguments"] = string(data)
				}
			}
		}
		norm["function"] = fn
		out = append(out, norm)
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func lookupAny(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// asInt coerces the numeric representations seen in span attributes.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", rec)
}
