// Package event normalizes raw streaming events into displayable text
// fragments. Agent backends disagree about event shapes: some emit objects
// carrying a delta, some a data payload, some a bare text field, some plain
// strings, and some forward a wire protocol as nested JSON. The normalizer
// probes an event against each known shape in a fixed priority order and
// returns the first text it finds, or an empty fragment when nothing matches.
package event

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// Probe extracts a text fragment from one raw event. The second return value
// reports whether the probe recognized the event at all; a recognized event
// may still carry empty text.
type Probe func(ev any) (string, bool)

// Normalizer applies an ordered probe chain to raw events. The zero value is
// not usable; construct with New.
type Normalizer struct {
	probes []Probe
}

// New builds a normalizer with the default probe chain. Extra probes, if any,
// run before the defaults so a backend adapter can claim its own event types.
func New(extra ...Probe) *Normalizer {
	probes := append([]Probe{}, extra...)
	probes = append(probes,
		probeDelta,
		probeData,
		probeText,
		probeString,
	)
	return &Normalizer{probes: probes}
}

// Normalize converts one raw event into a text fragment. It never fails: an
// unrecognized shape yields an empty fragment, because dropping one control
// event must not abort an otherwise healthy stream.
func (n *Normalizer) Normalize(ev any) string {
	if ev == nil {
		return ""
	}
	for _, probe := range n.probes {
		if text, ok := probe(ev); ok {
			return text
		}
	}
	return ""
}

// probeDelta matches delta-shaped events: an object or map carrying a delta
// payload, or the nested contentBlockDelta wire envelope (as maps or as raw
// JSON bytes).
func probeDelta(ev any) (string, bool) {
	if raw, ok := rawJSON(ev); ok {
		for _, path := range []string{"event.contentBlockDelta.delta.text", "delta.text"} {
			if r := gjson.GetBytes(raw, path); r.Type == gjson.String {
				return r.String(), true
			}
		}
		return "", false
	}

	// Wire envelope carried as decoded maps.
	if env, ok := fieldOf(ev, "event"); ok {
		if cbd, ok := fieldOf(env, "contentblockdelta"); ok {
			if delta, ok := fieldOf(cbd, "delta"); ok {
				if text, ok := stringField(delta, "text"); ok {
					return text, true
				}
			}
		}
		return "", false
	}

	delta, ok := fieldOf(ev, "delta")
	if !ok || delta == nil {
		return "", false
	}
	if s, ok := delta.(string); ok {
		return s, true
	}
	if text, ok := stringField(delta, "text"); ok {
		return text, true
	}
	return "", false
}

// probeData matches events carrying a data payload: a plain string, or a map
// with text or content inside.
func probeData(ev any) (string, bool) {
	if raw, ok := rawJSON(ev); ok {
		if r := gjson.GetBytes(raw, "data"); r.Type == gjson.String {
			return r.String(), true
		}
		return "", false
	}

	data, ok := fieldOf(ev, "data")
	if !ok || data == nil {
		return "", false
	}
	if s, ok := data.(string); ok {
		return s, true
	}
	if text, ok := stringField(data, "text"); ok {
		return text, true
	}
	if content, ok := fieldOf(data, "content"); ok {
		if s, ok := content.(string); ok {
			return s, true
		}
		if blocks, ok := content.([]any); ok {
			for _, block := range blocks {
				if text, ok := stringField(block, "text"); ok {
					return text, true
				}
			}
		}
	}
	return "", false
}

// probeText matches events with a bare text field.
func probeText(ev any) (string, bool) {
	if raw, ok := rawJSON(ev); ok {
		if r := gjson.GetBytes(raw, "text"); r.Type == gjson.String {
			return r.String(), true
		}
		return "", false
	}
	return stringField(ev, "text")
}

// probeString matches events that are themselves plain strings.
func probeString(ev any) (string, bool) {
	s, ok := ev.(string)
	return s, ok
}

func rawJSON(ev any) ([]byte, bool) {
	switch v := ev.(type) {
	case json.RawMessage:
		return v, gjson.ValidBytes(v)
	case []byte:
		return v, gjson.ValidBytes(v)
	}
	return nil, false
}

// fieldOf reads a named member from a map or an exported struct field,
// matching names case-insensitively and ignoring underscores, so that
// "contentBlockDelta", "content_block_delta" and ContentBlockDelta all meet.
func fieldOf(obj any, name string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	want := normalizeName(name)

	switch m := obj.(type) {
	case map[string]any:
		for k, v := range m {
			if normalizeName(k) == want {
				return v, true
			}
		}
		return nil, false
	case map[string]string:
		for k, v := range m {
			if normalizeName(k) == want {
				return v, true
			}
		}
		return nil, false
	}

	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if normalizeName(f.Name) == want {
			return v.Field(i).Interface(), true
		}
	}
	return nil, false
}

func stringField(obj any, name string) (string, bool) {
	v, ok := fieldOf(obj, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}
