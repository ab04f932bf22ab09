// Package maas drives a MAAS region controller through one of three
// transports (HTTP API, local CLI, CLI over SSH) and exposes typed views
// over the payloads it returns.
package maas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Result is the outcome of a driver operation. Drivers never return Go
// errors; a failed call is Ok=false and Payload carries whatever diagnostic
// the transport produced (response body, CLI output) or nil.
type Result struct {
	Ok      bool
	Payload any
}

func ok(payload any) Result {
	return Result{Ok: true, Payload: payload}
}

func failed(payload any) Result {
	return Result{Payload: payload}
}

// Map returns the payload as an object, or nil.
func (r Result) Map() map[string]any {
	if !r.Ok {
		return nil
	}
	m, _ := r.Payload.(map[string]any)
	return m
}

// List returns the payload as a list of objects. Elements that are not
// objects are skipped.
func (r Result) List() []map[string]any {
	if !r.Ok {
		return nil
	}
	items, _ := r.Payload.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, isMap := item.(map[string]any); isMap {
			out = append(out, m)
		}
	}
	return out
}

// Text renders the payload as a string: raw text stays as is, anything
// else is JSON encoded.
func (r Result) Text() string {
	switch v := r.Payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// decodePayload parses JSON output and falls back to the raw text.
func decodePayload(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Params are operation arguments. Values are strings, string lists
// (sent as repeated keys) or nested maps (flattened with an underscore
// separated key prefix).
type Params map[string]any

// Flatten returns a single level copy where nested maps become
// parent_child keys and scalars become strings.
func (p Params) Flatten() map[string][]string {
	out := make(map[string][]string, len(p))
	flattenInto(out, "", p)
	return out
}

func flattenInto(out map[string][]string, prefix string, in map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch val := v.(type) {
		case nil:
		case map[string]any:
			flattenInto(out, key, val)
		case Params:
			flattenInto(out, key, val)
		case map[string]string:
			nested := make(map[string]any, len(val))
			for nk, nv := range val {
				nested[nk] = nv
			}
			flattenInto(out, key, nested)
		case []string:
			out[key] = append(out[key], val...)
		case []any:
			for _, item := range val {
				out[key] = append(out[key], fmt.Sprint(item))
			}
		default:
			out[key] = append(out[key], fmt.Sprint(val))
		}
	}
}

// without returns a copy of p minus the given keys.
func (p Params) without(keys ...string) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// args renders flattened params as sorted key=value arguments, one per
// list element.
func (p Params) args() []string {
	flat := p.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		for _, v := range flat[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func (p Params) String() string {
	return strings.Join(p.args(), " ")
}
