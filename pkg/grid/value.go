package grid

import (
	"sort"
	"strings"
)

// Reserved keys inside a grid's request and session buckets
const (
	KeyPage          = "_page"
	KeyLimit         = "_limit"
	KeyOrder         = "_order"
	KeyActionID      = "__action_id"
	KeyActionAllKeys = "__action_all_keys"
)

// Value is one raw request or session value. Query strings produce a plain
// string (col=foo), a list (hash[col][]=a) or a map (hash[col][from]=1).
// Presence is decided by the containing map, so an empty string is a value.
type Value struct {
	String string            `json:"s,omitempty"`
	List   []string          `json:"l,omitempty"`
	Map    map[string]string `json:"m,omitempty"`
}

func StringValue(s string) Value {
	return Value{String: s}
}

func ListValue(items ...string) Value {
	return Value{List: items}
}

func MapValue(m map[string]string) Value {
	return Value{Map: m}
}

// IsZero reports whether the value carries no data at all
func (v Value) IsZero() bool {
	return v.String == "" && len(v.List) == 0 && len(v.Map) == 0
}

// Truthy follows the usual query-string convention: "", "0" and empty
// collections are false.
func (v Value) Truthy() bool {
	switch {
	case len(v.List) > 0 || len(v.Map) > 0:
		return true
	default:
		return v.String != "" && v.String != "0"
	}
}

// Strings flattens the value into a list. Map values are ordered by key.
func (v Value) Strings() []string {
	switch {
	case len(v.List) > 0:
		return append([]string(nil), v.List...)
	case len(v.Map) > 0:
		out := make([]string, 0, len(v.Map))
		for _, k := range v.MapKeys() {
			out = append(out, v.Map[k])
		}
		return out
	case v.String != "":
		return []string{v.String}
	}
	return nil
}

// MapKeys returns the sorted keys of a map value
func (v Value) MapKeys() []string {
	keys := make([]string, 0, len(v.Map))
	for k := range v.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) Equal(o Value) bool {
	if v.String != o.String || len(v.List) != len(o.List) || len(v.Map) != len(o.Map) {
		return false
	}
	for i := range v.List {
		if v.List[i] != o.List[i] {
			return false
		}
	}
	for k, s := range v.Map {
		if t, ok := o.Map[k]; !ok || s != t {
			return false
		}
	}
	return true
}

// splitList turns a legacy comma separated parameter into a deduplicated list
func splitList(s string) []string {
	return dedup(strings.Split(s, ","))
}

func dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Bucket is the persisted state of one grid: column id or reserved key to
// its last resolved raw value
type Bucket map[string]Value

func (b Bucket) Clone() Bucket {
	out := make(Bucket, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Patch is the change reconciliation wants applied to a grid's bucket
type Patch struct {
	Set   Bucket   `json:"set,omitempty"`
	Unset []string `json:"unset,omitempty"`
}

func (p *Patch) set(key string, v Value) {
	if p.Set == nil {
		p.Set = Bucket{}
	}
	p.Set[key] = v
	for i, k := range p.Unset {
		if k == key {
			p.Unset = append(p.Unset[:i], p.Unset[i+1:]...)
			break
		}
	}
}

func (p *Patch) unset(key string) {
	delete(p.Set, key)
	p.Unset = append(p.Unset, key)
}

// IsEmpty reports whether applying the patch changes nothing
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0
}

// Apply returns a copy of b with the patch applied
func (p Patch) Apply(b Bucket) Bucket {
	out := b.Clone()
	for _, k := range p.Unset {
		delete(out, k)
	}
	for k, v := range p.Set {
		out[k] = v
	}
	return out
}

// Params is a snapshot of the request parameters. Values holds plain
// top-level parameters; Namespaced holds the hash[key] buckets.
type Params struct {
	Values     map[string]Value
	Namespaced map[string]Bucket
}

// Raw returns a top-level parameter
func (p Params) Raw(key string) (Value, bool) {
	v, ok := p.Values[key]
	return v, ok
}

// Bucket returns the namespaced parameters for one grid hash
func (p Params) Bucket(hash string) Bucket {
	return p.Namespaced[hash]
}
