package gridhttp

import (
	"net/url"
	"sort"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// ParseQuery converts bracketed query keys into grid parameters:
//
//	col=v               top-level string
//	col[]=a&col[]=b     top-level list
//	col[from]=1         top-level map, and bucket "col" key "from"
//	hash[col]=v         bucket string
//	hash[col][]=a       bucket list
//	hash[col][from]=1   bucket map
//
// Deeper nesting is ignored. For repeated scalar keys the last value wins.
func ParseQuery(values url.Values) grid.Params {
	params := grid.Params{Values: map[string]grid.Value{}, Namespaced: map[string]grid.Bucket{}}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		name, path, ok := splitKey(key)
		if !ok {
			continue
		}
		last := vals[len(vals)-1]

		switch len(path) {
		case 0:
			params.Values[name] = grid.StringValue(last)

		case 1:
			if path[0] == "" {
				params.Values[name] = appendList(params.Values[name], vals)
				continue
			}
			params.Values[name] = setMapEntry(params.Values[name], path[0], last)
			bucketOf(params, name)[path[0]] = grid.StringValue(last)

		case 2:
			if path[0] == "" {
				continue
			}
			bucket := bucketOf(params, name)
			if path[1] == "" {
				bucket[path[0]] = appendList(bucket[path[0]], vals)
				continue
			}
			bucket[path[0]] = setMapEntry(bucket[path[0]], path[1], last)
		}
	}
	return params
}

func bucketOf(params grid.Params, hash string) grid.Bucket {
	b, ok := params.Namespaced[hash]
	if !ok {
		b = grid.Bucket{}
		params.Namespaced[hash] = b
	}
	return b
}

// splitKey splits "a[b][c]" into "a" and ["b", "c"]
func splitKey(key string) (string, []string, bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, key != ""
	}
	name := key[:open]
	if name == "" {
		return "", nil, false
	}

	var path []string
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	if len(path) > 2 {
		return "", nil, false
	}
	return name, path, true
}

func appendList(v grid.Value, items []string) grid.Value {
	return grid.ListValue(append(append([]string(nil), v.List...), items...)...)
}

func setMapEntry(v grid.Value, key, value string) grid.Value {
	m := make(map[string]string, len(v.Map)+1)
	for k, val := range v.Map {
		m[k] = val
	}
	m[key] = value
	return grid.MapValue(m)
}
