package cable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params holds the key/value options handed to a driver's Connect function.
// Keys are case-insensitive. Drivers look up the keys they understand and
// ignore the rest.
type Params map[string]string

// ParseParams turns "key=value" words into Params. A bare word without '='
// is stored with an empty value.
func ParseParams(words []string) (Params, error) {
	p := make(Params, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		key, value, _ := strings.Cut(w, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, Errorf(ConfigurationError, "parse params", "empty key in %q", w)
		}
		p[key] = strings.TrimSpace(value)
	}
	return p, nil
}

// Has reports whether key was supplied.
func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// String returns the value for key or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// Uint parses key as an unsigned integer. 0x, 0o and 0b prefixes are
// honoured. Missing keys return def.
func (p Params) Uint(key string, def uint64) (uint64, error) {
	v, ok := p[strings.ToLower(key)]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, &Error{Kind: ConfigurationError, Op: "param " + key, Err: err}
	}
	return n, nil
}

// RequireUint is Uint for keys that have no default.
func (p Params) RequireUint(key string) (uint64, error) {
	if !p.Has(key) {
		return 0, Errorf(ConfigurationError, "param "+key, "required parameter %q is missing", key)
	}
	return p.Uint(key, 0)
}

// UintList parses a comma separated list of unsigned integers.
func (p Params) UintList(key string) ([]uint64, error) {
	v, ok := p[strings.ToLower(key)]
	if !ok || v == "" {
		return nil, nil
	}
	fields := strings.Split(v, ",")
	out := make([]uint64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 0, 64)
		if err != nil {
			return nil, &Error{Kind: ConfigurationError, Op: "param " + key, Err: err}
		}
		out = append(out, n)
	}
	return out, nil
}

// Format renders the params as sorted key=value words.
func (p Params) Format() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, p[k])
	}
	return strings.Join(parts, " ")
}
