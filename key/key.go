package key

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for key construction.
var (
	ErrEmptyDomain      = errors.New("key: domain is empty")
	ErrUnsupportedValue = errors.New("key: parameter value is not serializable")
)

// Params is the parameter map a query key is derived from. Values must be
// JSON-serializable; nil values are treated as absent.
type Params map[string]any

// Key is the canonical identity of a query: a domain name plus a digest of
// the normalized parameters. Keys are comparable with == and are safe to use
// as map keys.
//
// Contract:
// - Determinism: equal (domain, params) inputs produce equal keys, regardless
//   of map iteration order and of nil parameter entries.
// - Immutability: a Key is never mutated after Build returns it.
type Key struct {
	domain string
	hash   string
}

// Domain returns the data domain this key belongs to.
func (k Key) Domain() string { return k.domain }

// Hash returns the 16-hex-character parameter digest.
func (k Key) Hash() string { return k.hash }

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool { return k.domain == "" && k.hash == "" }

// String returns the wire form of the key.
// Format: query:<domain>:<hash>
func (k Key) String() string {
	return "query:" + k.domain + ":" + k.hash
}

// Build derives a Key from a domain name and a parameter map.
//
// Normalization rules:
//   - map keys are sorted, so property order never matters
//   - nil values (at any nesting level of a map) are omitted
//   - nested maps and slices are normalized recursively
//
// Build is pure: it performs no I/O and touches no shared state. A value
// that cannot be serialized (channels, functions) is a caller error and is
// reported as ErrUnsupportedValue.
func Build(domain string, params Params) (Key, error) {
	if domain == "" {
		return Key{}, ErrEmptyDomain
	}

	canonical, err := canonicalize(map[string]any(params))
	if err != nil {
		return Key{}, err
	}

	sum := sha256.Sum256(canonical)
	return Key{
		domain: domain,
		hash:   hex.EncodeToString(sum[:8]), // First 8 bytes = 16 hex chars
	}, nil
}

// canonicalize produces a deterministic JSON representation of v.
// Maps are emitted with sorted keys and nil members dropped.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case Params:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
		}
		return data, nil
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name, value := range m {
		// Absent and nil parameters are the same query.
		if value == nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	result := []byte("{")
	for i, name := range names {
		if i > 0 {
			result = append(result, ',')
		}

		nameBytes, err := json.Marshal(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		result = append(result, nameBytes...)
		result = append(result, ':')

		valueBytes, err := canonicalize(m[name])
		if err != nil {
			return nil, err
		}
		result = append(result, valueBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valueBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valueBytes...)
	}
	result = append(result, ']')

	return result, nil
}
