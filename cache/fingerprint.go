package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes the deterministic cache key for one unit of work:
// a SHA-256 over the kind and every parameter that affects the output.
//
// Parameters are canonicalized before hashing — object keys are sorted
// recursively, array order is preserved, and numbers keep their JSON
// text form — so two semantically identical parameter documents always
// produce the same fingerprint regardless of key order.
//
// Top-level keys named in ignore are excluded. Only keys that genuinely
// do not affect the handler's output (cache-control flags, trace ids)
// belong there: excluding an output-affecting key causes silent
// incorrect cache hits, which is the primary correctness risk of the
// cache.
func Fingerprint(kind string, params []byte, ignore []string) (string, error) {
	canon, err := canonicalize(params, ignore)
	if err != nil {
		return "", fmt.Errorf("cache: fingerprint kind %q: %w", kind, err)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(canon))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize renders params as canonical JSON with the ignored
// top-level keys removed. Empty params canonicalize to "{}".
func canonicalize(params []byte, ignore []string) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(params, &doc); err != nil {
		return "", fmt.Errorf("params are not a JSON object: %w", err)
	}

	for _, key := range ignore {
		delete(doc, key)
	}

	var b strings.Builder
	if err := writeObject(&b, doc); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeObject(b *strings.Builder, doc map[string]json.RawMessage) error {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		if err := writeValue(b, doc[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeValue(b *strings.Builder, raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		b.WriteString("null")
		return nil
	}

	switch trimmed[0] {
	case '{':
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return err
		}
		return writeObject(b, nested)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		b.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		// Scalars keep their JSON text form, normalized of whitespace.
		b.WriteString(trimmed)
		return nil
	}
}
