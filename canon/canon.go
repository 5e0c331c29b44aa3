// Package canon implements JSON Canonical Serialization (JCS, RFC 8785) and
// the content-addressing built on top of it: every value that needs a
// stable hash or signature is first reduced to canonical bytes.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrNonFiniteNumber is returned when a value being canonicalized contains
// NaN or +/-Inf, which JCS cannot represent.
type ErrNonFiniteNumber struct {
	Path string
}

func (e *ErrNonFiniteNumber) Error() string {
	return fmt.Sprintf("canon: non-finite number at %s", e.Path)
}

// ToCanonicalBytes serializes v as JCS: object keys sorted lexicographically
// by UTF-16 code unit, arrays left in input order, numbers in
// ECMAScript-shortest round-trip form, strings minimally escaped, output
// UTF-8. v must already be (or decode to) plain JSON data: maps, slices,
// strings, float64/json.Number, bool, nil.
func ToCanonicalBytes(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, normalized, ""); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// Sha256Hex returns the lower-case hex SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentAddress canonicalizes v and returns "sha256:<64-hex>" of the
// resulting bytes, alongside the canonical bytes themselves (callers that
// also need to persist the bytes avoid re-canonicalizing).
func ContentAddress(v interface{}) (ref string, canonicalBytes []byte, err error) {
	canonicalBytes, err = ToCanonicalBytes(v)
	if err != nil {
		return "", nil, err
	}
	return "sha256:" + Sha256Hex(canonicalBytes), canonicalBytes, nil
}

// normalize decodes v into plain JSON data if it is not already, by round
// tripping through encoding/json when v is a Go struct, so that map key
// ordering and number representations are under our control from here on.
func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, string, float64, json.Number, bool, nil:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal for normalization: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canon: decode for normalization: %w", err)
	}
	return out, nil
}

func writeCanonical(sb *strings.Builder, v interface{}, path string) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
		return nil
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return nil
	case string:
		writeCanonicalString(sb, val)
		return nil
	case json.Number:
		return writeCanonicalNumber(sb, val, path)
	case float64:
		return writeCanonicalNumber(sb, json.Number(strconv.FormatFloat(val, 'g', -1, 64)), path)
	case map[string]interface{}:
		return writeCanonicalObject(sb, val, path)
	case []interface{}:
		return writeCanonicalArray(sb, val, path)
	default:
		normalized, err := normalize(v)
		if err != nil {
			return fmt.Errorf("canon: unsupported type %T at %s: %w", v, path, err)
		}
		return writeCanonical(sb, normalized, path)
	}
}

func writeCanonicalObject(sb *strings.Builder, m map[string]interface{}, path string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return less16(keys[i], keys[j])
	})
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeCanonicalString(sb, k)
		sb.WriteByte(':')
		childPath := path + "." + k
		if err := writeCanonical(sb, m[k], childPath); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeCanonicalArray(sb *strings.Builder, a []interface{}, path string) error {
	sb.WriteByte('[')
	for i, el := range a {
		if i > 0 {
			sb.WriteByte(',')
		}
		childPath := fmt.Sprintf("%s[%d]", path, i)
		if err := writeCanonical(sb, el, childPath); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

// less16 orders strings by UTF-16 code unit, as JCS requires: this differs
// from byte-order comparison only for characters outside the BMP, where a
// surrogate pair's lead unit (0xD800-0xDBFF) sorts before BMP characters
// U+E000-U+FFFF that a naive byte comparison would place before it.
func less16(a, b string) bool {
	ua := utf16Units(a)
	ub := utf16Units(b)
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r > 0xFFFF {
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
		} else {
			units = append(units, uint16(r))
		}
	}
	return units
}

// writeCanonicalString escapes s minimally per JCS: only the characters
// JSON requires (", \, and control characters) are escaped; everything
// else, including non-ASCII, is emitted as literal UTF-8.
func writeCanonicalString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

// writeCanonicalNumber emits n in ECMAScript-compatible shortest
// round-trip form, rejecting non-finite values.
func writeCanonicalNumber(sb *strings.Builder, n json.Number, path string) error {
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q at %s: %w", n, path, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &ErrNonFiniteNumber{Path: path}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// FromJSON decodes raw JSON bytes into the normalized representation
// ToCanonicalBytes expects, preserving number precision via json.Number.
func FromJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: decode JSON: %w", err)
	}
	return v, nil
}
