// Package canonicalize produces a single byte-deterministic serialization
// for any value: RFC 8785-style key
// ordering, NFC string normalization, 6-decimal half-to-even float
// quantization, and UTC-only datetime formatting. Every hash and signature
// in this repository is computed over this canonical form.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Error is a typed canonicalization failure, distinguishing the
// un-representable-input cases that must fail loudly:
// NaN, infinities, naive datetimes, non-Unicode strings.
type Error struct {
	Kind string // "nan", "infinity", "naive_datetime", "invalid_unicode", "unsupported_type"
	Path string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("canonicalize: %s at %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("canonicalize: %s", e.Kind)
}

// Canonicalize converts v (maps, slices, strings, numbers, bools, nil,
// time.Time, or json.Marshaler-compatible structs) into its canonical byte
// form.
func Canonicalize(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalString returns the canonical form as a string.
func CanonicalString(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the lowercase 64-char SHA-256 hex digest of the
// canonical form of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return CanonicalHashBytes(b), nil
}

// toGeneric converts structs/pointers into the limited type set this
// package knows how to canonicalize, by round-tripping through
// encoding/json (which honors `json` struct tags).
func toGeneric(v interface{}) (interface{}, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		map[string]interface{}, []interface{}:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: intermediate decode: %w", err)
	}
	return generic, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}, path string) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return writeString(buf, t)
	case json.Number:
		return writeNumberString(buf, string(t), path)
	case float32:
		return writeFloat(buf, float64(t), path)
	case float64:
		return writeFloat(buf, t, path)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case time.Time:
		return writeTime(buf, t, path)
	case map[string]interface{}:
		return writeMap(buf, t, path)
	case []interface{}:
		return writeSlice(buf, t, path)
	default:
		return &Error{Kind: "unsupported_type", Path: path}
	}
}

func writeMap(buf *bytes.Buffer, m map[string]interface{}, path string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, norm.NFC.String(k))
	}
	sort.Strings(keys)

	// Re-derive lookup since NFC-normalization may change key bytes; build
	// a lookup from normalized key back to original value.
	lookup := make(map[string]interface{}, len(m))
	for k, v := range m {
		lookup[norm.NFC.String(k)] = v
	}

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, lookup[k], path+"."+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeSlice(buf *bytes.Buffer, s []interface{}, path string) error {
	buf.WriteByte('[')
	for i, elem := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if !normalizable(s) {
		return &Error{Kind: "invalid_unicode"}
	}
	normalized := norm.NFC.String(s)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	var inner bytes.Buffer
	innerEnc := json.NewEncoder(&inner)
	innerEnc.SetEscapeHTML(false)
	if err := innerEnc.Encode(normalized); err != nil {
		return fmt.Errorf("canonicalize: string encode: %w", err)
	}
	buf.Write(bytes.TrimSuffix(inner.Bytes(), []byte{'\n'}))
	return nil
}

func normalizable(s string) bool {
	return utf8.ValidString(s)
}

// writeFloat quantizes a float64 to 6 decimals, half-to-even, rejecting
// NaN/Inf, and emits it without scientific notation or a negative zero.
func writeFloat(buf *bytes.Buffer, f float64, path string) error {
	if math.IsNaN(f) {
		return &Error{Kind: "nan", Path: path}
	}
	if math.IsInf(f, 0) {
		return &Error{Kind: "infinity", Path: path}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		fmt.Fprintf(buf, "%d", int64(f))
		return nil
	}
	q := QuantizeHalfToEven(f, 6)
	if q == 0 {
		q = 0 // collapse negative zero
	}
	s := formatFixed(q, 6)
	buf.WriteString(s)
	return nil
}

func writeNumberString(buf *bytes.Buffer, num string, path string) error {
	r := new(big.Rat)
	if _, ok := r.SetString(num); !ok {
		return &Error{Kind: "unsupported_type", Path: path}
	}
	f, _ := r.Float64()
	return writeFloat(buf, f, path)
}

// QuantizeHalfToEven rounds f to the given number of decimal places using
// banker's rounding (half-to-even).
func QuantizeHalfToEven(f float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	scaled := f * scale
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	result := rounded / scale
	if result == 0 {
		return 0
	}
	return result
}

func formatFixed(f float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, f)
	// Trim trailing zeros but keep at least one digit after the point,
	// matching "no scientific notation" while staying compact.
	for len(s) > 0 && s[len(s)-1] == '0' {
		if s[len(s)-2] == '.' {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// writeTime emits a UTC ISO-8601 instant with a trailing "Z". Naive
// (zone-less) times are rejected by pkg/temporal before reaching here;
// this function always normalizes to UTC regardless of the input zone.
func writeTime(buf *bytes.Buffer, t time.Time, path string) error {
	if t.Location() == nil {
		return &Error{Kind: "naive_datetime", Path: path}
	}
	utc := t.UTC()
	s := utc.Format(time.RFC3339Nano)
	// Trim to second precision unless sub-second data is non-zero.
	if utc.Nanosecond() == 0 {
		s = utc.Format("2006-01-02T15:04:05Z")
	}
	return writeString(buf, s)
}
