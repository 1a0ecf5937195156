package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Canonical type tags. The encoding of a value is a JSON array whose first
// element is one of these tags.
const (
	tagString  = "s"
	tagLong    = "l"
	tagDouble  = "d"
	tagBool    = "b"
	tagKeyword = "k"
	tagSymbol  = "y"
	tagInstant = "t"
	tagRef     = "r"
	tagTemp    = "tmp"
	tagSet     = "set"
	tagSeq     = "seq"
)

// Encode produces the canonical encoding of v.
// CRITICAL: This is the ONLY serialization used for value identity: set
// membership, storage in the datom log and query parameters all compare these
// bytes.
//
// Rules:
//  1. Every value is a tagged JSON array, e.g. ["s","hello"], ["r",17]
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings and keywords are NFC normalized
//  4. Set members are sorted by their own encoding
//  5. nil, NaN and infinities are rejected
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeString is Encode returning a string, for use as a map key or SQL parameter.
func EncodeString(v Value) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeTo(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("nil has no canonical encoding")
	case String:
		return writeTagged(buf, tagString, func() error { return writeString(buf, string(val)) })
	case Long:
		return writeTagged(buf, tagLong, func() error {
			buf.WriteString(strconv.FormatInt(int64(val), 10))
			return nil
		})
	case Double:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("double %v has no canonical encoding", f)
		}
		return writeTagged(buf, tagDouble, func() error {
			buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
			return nil
		})
	case Bool:
		return writeTagged(buf, tagBool, func() error {
			buf.WriteString(strconv.FormatBool(bool(val)))
			return nil
		})
	case Keyword:
		return writeTagged(buf, tagKeyword, func() error { return writeString(buf, string(val)) })
	case Symbol:
		return writeTagged(buf, tagSymbol, func() error { return writeString(buf, string(val)) })
	case Instant:
		return writeTagged(buf, tagInstant, func() error {
			buf.WriteString(strconv.FormatInt(int64(val), 10))
			return nil
		})
	case EntityID:
		return writeTagged(buf, tagRef, func() error {
			buf.WriteString(strconv.FormatInt(int64(val), 10))
			return nil
		})
	case TempID:
		return writeTagged(buf, tagTemp, func() error {
			if err := writeString(buf, string(val.Partition)); err != nil {
				return err
			}
			buf.WriteByte(',')
			return writeString(buf, val.Key)
		})
	case Set:
		canonical, err := NewSet(val...)
		if err != nil {
			return err
		}
		return writeTagged(buf, tagSet, func() error { return writeList(buf, canonical) })
	case Seq:
		return writeTagged(buf, tagSeq, func() error { return writeList(buf, val) })
	default:
		return fmt.Errorf("unsupported value type for canonical encoding: %T", v)
	}
}

// RefPrefix and RefSuffix frame the canonical encoding of an EntityID, so SQL
// can rebuild it from an integer column: RefPrefix || e || RefSuffix.
const (
	RefPrefix = `["r",`
	RefSuffix = `]`
)

func writeTagged(buf *bytes.Buffer, tag string, body func() error) error {
	buf.WriteString(`["`)
	buf.WriteString(tag)
	buf.WriteString(`",`)
	if err := body(); err != nil {
		return err
	}
	buf.WriteByte(']')
	return nil
}

func writeList(buf *bytes.Buffer, vals []Value) error {
	buf.WriteByte('[')
	for i, elem := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeTo(buf, elem); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeString writes a JSON string with NFC normalization.
// CRITICAL:
// - No HTML escaping (<, >, & are NOT escaped)
// - U+2028 and U+2029 are written literally
// - Only control characters, backslash, and quote are escaped
func writeString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes emitted by
// encoding/json back into literal characters. An escape preceded by an odd
// number of backslashes is literal text and is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	backslashes := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\\' && backslashes%2 == 0 && i+5 < len(data) &&
			data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			backslashes = 0
			continue
		}
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
		out = append(out, c)
	}
	return out
}

// Decode parses a canonical encoding back into a Value.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decodeTagged(raw)
}

// DecodeString is Decode over a string.
func DecodeString(s string) (Value, error) {
	return Decode([]byte(s))
}

func decodeTagged(raw []any) (Value, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("decode value: expected [tag, body], got %d elements", len(raw))
	}
	tag, ok := raw[0].(string)
	if !ok {
		return nil, fmt.Errorf("decode value: tag must be a string, got %T", raw[0])
	}

	switch tag {
	case tagString:
		s, err := asString(raw[1])
		return String(s), err
	case tagKeyword:
		s, err := asString(raw[1])
		return Keyword(s), err
	case tagSymbol:
		s, err := asString(raw[1])
		return Symbol(s), err
	case tagLong:
		n, err := asInt(raw[1])
		return Long(n), err
	case tagInstant:
		n, err := asInt(raw[1])
		return Instant(n), err
	case tagRef:
		n, err := asInt(raw[1])
		return EntityID(n), err
	case tagDouble:
		num, ok := raw[1].(json.Number)
		if !ok {
			return nil, fmt.Errorf("decode double: got %T", raw[1])
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("decode double: %w", err)
		}
		return Double(f), nil
	case tagBool:
		b, ok := raw[1].(bool)
		if !ok {
			return nil, fmt.Errorf("decode boolean: got %T", raw[1])
		}
		return Bool(b), nil
	case tagTemp:
		if len(raw) != 3 {
			return nil, fmt.Errorf("decode tempid: expected 3 elements, got %d", len(raw))
		}
		part, err := asString(raw[1])
		if err != nil {
			return nil, err
		}
		key, err := asString(raw[2])
		if err != nil {
			return nil, err
		}
		return TempID{Partition: Keyword(part), Key: key}, nil
	case tagSet, tagSeq:
		elems, ok := raw[1].([]any)
		if !ok {
			return nil, fmt.Errorf("decode %s: got %T", tag, raw[1])
		}
		vals := make([]Value, len(elems))
		for i, e := range elems {
			inner, ok := e.([]any)
			if !ok {
				return nil, fmt.Errorf("decode %s[%d]: got %T", tag, i, e)
			}
			v, err := decodeTagged(inner)
			if err != nil {
				return nil, fmt.Errorf("decode %s[%d]: %w", tag, i, err)
			}
			vals[i] = v
		}
		if tag == tagSet {
			return NewSet(vals...)
		}
		return Seq(vals), nil
	default:
		return nil, fmt.Errorf("decode value: unknown tag %q", tag)
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asInt(v any) (int64, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("expected integer: %w", err)
	}
	return n, nil
}
