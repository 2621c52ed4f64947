// Package joncanon provides canonical JSON encoding for hivemesh's signed
// wire structures (§6.1 of SPEC_FULL.md, resolving spec.md's Open Question
// on byte-level canonicalization).
//
// The rule: marshal with encoding/json, then re-order every object's keys
// byte-wise ascending, NFC-normalize every string value, with no
// insignificant whitespace, HTML-escaping disabled, and non-ASCII left
// unescaped. Two independent encoders following this rule produce
// byte-identical output for the same logical value, which is the property
// §8's "Canonical serialization" invariant requires.
package joncanon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Marshal encodes v into canonical JSON.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := rawMarshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("joncanon: intermediate decode failed: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rawMarshal is encoding/json.Marshal with HTML-escaping disabled and the
// trailing newline json.Encoder otherwise adds stripped off.
func rawMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("joncanon: marshal failed: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes canonical (or any valid) JSON into v.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// MarshalToBytes panics on encode failure; used for unconditionally-valid
// in-process values (mirrors the teacher's cborcanon.MarshalToBytes).
func MarshalToBytes(v interface{}) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("joncanon: canonical marshal failed: %v", err))
	}
	return data
}

// CanonicalBytes reinterprets arbitrary JSON bytes in canonical form.
func CanonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("joncanon: invalid JSON: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	canonical, err := CanonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(data), canonical)
}

// EncodeForSigning encodes v canonically with the named top-level fields
// removed first — the signature field itself, typically.
func EncodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	raw, err := rawMarshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("joncanon: not an object: %w", err)
	}

	for _, field := range excludeFields {
		delete(m, field)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeCanonical writes v's canonical JSON form to buf. Objects (decoded as
// map[string]interface{}) have their keys sorted byte-wise ascending
// (field names are ASCII identifiers, so NFC-normalizing them first would
// never change that order); arrays preserve order; string leaves are
// NFC-normalized before encoding so two differently-composed Unicode
// spellings of the same text canonicalize identically; numbers are
// re-marshaled through json.Marshal, which already emits the shortest
// round-trippable form for float64 (the only numeric type decoding into
// interface{} produces).
func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := rawMarshal(norm.NFC.String(k))
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case string:
		encoded, err := rawMarshal(norm.NFC.String(val))
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil

	default:
		encoded, err := rawMarshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}
