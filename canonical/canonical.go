// Package canonical implements the deterministic encoding spec.md §6
// requires for every signed and hashed structure in the engine: sorted
// object keys, no insignificant whitespace, UTF-8, arrays in insertion
// order, integers as decimal without leading zeros, byte strings as
// lower-case hex. Every component that signs or hashes a structure
// (operation envelopes, credentials, receipts, obligation sets, marketplace
// events) builds a Value tree and calls Encode or Hash over it, so two
// honest implementations that build the same tree always derive identical
// bytes.
package canonical

import (
	"bytes"
	"fmt"
	"sort"
)

// Value is any node in a canonical tree: nil, bool, int64, uint64, string,
// []byte (rendered as lower-case hex), map[string]Value, or []Value.
type Value interface{}

// Encode renders v as its canonical byte form.
func Encode(v Value) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeValue(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash encodes v and reduces it with hashFn, the single-argument digest the
// caller's signature scheme expects.
func Hash(v Value, hashFn func([]byte) [32]byte) ([32]byte, error) {
	enc, err := Encode(v)
	if err != nil {
		return [32]byte{}, err
	}
	return hashFn(enc), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
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
	case int:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case uint64:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case uint32:
		fmt.Fprintf(buf, "%d", t)
		return nil
	case []byte:
		buf.WriteByte('"')
		buf.WriteString(hexEncode(t))
		buf.WriteByte('"')
		return nil
	case string:
		return encodeString(buf, t)
	case map[string]Value:
		return encodeMap(buf, t)
	case []Value:
		return encodeArray(buf, t)
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
}

func encodeMap(buf *bytes.Buffer, m map[string]Value) error {
	if m == nil {
		buf.WriteString("null")
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []Value) error {
	if a == nil {
		buf.WriteString("null")
		return nil
	}
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v); err != nil {
			return fmt.Errorf("canonical: encode array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

const hextable = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
