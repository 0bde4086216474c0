package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSortsKeys(t *testing.T) {
	a := map[string]Value{"b": int64(2), "a": int64(1)}
	b := map[string]Value{"a": int64(1), "b": int64(2)}
	encA, err := Encode(a)
	require.NoError(t, err)
	encB, err := Encode(b)
	require.NoError(t, err)
	require.Equal(t, encA, encB)
	require.Equal(t, `{"a":1,"b":2}`, string(encA))
}

func TestEncodeEnvelopeShape(t *testing.T) {
	v := map[string]Value{
		"schema": "fee-policy/v1",
		"nonce":  uint64(7),
		"params": map[string]Value{"channel": "X", "fee_ppm": int64(150)},
		"tags":   []Value{"a", "b"},
		"hash":   []byte{0xde, 0xad, 0xbe, 0xef},
	}
	enc1, err := Encode(v)
	require.NoError(t, err)
	require.Contains(t, string(enc1), `"hash":"deadbeef"`)
	require.Contains(t, string(enc1), `"tags":["a","b"]`)

	enc2, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, enc1, enc2)
}

func TestEncodeRejectsUnsupportedType(t *testing.T) {
	_, err := Encode(map[string]Value{"x": struct{}{}})
	require.Error(t, err)
}

func TestHashIsDeterministic(t *testing.T) {
	v := map[string]Value{"a": int64(1)}
	hashFn := func(b []byte) [32]byte {
		var out [32]byte
		copy(out[:], b)
		return out
	}
	h1, err := Hash(v, hashFn)
	require.NoError(t, err)
	h2, err := Hash(v, hashFn)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
