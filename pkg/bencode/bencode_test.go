package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"positive int", 42, "i42e"},
		{"negative int64", int64(-7), "i-7e"},
		{"uint64", uint64(18446744073709551615), "i18446744073709551615e"},
		{"string", "spam", "4:spam"},
		{"empty string", "", "0:"},
		{"bytes", []byte("eggs"), "4:eggs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_List(t *testing.T) {
	got, err := Marshal(List{1, "two", []byte("three")})
	require.NoError(t, err)
	assert.Equal(t, "li1e3:two5:threee", string(got))
}

func TestMarshal_DictSortsKeys(t *testing.T) {
	// spec.md §4.3/§4.5 rely on canonical (sorted-key) dict encoding.
	got, err := Marshal(Dict{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	assert.Equal(t, "d1:ai2e1:mi3e1:zi1ee", string(got))
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(3.14)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUnmarshal_Primitives(t *testing.T) {
	v, err := Unmarshal([]byte("i42e"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Unmarshal([]byte("4:spam"))
	require.NoError(t, err)
	assert.Equal(t, []byte("spam"), v)
}

func TestUnmarshal_List(t *testing.T) {
	v, err := Unmarshal([]byte("li1e3:twoe"))
	require.NoError(t, err)
	list, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0])
	assert.Equal(t, []byte("two"), list[1])
}

func TestUnmarshal_Dict(t *testing.T) {
	v, err := Unmarshal([]byte("d1:ai2e1:zi1ee"))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(2), m["a"])
	assert.Equal(t, int64(1), m["z"])
}

func TestUnmarshal_RoundTrip(t *testing.T) {
	original := Dict{
		"@": Bytes([]byte{0x05, 1, 2, 3}),
		"h": Bytes([]byte{0xAA, 0xBB}),
		"n": -5,
		"t": 1700000000,
		"z": 1700086400,
	}
	encoded, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(encoded)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, []byte{0x05, 1, 2, 3}, m["@"])
	assert.Equal(t, []byte{0xAA, 0xBB}, m["h"])
	assert.Equal(t, int64(-5), m["n"])
	assert.Equal(t, int64(1700000000), m["t"])
	assert.Equal(t, int64(1700086400), m["z"])
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Run("truncated integer", func(t *testing.T) {
		_, err := Unmarshal([]byte("i42"))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("truncated string", func(t *testing.T) {
		_, err := Unmarshal([]byte("10:short"))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("bad integer syntax", func(t *testing.T) {
		_, err := Unmarshal([]byte("iNOTANUMBERe"))
		assert.ErrorIs(t, err, ErrSyntax)
	})

	t.Run("trailing data", func(t *testing.T) {
		_, err := Unmarshal([]byte("i1ei2e"))
		assert.ErrorIs(t, err, ErrTrailingData)
	})
}
