package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `cbor:"name"`
	Notes []string          `cbor:"notes"`
	Tags  map[string]string `cbor:"tags"`
	At    time.Time         `cbor:"at"`
}

func TestMarshalDeterministic(t *testing.T) {
	v := sample{Name: "x", Tags: map[string]string{"b": "2", "a": "1", "c": "3"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeCompression(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	big := sample{Name: "big", At: at}
	for i := 0; i < 200; i++ {
		big.Notes = append(big.Notes, strings.Repeat("action applied ", 4))
	}

	tests := []struct {
		name     string
		value    sample
		compress bool
		wantTag  byte
	}{
		{"small stays plain", sample{Name: "small", At: at}, true, tagPlain},
		{"large compressed", big, true, tagZstd},
		{"large uncompressed when not asked", big, false, tagPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value, tt.compress)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, data[0])

			var out sample
			require.NoError(t, Decode(data, &out))
			assert.Equal(t, tt.value.Name, out.Name)
			assert.Len(t, out.Notes, len(tt.value.Notes))
			assert.True(t, tt.value.At.Equal(out.At))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	var out sample
	assert.ErrorIs(t, Decode(nil, &out), ErrEmpty)
	assert.Error(t, Decode([]byte{0x7f, 0x01}, &out))
	assert.Error(t, Decode([]byte{tagZstd, 0x01, 0x02}, &out))
}

func TestTimePrecisionSurvives(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)

	data, err := Encode(sample{At: at}, false)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Decode(data, &out))
	assert.True(t, at.Equal(out.At))
}
