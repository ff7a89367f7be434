// Package codec encodes values stored by dbfleet: deterministic CBOR for
// records, with optional zstd compression for large append-only history.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Frame tags prefix every value written by Encode
const (
	tagPlain byte = 0x00
	tagZstd  byte = 0x01
)

// minCompressSize is the smallest payload worth compressing
const minCompressSize = 512

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

// ErrEmpty is returned when decoding an empty value
var ErrEmpty = errors.New("codec: empty value")

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Timestamps keep nanoseconds; report ordering depends on them
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode marshals v and frames it with a one-byte tag. With compress set,
// payloads large enough to benefit are zstd-compressed.
func Encode(v any, compress bool) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	if compress && len(raw) >= minCompressSize {
		packed := zstdEncoder.EncodeAll(raw, nil)
		if len(packed) < len(raw) {
			return append([]byte{tagZstd}, packed...), nil
		}
	}
	return append([]byte{tagPlain}, raw...), nil
}

// Decode reverses Encode
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmpty
	}

	payload := data[1:]
	switch data[0] {
	case tagPlain:
	case tagZstd:
		raw, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("codec: zstd decompress: %w", err)
		}
		payload = raw
	default:
		return fmt.Errorf("codec: unknown frame tag 0x%02x", data[0])
	}

	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
