package cache

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses blobs. Every stored blob is prefixed with the tag of the
// codec that wrote it, so a cache stays readable when the configured codec
// changes.
type Codec interface {
	Name() string
	Tag() byte
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Codec names accepted by CodecByName.
const (
	CodecZstd   = "zstd"
	CodecSnappy = "snappy"
	CodecNone   = "none"
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecZstd, "":
		return sharedZstd()
	case CodecSnappy:
		return snappyCodec{}, nil
	case CodecNone:
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q (want %s, %s or %s)", name, CodecZstd, CodecSnappy, CodecNone)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string                       { return CodecNone }
func (noneCodec) Tag() byte                          { return 'n' }
func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Decode(data []byte) ([]byte, error) { return data, nil }

type snappyCodec struct{}

func (snappyCodec) Name() string { return CodecSnappy }
func (snappyCodec) Tag() byte    { return 's' }

func (snappyCodec) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decode(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// sharedZstd is created once; EncodeAll and DecodeAll are safe for
// concurrent use.
var sharedZstd = sync.OnceValues(newZstdCodec)

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (*zstdCodec) Name() string { return CodecZstd }
func (*zstdCodec) Tag() byte    { return 'z' }

func (c *zstdCodec) Encode(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

// encodeBlob compresses data and prefixes the codec tag.
func encodeBlob(c Codec, data []byte) ([]byte, error) {
	payload, err := c.Encode(data)
	if err != nil {
		return nil, err
	}
	return append([]byte{c.Tag()}, payload...), nil
}

// decodeBlob reverses encodeBlob with whichever codec the tag names.
func decodeBlob(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty blob")
	}
	var c Codec
	switch blob[0] {
	case noneCodec{}.Tag():
		c = noneCodec{}
	case snappyCodec{}.Tag():
		c = snappyCodec{}
	case (*zstdCodec)(nil).Tag():
		z, err := sharedZstd()
		if err != nil {
			return nil, err
		}
		c = z
	default:
		return nil, fmt.Errorf("unknown blob codec tag %q", blob[0])
	}
	return c.Decode(blob[1:])
}
