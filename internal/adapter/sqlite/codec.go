package sqlite

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// stateCodec compresses checkpoint log documents. A nil codec stores them as is.
type stateCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newStateCodec() (*stateCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &stateCodec{enc: enc, dec: dec}, nil
}

func (c *stateCodec) encode(state []byte) ([]byte, bool) {
	if c == nil {
		return state, false
	}
	return c.enc.EncodeAll(state, make([]byte, 0, len(state)/2)), true
}

// decode accepts rows written with or without compression
func (c *stateCodec) decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	if c == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	}
	return c.dec.DecodeAll(data, nil)
}

func (c *stateCodec) close() {
	if c == nil {
		return
	}
	c.enc.Close()
	c.dec.Close()
}
