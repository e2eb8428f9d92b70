package objstore

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec identifies the compression used for a stored object or pack chunk.
// The byte values are stored on disk (objstore file header, packfile chunk
// header) so they must stay stable.
type Codec byte

const (
	// CodecZstd is the default codec for newly written objects.
	CodecZstd Codec = 1
	// CodecDeflate is the alternate codec accepted by Compress, Decompress
	// and DecompressAny; no writer in this module selects it.
	CodecDeflate Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecDeflate:
		return "deflate"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// Level selects the zstd speed/ratio tradeoff.
type Level int

const (
	// LevelFast trades ratio for speed, suited to interactive paths.
	LevelFast Level = 3
	// LevelDefault has no direct zstd equivalent; it is mapped to zstd's
	// best-compression encoder level, the closest available knob.
	LevelDefault Level = 10
)

// encoder pooling: zstd encoders are expensive to construct, and compression
// happens on every Add/PutBlob, so each level gets one shared encoder guarded
// by a mutex rather than allocating per call.
var (
	fastEncOnce, defaultEncOnce sync.Once
	fastEnc, defaultEnc         *zstd.Encoder
	encMu                       sync.Mutex
)

func zstdEncoder(level Level) (*zstd.Encoder, error) {
	var err error
	switch level {
	case LevelFast:
		fastEncOnce.Do(func() {
			fastEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		})
		return fastEnc, err
	default:
		defaultEncOnce.Do(func() {
			defaultEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		})
		return defaultEnc, err
	}
}

// Compress encodes data with the given codec and level (level is ignored for
// CodecDeflate, which has no tunable speed/ratio knob in this engine).
func Compress(codec Codec, level Level, data []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		enc, err := zstdEncoder(level)
		if err != nil {
			return nil, fmt.Errorf("objstore: zstd encoder: %w", err)
		}
		encMu.Lock()
		out := enc.EncodeAll(data, nil)
		encMu.Unlock()
		return out, nil
	case CodecDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("objstore: flate writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("objstore: flate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("objstore: flate close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("objstore: unknown codec %v", codec)
	}
}

// Decompress reverses Compress, detecting framing errors and surfacing them
// as plain wrapped errors with no vcserr kind; the object stores add context
// and separately check each object's content hash.
func Decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("objstore: zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("objstore: zstd frame error: %w", err)
		}
		return out, nil
	case CodecDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("objstore: deflate frame error: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("objstore: unknown codec %v", codec)
	}
}

// DecompressAny tries zstd first, then deflate, for a payload whose codec is
// not known ahead of time. Nothing in this module calls it; the Git import
// adapter reads Git's zlib streams directly.
func DecompressAny(data []byte) ([]byte, Codec, error) {
	if out, err := Decompress(CodecZstd, data); err == nil {
		return out, CodecZstd, nil
	}
	out, err := Decompress(CodecDeflate, data)
	if err != nil {
		return nil, 0, fmt.Errorf("objstore: neither zstd nor deflate decoded payload: %w", err)
	}
	return out, CodecDeflate, nil
}
