package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Content encodings accepted on agent submissions.
const (
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
	EncodingZstd     = "zstd"
)

// ErrUnsupportedEncoding is returned for an unknown Content-Encoding.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// NormalizeEncoding maps an empty or "none" encoding to identity and
// rejects unknown ones.
func NormalizeEncoding(enc string) (string, error) {
	switch e := strings.ToLower(strings.TrimSpace(enc)); e {
	case "", "none", EncodingIdentity:
		return EncodingIdentity, nil
	case EncodingGzip, EncodingZstd:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// EncodeContent compresses a request body.
func EncodeContent(data []byte, enc string) ([]byte, error) {
	enc, err := NormalizeEncoding(enc)
	if err != nil {
		return nil, err
	}
	switch enc {
	case EncodingZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case EncodingGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

// DecodeContent reads a request body, undoing its content encoding. The
// decoded size is limited to limit bytes.
func DecodeContent(r io.Reader, enc string, limit int64) ([]byte, error) {
	enc, err := NormalizeEncoding(enc)
	if err != nil {
		return nil, err
	}

	var src io.Reader
	switch enc {
	case EncodingZstd:
		raw, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, err
		}
		out, err := zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		if int64(len(out)) > limit {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFrameTooLarge, limit)
		}
		return out, nil
	case EncodingGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
		}
		defer zr.Close()
		src = zr
	default:
		src = r
	}

	out, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		if enc == EncodingGzip {
			return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
		}
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFrameTooLarge, limit)
	}
	return out, nil
}
