package store

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingRaw  = "raw"
	encodingZstd = "zstd"

	defaultCompressionThreshold = 1024
	minCompressionSavings       = 0.10

	// maxDecompressedSize bounds what a stored row may expand to.
	maxDecompressedSize = 64 << 20
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
	zstdErr     error
)

func initZstd() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
		if zstdErr != nil {
			zstdEncoder.Close()
			zstdEncoder = nil
		}
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// encodeContent compresses content when it is at least threshold bytes and
// zstd saves at least 10%. It returns the bytes to store and their encoding.
func encodeContent(content string, threshold int) ([]byte, string) {
	data := []byte(content)
	if threshold <= 0 || len(data) < threshold {
		return data, encodingRaw
	}

	enc, _, err := initZstd()
	if err != nil {
		return data, encodingRaw
	}

	compressed := enc.EncodeAll(data, nil)
	savings := float64(len(data)-len(compressed)) / float64(len(data))
	if savings < minCompressionSavings {
		return data, encodingRaw
	}

	return compressed, encodingZstd
}

func decodeContent(data []byte, encoding string) (string, error) {
	switch encoding {
	case encodingRaw:
		return string(data), nil
	case encodingZstd:
		_, dec, err := initZstd()
		if err != nil {
			return "", err
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil || len(out) > maxDecompressedSize {
			return "", ErrDecompressionFailed
		}
		return string(out), nil
	default:
		return "", ErrUnknownEncoding
	}
}
