package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// maxDecompressedSize bounds decompression output to guard against
// decompression bombs in a corrupt or hostile entry file.
const maxDecompressedSize = 100 * 1024 * 1024

// Codec serializes values to JSON and gzip-compresses them when the
// serialized form exceeds the minimum-size threshold. A ratio of 1.0 means
// the value was stored uncompressed.
type Codec struct {
	enabled      bool
	level        int
	minSizeBytes int
}

// NewCodec creates a Codec from configuration
func NewCodec(cfg CompressionConfig) *Codec {
	level := cfg.Level
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Codec{
		enabled:      cfg.Enabled,
		level:        level,
		minSizeBytes: cfg.MinSizeBytes,
	}
}

// Encode serializes value and compresses it when worthwhile. It returns
// the bytes to store and the compression ratio (compressed/original;
// 1.0 = stored uncompressed).
func (c *Codec) Encode(value any) ([]byte, float64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to serialize entry: %w", err)
	}

	if !c.enabled || len(raw) < c.minSizeBytes {
		return raw, 1.0, nil
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return raw, 1.0, nil
	}
	if _, err := gz.Write(raw); err != nil {
		_ = gz.Close()
		return raw, 1.0, nil
	}
	if err := gz.Close(); err != nil {
		return raw, 1.0, nil
	}

	compressed := buf.Bytes()
	if len(compressed) >= len(raw) {
		// Compression did not help
		return raw, 1.0, nil
	}

	return compressed, float64(len(compressed)) / float64(len(raw)), nil
}

// Decode detects whether data is compressed, inflates it if so, and
// deserializes into out. Genuinely corrupt input yields ErrCorruptEntry;
// callers treat that as delete-and-miss.
func (c *Codec) Decode(data []byte, out any) error {
	raw := data
	if IsCompressed(data) {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		defer func() { _ = gz.Close() }()

		raw, err = io.ReadAll(io.LimitReader(gz, maxDecompressedSize))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return nil
}

// IsCompressed reports whether data starts with the gzip magic bytes
func IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
