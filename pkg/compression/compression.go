// Package compression compresses persisted fingerprint payloads and report
// files.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Type identifies a compression algorithm.
type Type uint8

const (
	// TypeNone stores data as is.
	TypeNone Type = iota
	// TypeGzip uses gzip.
	TypeGzip
	// TypeZstd uses zstd.
	TypeZstd
)

var typeNames = map[Type]string{
	TypeNone: "none",
	TypeGzip: "gzip",
	TypeZstd: "zstd",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Extension returns the file extension conventionally used for t, with the
// leading dot, or "" for TypeNone.
func (t Type) Extension() string {
	switch t {
	case TypeGzip:
		return ".gz"
	case TypeZstd:
		return ".zst"
	}
	return ""
}

// ParseType parses a configured algorithm name. The empty string selects
// zstd.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd", "zst":
		return TypeZstd, nil
	case "gzip", "gz":
		return TypeGzip, nil
	case "none", "off":
		return TypeNone, nil
	}
	return TypeNone, fmt.Errorf("unknown compression: %q", name)
}

// TypeForPath picks the algorithm from a file name's extension.
func TypeForPath(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return TypeZstd
	case ".gz":
		return TypeGzip
	}
	return TypeNone
}

// Level trades speed for ratio.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses and decompresses whole payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
}

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	switch level {
	case LevelFastest:
		return &GzipCompressor{level: gzip.BestSpeed}
	case LevelBest:
		return &GzipCompressor{level: gzip.BestCompression}
	}
	return &GzipCompressor{level: gzip.DefaultCompression}
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *GzipCompressor) Type() Type { return TypeGzip }

// ZstdCompressor implements Compressor using zstd. It is safe for
// concurrent use and should be closed when no longer needed.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a zstd compressor.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	speed := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		speed = zstd.SpeedFastest
	case LevelBest:
		speed = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type { return TypeZstd }

// Close releases the encoder and decoder.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

type noop struct{}

func (noop) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noop) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noop) Type() Type                             { return TypeNone }

// None returns a compressor that leaves data unchanged.
func None() Compressor { return noop{} }

// New creates a compressor of type t.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeNone:
		return None(), nil
	}
	return nil, fmt.Errorf("unknown compression type: %s", t)
}

// Default returns zstd at the default level, or gzip if zstd cannot be set
// up.
func Default() Compressor {
	c, err := NewZstdCompressor(LevelDefault)
	if err != nil {
		return NewGzipCompressor(LevelDefault)
	}
	return c
}

// DetectType identifies a payload by its magic bytes. Anything that is
// neither zstd nor gzip is reported as TypeNone.
func DetectType(data []byte) Type {
	switch {
	case len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		return TypeZstd
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return TypeGzip
	}
	return TypeNone
}

// AutoDecompress decompresses data according to DetectType. Unrecognized
// data is returned unchanged.
func AutoDecompress(data []byte) ([]byte, error) {
	switch DetectType(data) {
	case TypeZstd:
		c, err := NewZstdCompressor(LevelDefault)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.Decompress(data)
	case TypeGzip:
		return NewGzipCompressor(LevelDefault).Decompress(data)
	}
	return data, nil
}

// Close releases c's resources if it holds any.
func Close(c Compressor) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}
