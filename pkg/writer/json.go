// Package writer serializes reports as JSON, optionally compressed.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klasslink/pkg/compression"
)

// Writer writes one value.
type Writer[T any] interface {
	Write(data T, w io.Writer) error
	WriteToFile(data T, path string) error
}

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// WriteToFile writes the data as JSON to a file.
func (w *JSONWriter[T]) WriteToFile(data T, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return w.Write(data, file)
}

// CompressedWriter writes data as compressed JSON.
type CompressedWriter[T any] struct {
	json       *JSONWriter[T]
	compressor compression.Compressor
}

// NewCompressedWriter creates a writer compressing with c, or zstd when c is
// nil.
func NewCompressedWriter[T any](c compression.Compressor) *CompressedWriter[T] {
	if c == nil {
		c = compression.Default()
	}
	return &CompressedWriter[T]{json: NewJSONWriter[T](), compressor: c}
}

// Write writes the data as compressed JSON to the writer.
func (w *CompressedWriter[T]) Write(data T, writer io.Writer) error {
	_, err := w.write(data, writer)
	return err
}

func (w *CompressedWriter[T]) write(data T, writer io.Writer) (*WriteResult, error) {
	var buf bytes.Buffer
	if err := w.json.Write(data, &buf); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	compressed, err := w.compressor.Compress(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if _, err := writer.Write(compressed); err != nil {
		return nil, fmt.Errorf("failed to write %s data: %w", w.compressor.Type(), err)
	}

	res := &WriteResult{JSONSize: int64(buf.Len()), CompressedSize: int64(len(compressed))}
	if res.JSONSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.JSONSize) * 100
	}
	return res, nil
}

// WriteToFile writes the data as compressed JSON to a file.
func (w *CompressedWriter[T]) WriteToFile(data T, filepath string) error {
	_, err := w.WriteToFileWithStats(data, filepath)
	return err
}

// WriteResult contains statistics about the written file.
type WriteResult struct {
	JSONSize       int64
	CompressedSize int64
	CompressionPct float64
}

// WriteToFileWithStats writes and returns statistics about the output.
func (w *CompressedWriter[T]) WriteToFileWithStats(data T, filepath string) (*WriteResult, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return w.write(data, file)
}

// ForPath picks a writer from the file extension: ".zst" and ".gz" select
// compressed output, anything else plain JSON.
func ForPath[T any](path string, pretty bool) Writer[T] {
	if t := compression.TypeForPath(path); t != compression.TypeNone {
		c, err := compression.New(t, compression.LevelDefault)
		if err == nil {
			return NewCompressedWriter[T](c)
		}
	}
	if pretty {
		return NewPrettyJSONWriter[T]()
	}
	return NewJSONWriter[T]()
}
