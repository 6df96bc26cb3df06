package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/roach88/grove/internal/ir"
)

// Body encodings recorded in the snapshots.encoding column.
const (
	EncodingJSON       = "json"
	EncodingBrotliJSON = "br+json"
)

// encodeBody renders a snapshot as canonical JSON and compresses it.
func encodeBody(tree ir.TreeStateRecord) ([]byte, error) {
	canonical, err := tree.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(canonical); err != nil {
		return nil, fmt.Errorf("encode body: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode body: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBody reverses encodeBody. Plain JSON bodies are accepted for rows
// imported without compression.
func decodeBody(encoding string, body []byte) (ir.TreeStateRecord, error) {
	raw := body
	switch encoding {
	case EncodingBrotliJSON:
		data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return ir.TreeStateRecord{}, fmt.Errorf("decode body: decompress: %w", err)
		}
		raw = data
	case EncodingJSON:
	default:
		return ir.TreeStateRecord{}, fmt.Errorf("decode body: unknown encoding %q", encoding)
	}

	var tree ir.TreeStateRecord
	if err := json.Unmarshal(raw, &tree); err != nil {
		return ir.TreeStateRecord{}, fmt.Errorf("decode body: %w", err)
	}
	return tree, nil
}
