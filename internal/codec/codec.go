// Package codec provides the content digest and compression primitives the
// recovery engine builds its integrity guarantees on.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestJSON marshals v deterministically and digests the result.
// encoding/json emits struct fields in declaration order and sorts map keys,
// so equal values always produce equal digests.
func DigestJSON(v interface{}) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal for digest: %w", err)
	}
	return Digest(data), data, nil
}

// Compress gzips data at the default level.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(data); err != nil {
		gzw.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer gzr.Close()

	out, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("decompress read: %w", err)
	}
	return out, nil
}
