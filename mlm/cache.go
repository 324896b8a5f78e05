package mlm

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Fingerprint
// Returns a short stable digest of parts, used to name cached map results
// so that a change in any input invalidates them.
func Fingerprint(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// CachePath returns the cache file of fingerprint inside dir.
func CachePath(dir string, name string, fingerprint string) string {
	return path.Join(dir, fmt.Sprintf("%s-%s.msgpack", sanitizeName(name),
		fingerprint))
}

// ExamplesWriter appends batches of examples to a msgpack cache file.
type ExamplesWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *msgpack.Encoder
	path    string
	Batches int
}

// NewExamplesWriter creates the cache file at cachePath. The file is written
// under a temporary name and only appears at cachePath once closed.
func NewExamplesWriter(cachePath string) (*ExamplesWriter, error) {
	if err := os.MkdirAll(path.Dir(cachePath), 0755); err != nil {
		return nil, err
	}
	file, err := os.Create(cachePath + ".incomplete")
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriterSize(file, 1024*1024)
	return &ExamplesWriter{
		file:    file,
		buf:     buf,
		encoder: msgpack.NewEncoder(buf),
		path:    cachePath,
	}, nil
}

// Append writes one batch of examples.
func (ew *ExamplesWriter) Append(examples Examples) error {
	if err := ew.encoder.Encode(examples); err != nil {
		return fmt.Errorf("cannot encode examples: %w", err)
	}
	ew.Batches++
	return nil
}

// Close flushes the cache file and moves it into place.
func (ew *ExamplesWriter) Close() error {
	if err := ew.buf.Flush(); err != nil {
		ew.file.Close()
		return err
	}
	if err := ew.file.Close(); err != nil {
		return err
	}
	return os.Rename(ew.file.Name(), ew.path)
}

// Abort closes and removes the partial cache file.
func (ew *ExamplesWriter) Abort() {
	ew.file.Close()
	os.Remove(ew.file.Name())
}

// ReadExamples calls fn on every batch in the cache file at cachePath.
func ReadExamples(cachePath string, fn func(Examples) error) error {
	file, err := os.Open(cachePath)
	if err != nil {
		return err
	}
	defer file.Close()
	decoder := msgpack.NewDecoder(bufio.NewReaderSize(file, 1024*1024))
	for {
		var examples Examples
		if err = decoder.Decode(&examples); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("cannot decode `%s`: %w", cachePath, err)
		}
		if err = fn(examples); err != nil {
			return err
		}
	}
}

// SaveExamples writes examples as a single-batch cache file.
func SaveExamples(cachePath string, examples Examples) error {
	writer, err := NewExamplesWriter(cachePath)
	if err != nil {
		return err
	}
	if err = writer.Append(examples); err != nil {
		writer.Abort()
		return err
	}
	return writer.Close()
}

// LoadExamples reads a cache file, merging its batches row-wise.
func LoadExamples(cachePath string) (Examples, error) {
	merged := make(Examples)
	err := ReadExamples(cachePath, func(examples Examples) error {
		for column, rows := range examples {
			merged[column] = append(merged[column], rows...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// sanitizeName makes name usable as a cache file prefix.
func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(name)
}
