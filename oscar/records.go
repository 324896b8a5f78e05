package oscar

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"
)

const maxLineSz = 16 * 1024 * 1024

// Record is one OSCAR document.
type Record struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// RecordIterator
// Returns the next record, or nil when exhausted. Once it returns an error
// the iterator is done.
type RecordIterator func() (*Record, error)

// documentScanner reads documents from a shard: runs of non-blank lines
// separated by blank lines.
type documentScanner struct {
	scanner *bufio.Scanner
	nextID  int64
	lines   []string
}

func newDocumentScanner(r io.Reader, firstID int64) *documentScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSz)
	return &documentScanner{scanner: scanner, nextID: firstID}
}

func (ds *documentScanner) flush() *Record {
	text := strings.TrimRightFunc(strings.Join(ds.lines, "\n"),
		unicode.IsSpace)
	ds.lines = ds.lines[:0]
	record := &Record{ID: ds.nextID, Text: text}
	ds.nextID++
	return record
}

// next returns the next document, or nil at the end of the reader.
func (ds *documentScanner) next() (*Record, error) {
	for ds.scanner.Scan() {
		line := ds.scanner.Text()
		if strings.TrimSpace(line) != "" {
			ds.lines = append(ds.lines, line)
		} else if len(ds.lines) > 0 {
			return ds.flush(), nil
		}
	}
	if err := ds.scanner.Err(); err != nil {
		return nil, err
	}
	if len(ds.lines) > 0 {
		return ds.flush(), nil
	}
	return nil, nil
}

// ParseDocuments
// Parses every document in r, numbering them from firstID, and calls fn on
// each. Returns the id the next document would get.
func ParseDocuments(r io.Reader, firstID int64, fn func(Record) error) (int64,
	error) {
	ds := newDocumentScanner(r, firstID)
	for {
		record, err := ds.next()
		if err != nil {
			return ds.nextID, err
		}
		if record == nil {
			return ds.nextID, nil
		}
		if err = fn(*record); err != nil {
			return ds.nextID, err
		}
	}
}

// shardReader is an opened shard, decompressed if needed.
type shardReader struct {
	shard  Shard
	reader io.Reader
	closer func() error
	err    error
}

func openShard(shard Shard) shardReader {
	file, err := os.Open(shard.Path)
	if err != nil {
		return shardReader{shard: shard, err: err}
	}
	opened := shardReader{
		shard:  shard,
		reader: bufio.NewReaderSize(file, 1024*1024),
		closer: file.Close,
	}
	if strings.HasSuffix(shard.Path, ".gz") {
		gz, gzErr := gzip.NewReader(opened.reader)
		if gzErr != nil {
			file.Close()
			return shardReader{shard: shard, err: fmt.Errorf(
				"cannot decompress `%s`: %w", shard.Path, gzErr)}
		}
		opened.reader = gz
		opened.closer = func() error {
			gz.Close()
			return file.Close()
		}
	}
	return opened
}

// close releases the shard; failed opens hold nothing.
func (sr shardReader) close() {
	if sr.closer != nil {
		sr.closer()
	}
}

// OpenRecords
// Reads the records of every shard in order, numbering them sequentially
// from 0 across shards. The next shards are opened ahead on a goroutine while
// the current one is consumed. The returned close func stops that goroutine
// and closes every opened shard; call it when leaving the iterator before
// it is exhausted. It must not run concurrently with the iterator.
func OpenRecords(shards []Shard) (RecordIterator, func()) {
	opened := make(chan shardReader, 2)
	stop := make(chan struct{})
	go func() {
		defer close(opened)
		for _, shard := range shards {
			select {
			case <-stop:
				return
			default:
			}
			reader := openShard(shard)
			select {
			case opened <- reader:
			case <-stop:
				reader.close()
				return
			}
			if reader.err != nil {
				return
			}
		}
	}()

	var current *shardReader
	var scanner *documentScanner
	var nextID int64
	done := false
	var stopOnce sync.Once
	release := func() {
		stopOnce.Do(func() {
			done = true
			close(stop)
			if current != nil {
				current.close()
				current = nil
			}
			for reader := range opened {
				reader.close()
			}
		})
	}
	next := func() (*Record, error) {
		for !done {
			if current == nil {
				reader, more := <-opened
				if !more {
					done = true
					return nil, nil
				}
				if reader.err != nil {
					release()
					return nil, reader.err
				}
				log.Printf("Reading %s", reader.shard.Path)
				current = &reader
				scanner = newDocumentScanner(reader.reader, nextID)
			}
			record, err := scanner.next()
			if err != nil {
				shardPath := current.shard.Path
				release()
				return nil, fmt.Errorf("error reading `%s`: %w",
					shardPath, err)
			}
			if record != nil {
				return record, nil
			}
			nextID = scanner.nextID
			current.close()
			current = nil
		}
		return nil, nil
	}
	return next, release
}

// ReadRecords
// Like OpenRecords, for callers that read until the iterator is exhausted or
// fails, which releases everything it opened.
func ReadRecords(shards []Shard) RecordIterator {
	next, _ := OpenRecords(shards)
	return next
}

// Slice
// Returns the records of next with ids in [from, to). A negative to reads
// until the end.
func Slice(next RecordIterator, from int64, to int64) RecordIterator {
	var position int64
	return func() (*Record, error) {
		for to < 0 || position < to {
			record, err := next()
			if err != nil || record == nil {
				return record, err
			}
			position++
			if position > from {
				return record, nil
			}
		}
		return nil, nil
	}
}

// SplitBounds
// Returns the record offsets of a `train[:pct%]` validation split and the
// `train[pct%:]` training split: validation is [0, valTo) and training is
// [trainFrom, total). Percent boundaries round to the closest record, ties
// to even.
func SplitBounds(total int64, validationPercent int) (trainFrom int64,
	valTo int64) {
	boundary := int64(math.RoundToEven(
		float64(total) * float64(validationPercent) / 100))
	return boundary, boundary
}

// CountRecords counts the documents in shards.
func CountRecords(shards []Shard) (int64, error) {
	next, closeRecords := OpenRecords(shards)
	defer closeRecords()
	var count int64
	for {
		record, err := next()
		if err != nil {
			return count, err
		}
		if record == nil {
			return count, nil
		}
		count++
	}
}

// TextIterator
// Adapts a RecordIterator to the text iterator the tokenizer trainer
// consumes. A read error ends the iteration; the returned error func reports
// it once the texts are consumed.
func TextIterator(next RecordIterator) (func() *string, func() error) {
	var readErr error
	texts := func() *string {
		if readErr != nil {
			return nil
		}
		record, err := next()
		if err != nil {
			readErr = err
			return nil
		}
		if record == nil {
			return nil
		}
		return &record.Text
	}
	return texts, func() error { return readErr }
}

// BatchTexts
// Groups the texts of next into batches of up to batchSize. Returns a nil
// batch when exhausted.
func BatchTexts(next RecordIterator, batchSize int) func() ([]string,
	error) {
	if batchSize < 1 {
		batchSize = 1
	}
	return func() ([]string, error) {
		batch := make([]string, 0, batchSize)
		for len(batch) < batchSize {
			record, err := next()
			if err != nil {
				return nil, err
			}
			if record == nil {
				break
			}
			batch = append(batch, record.Text)
		}
		if len(batch) == 0 {
			return nil, nil
		}
		return batch, nil
	}
}
