package oscar

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shard1 = "첫 번째 문서의 첫 줄.\n첫 번째 문서의 둘째 줄.  \n\n" +
	"두 번째 문서.\n\n\n   \n세 번째 문서\t\n"
const shard2 = "\n네 번째 문서.\n\n다섯 번째 문서."

func gzipText(t *testing.T, text string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeShards writes shard1 and shard2 as gzip shards into dir.
func writeShards(t *testing.T, dir string) []Shard {
	require.NoError(t, os.MkdirAll(dir, 0755))
	shards := make([]Shard, 0)
	for idx, text := range []string{shard1, shard2} {
		name := fmt.Sprintf("ko_part_%d.txt.gz", idx+1)
		shardPath := path.Join(dir, name)
		require.NoError(t, os.WriteFile(shardPath, gzipText(t, text), 0644))
		shards = append(shards, Shard{Name: name, Part: idx + 1,
			Path: shardPath})
	}
	return shards
}

func collect(t *testing.T, next RecordIterator) []Record {
	records := make([]Record, 0)
	for {
		record, err := next()
		require.NoError(t, err)
		if record == nil {
			return records
		}
		records = append(records, *record)
	}
}

func TestConfig(t *testing.T) {
	cfg := NewConfig("ko", true)
	assert.Equal(t, "unshuffled_deduplicated_ko", cfg.Name())
	assert.Equal(t, "oscar/1.0/unshuffled/deduplicated/ko/", cfg.Prefix())
	assert.Equal(t, "ko_sha256.txt", cfg.ChecksumFile())

	original := NewConfig("ja", false)
	assert.Equal(t, "unshuffled_original_ja", original.Name())
	assert.Equal(t, "oscar/1.0/unshuffled/original/ja/", original.Prefix())
}

func TestParseDocuments(t *testing.T) {
	records := make([]Record, 0)
	nextID, err := ParseDocuments(strings.NewReader(shard1), 10,
		func(record Record) error {
			records = append(records, record)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(13), nextID)
	assert.Equal(t, []Record{
		{ID: 10, Text: "첫 번째 문서의 첫 줄.\n첫 번째 문서의 둘째 줄."},
		{ID: 11, Text: "두 번째 문서."},
		{ID: 12, Text: "세 번째 문서"},
	}, records)

	stop := errors.New("stop")
	_, err = ParseDocuments(strings.NewReader(shard1), 0,
		func(Record) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestReadRecords(t *testing.T) {
	shards := writeShards(t, t.TempDir())
	records := collect(t, ReadRecords(shards))
	require.Len(t, records, 5)
	for idx, record := range records {
		assert.Equal(t, int64(idx), record.ID)
	}
	assert.Equal(t, "네 번째 문서.", records[3].Text)
	assert.Equal(t, "다섯 번째 문서.", records[4].Text)
	encoded, err := json.Marshal(records[4])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 4, "text": "다섯 번째 문서."}`, string(encoded))

	count, err := CountRecords(shards)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestReadRecords_Errors(t *testing.T) {
	dir := t.TempDir()
	bogus := path.Join(dir, "ko_part_1.txt.gz")
	require.NoError(t, os.WriteFile(bogus, []byte("not gzip"), 0644))
	_, err := ReadRecords([]Shard{{Name: "ko_part_1.txt.gz",
		Path: bogus}})()
	assert.Error(t, err)

	_, err = ReadRecords([]Shard{{Path: path.Join(dir, "missing.txt")}})()
	assert.Error(t, err)
}

func TestTextIterator_CorruptShard(t *testing.T) {
	compressed := gzipText(t, strings.Repeat(shard1, 200))
	corrupt := path.Join(t.TempDir(), "ko_part_1.txt.gz")
	require.NoError(t, os.WriteFile(corrupt, compressed[:len(compressed)/2],
		0644))

	nextText, textErr := TextIterator(ReadRecords([]Shard{{
		Name: "ko_part_1.txt.gz", Part: 1, Path: corrupt}}))
	read := 0
	for text := nextText(); text != nil; text = nextText() {
		read++
	}
	assert.Less(t, read, 600)
	require.Error(t, textErr())
	assert.Contains(t, textErr().Error(), corrupt)
	assert.Nil(t, nextText())
}

// openFds counts the open file descriptors of the process, or -1 where
// that is not available.
func openFds() int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(entries)
}

func TestOpenRecords_Close(t *testing.T) {
	dir := t.TempDir()
	shards := writeShards(t, dir)
	for part := 3; part <= 5; part++ {
		name := fmt.Sprintf("ko_part_%d.txt.gz", part)
		require.NoError(t, os.WriteFile(path.Join(dir, name),
			gzipText(t, shard2), 0644))
		shards = append(shards, Shard{Name: name, Part: part,
			Path: path.Join(dir, name)})
	}

	goroutines := runtime.NumGoroutine()
	fds := openFds()
	for i := 0; i < 50; i++ {
		next, closeRecords := OpenRecords(shards)
		record, err := next()
		require.NoError(t, err)
		require.NotNil(t, record)
		closeRecords()
		closeRecords()
		record, err = next()
		assert.NoError(t, err)
		assert.Nil(t, record)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= goroutines
	}, 5*time.Second, 10*time.Millisecond)
	if fds >= 0 {
		assert.LessOrEqual(t, openFds(), fds)
	}
}

func TestGlobShards(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, path.Join(dir, "nested"))
	require.NoError(t, os.WriteFile(path.Join(dir, "ko_sha256.txt"),
		[]byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(path.Join(dir, "ko_part_10.txt"),
		[]byte("열 번째"), 0644))

	shards, err := GlobShards(dir)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	assert.Equal(t, []int{1, 2, 10},
		[]int{shards[0].Part, shards[1].Part, shards[2].Part})

	records := collect(t, ReadRecords(shards))
	require.Len(t, records, 6)
	assert.Equal(t, "열 번째", records[5].Text)

	_, err = GlobShards(t.TempDir())
	assert.Error(t, err)
}

func TestSliceAndSplit(t *testing.T) {
	trainFrom, valTo := SplitBounds(100, 5)
	assert.Equal(t, int64(5), trainFrom)
	assert.Equal(t, int64(5), valTo)
	trainFrom, _ = SplitBounds(50, 5)
	assert.Equal(t, int64(2), trainFrom)
	trainFrom, _ = SplitBounds(70, 5)
	assert.Equal(t, int64(4), trainFrom)
	trainFrom, _ = SplitBounds(10, 0)
	assert.Equal(t, int64(0), trainFrom)

	shards := writeShards(t, t.TempDir())
	records, closeRecords := OpenRecords(shards)
	defer closeRecords()
	validation := collect(t, Slice(records, 0, 2))
	assert.Equal(t, []int64{0, 1},
		[]int64{validation[0].ID, validation[1].ID})
	train := collect(t, Slice(ReadRecords(shards), 2, -1))
	require.Len(t, train, 3)
	assert.Equal(t, int64(2), train[0].ID)
	assert.Empty(t, collect(t, Slice(ReadRecords(shards), 5, -1)))
}

func TestTextAndBatchIterators(t *testing.T) {
	shards := writeShards(t, t.TempDir())
	nextText, textErr := TextIterator(ReadRecords(shards))
	texts := make([]string, 0)
	for text := nextText(); text != nil; text = nextText() {
		texts = append(texts, *text)
	}
	assert.Len(t, texts, 5)
	assert.NoError(t, textErr())

	nextBatch := BatchTexts(ReadRecords(shards), 2)
	sizes := make([]int, 0)
	for {
		batch, err := nextBatch()
		require.NoError(t, err)
		if batch == nil {
			break
		}
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestParseChecksums(t *testing.T) {
	sumA := strings.Repeat("a", 64)
	sumB := strings.Repeat("B", 64)
	shards, err := ParseChecksums(strings.NewReader(
		sumB + " ko_part_2.txt.gz\n\n" + sumA + "  ko_part_1.txt.gz\n"))
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.Equal(t, "ko_part_1.txt.gz", shards[0].Name)
	assert.Equal(t, strings.Repeat("b", 64), shards[1].Sha256)

	_, err = ParseChecksums(strings.NewReader("abc ko_part_1.txt.gz\n"))
	assert.Error(t, err)
	_, err = ParseChecksums(strings.NewReader(sumA + " readme.md\n"))
	assert.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "a b\nc:\nd",
		SanitizeText("  a\t\tb \r\n\n\nc :\\nd  "))
	next := Sanitize(ReadRecords(writeShards(t, t.TempDir())))
	records := collect(t, next)
	assert.Equal(t, "첫 번째 문서의 첫 줄.\n첫 번째 문서의 둘째 줄.",
		records[0].Text)
}

func TestSummarize(t *testing.T) {
	shards := writeShards(t, t.TempDir())
	summary, err := Summarize(ReadRecords(shards), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Records)
	assert.Greater(t, summary.MeanChars, 0.0)
	assert.Contains(t, summary.String(), "5 records")

	limited, err := Summarize(ReadRecords(shards), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), limited.Records)

	empty, err := Summarize(func() (*Record, error) { return nil, nil }, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Records)
}

// mockS3 serves objects from memory.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    map[string]int
}

func (m *mockS3) ListObjectsV2(input *s3.ListObjectsV2Input) (
	*s3.ListObjectsV2Output,
	error,
) {
	contents := make([]*s3.Object, 0)
	for key := range m.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			contents = append(contents, &s3.Object{Key: aws.String(key)})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents,
		IsTruncated: aws.Bool(false)}, nil
}

func (m *mockS3) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput,
	error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.StringValue(input.Key)
	m.gets[key]++
	body, ok := m.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

// newOscarObjects returns the objects of a two shard subset, with the
// digest of the second shard replaced when corrupt is set.
func newOscarObjects(t *testing.T, cfg Config,
	corrupt bool) map[string][]byte {
	part1, part2 := gzipText(t, shard1), gzipText(t, shard2)
	sum2 := digest(part2)
	if corrupt {
		sum2 = digest([]byte("something else"))
	}
	listing := digest(part1) + " ko_part_1.txt.gz\n" +
		sum2 + " ko_part_2.txt.gz\n"
	return map[string][]byte{
		cfg.Prefix() + cfg.ChecksumFile(): []byte(listing),
		cfg.Prefix() + "ko_part_1.txt.gz": part1,
		cfg.Prefix() + "ko_part_2.txt.gz": part2,
	}
}

func TestDownloader_S3(t *testing.T) {
	cfg := NewConfig("ko", true)
	svc := &mockS3{objects: newOscarObjects(t, cfg, false),
		gets: make(map[string]int)}
	downloader := NewDownloader(svc, t.TempDir())

	shards, err := downloader.Download(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.FileExists(t, path.Join(downloader.Dir(cfg), "ko_sha256.txt"))
	records := collect(t, ReadRecords(shards))
	assert.Len(t, records, 5)

	// Cached shards with matching digests are not fetched again.
	_, err = downloader.Download(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.gets[cfg.Prefix()+"ko_part_1.txt.gz"])
	assert.Equal(t, 2, svc.gets[cfg.Prefix()+cfg.ChecksumFile()])

	listed, err := downloader.ListShards(cfg)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].Part)
}

func TestDownloader_ChecksumMismatch(t *testing.T) {
	cfg := NewConfig("ko", true)
	svc := &mockS3{objects: newOscarObjects(t, cfg, true),
		gets: make(map[string]int)}
	downloader := NewDownloader(svc, t.TempDir())
	downloader.Workers = 1

	_, err := downloader.Download(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.NoFileExists(t, path.Join(downloader.Dir(cfg),
		"ko_part_2.txt.gz"))
	assert.NoFileExists(t, path.Join(downloader.Dir(cfg),
		"ko_part_2.txt.gz.incomplete"))
}

func TestDownloader_Canceled(t *testing.T) {
	cfg := NewConfig("ko", true)
	svc := &mockS3{objects: newOscarObjects(t, cfg, false),
		gets: make(map[string]int)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDownloader(svc, t.TempDir()).Download(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloader_HTTP(t *testing.T) {
	cfg := NewConfig("ko", true)
	objects := newOscarObjects(t, cfg, false)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, ok := objects[strings.TrimPrefix(r.URL.Path, "/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(body)
		}))
	defer server.Close()

	downloader := NewDownloader(nil, t.TempDir())
	downloader.BaseURL = server.URL
	shards, err := downloader.Download(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, collect(t, ReadRecords(shards)), 5)

	_, err = downloader.ListShards(cfg)
	assert.Error(t, err)
}
