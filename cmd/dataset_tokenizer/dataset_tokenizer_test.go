package main

import (
	"math/rand"
	"os"
	"path"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/mlm"
	"github.com/oscar-mlm/bbpe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var encoder *bbpe.Encoder

var shardTexts = []string{
	"대한민국은 동아시아의 한반도 남부에 위치한 민주공화국이다.\n" +
		"수도는 서울이다.\n\n" +
		"서울은 대한민국의 수도이며 가장 큰 도시이다.\n\n" +
		"한국어는 대한민국의 공용어이다.\n",
	"한글은 세종대왕이 창제한 문자이다.\n\n" +
		"  오늘   날씨가 정말 좋네요 :  내일도\t날씨가 좋을까요?  \n\n",
}

func init() {
	texts := make([]string, 0)
	for i := 0; i < 3; i++ {
		texts = append(texts, shardTexts...)
	}
	idx := 0
	trainer := bbpe.NewTrainer()
	trainer.VocabSize = 280
	trainer.Workers = 1
	model, err := trainer.Train(func() *string {
		if idx >= len(texts) {
			return nil
		}
		idx++
		return &texts[idx-1]
	})
	if err != nil {
		panic(err)
	}
	if encoder, err = bbpe.NewEncoder(model); err != nil {
		panic(err)
	}
}

// writeShards writes shardTexts as plain text shards into a new directory.
func writeShards(t *testing.T) string {
	dir := t.TempDir()
	for idx, text := range shardTexts {
		require.NoError(t, os.WriteFile(path.Join(dir,
			"ko_part_"+string(rune('1'+idx))+".txt"), []byte(text), 0644))
	}
	return dir
}

// expectedStream is what the decoded blocks of the shards are a prefix of.
func expectedStream(texts []string) string {
	var sb strings.Builder
	for _, text := range texts {
		sb.WriteString("<s>" + text + "</s>")
	}
	return sb.String()
}

func readChunk(t *testing.T, chunkPath string,
	blockSize int) []types.Tokens {
	blocks, err := mlm.ReadBlocks(chunkPath,
		types.BinWidth(encoder.VocabSize()), blockSize)
	require.NoError(t, err)
	return blocks
}

func testTokenizer() DatasetTokenizer {
	dt := NewDatasetTokenizer(encoder)
	dt.BlockSize = 16
	dt.Workers = 2
	dt.Seed = 7
	return dt
}

func TestReorderPathInfos(t *testing.T) {
	pathInfos := func() []PathInfo {
		infos := make([]PathInfo, 0)
		for idx, size := range []int64{30, 10, 20} {
			info := PathInfo{Size: size}
			info.Shard.Path = "ko_part_" + string(rune('1'+idx)) + ".txt"
			infos = append(infos, info)
		}
		return infos
	}
	sizes := func(infos []PathInfo) []int64 {
		out := make([]int64, 0, len(infos))
		for _, info := range infos {
			out = append(out, info.Size)
		}
		return out
	}
	rng := rand.New(rand.NewSource(1))

	infos := pathInfos()
	require.NoError(t, ReorderPathInfos(infos, "size_ascending", rng))
	assert.Equal(t, []int64{10, 20, 30}, sizes(infos))
	require.NoError(t, ReorderPathInfos(infos, "size_descending", rng))
	assert.Equal(t, []int64{30, 20, 10}, sizes(infos))
	require.NoError(t, ReorderPathInfos(infos, "path_descending", rng))
	assert.Equal(t, []int64{20, 10, 30}, sizes(infos))
	require.NoError(t, ReorderPathInfos(infos, "path_ascending", rng))
	assert.Equal(t, []int64{30, 10, 20}, sizes(infos))
	require.NoError(t, ReorderPathInfos(infos, "shuffle", rng))
	assert.Equal(t, []int64{30, 10, 20}, sizes(infos))

	require.NoError(t, ReorderPathInfos(infos, "random", rng))
	shuffled := sizes(infos)
	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i] < shuffled[j] })
	assert.Equal(t, []int64{10, 20, 30}, shuffled)

	assert.Error(t, ReorderPathInfos(infos, "name_ascending", rng))
}

func TestNeedsTokenizing(t *testing.T) {
	dir := writeShards(t)
	pathInfos, err := StatShards(dir)
	require.NoError(t, err)
	require.Len(t, pathInfos, 2)

	outPath := path.Join(t.TempDir(), "tokenized.chunk")
	needed, err := NeedsTokenizing(outPath, pathInfos)
	require.NoError(t, err)
	assert.True(t, needed)

	require.NoError(t, os.WriteFile(outPath, []byte{}, 0644))
	past := time.Now().Add(-time.Hour)
	for idx := range pathInfos {
		pathInfos[idx].ModTime = past
	}
	needed, err = NeedsTokenizing(outPath, pathInfos)
	require.NoError(t, err)
	assert.False(t, needed)

	pathInfos[1].ModTime = time.Now().Add(time.Hour)
	needed, err = NeedsTokenizing(outPath, pathInfos)
	require.NoError(t, err)
	assert.True(t, needed)
	newest, _ := FindNewestPath(pathInfos)
	assert.Equal(t, pathInfos[1].Shard.Path, *newest)
}

func TestStatShards_Empty(t *testing.T) {
	_, err := StatShards(t.TempDir())
	assert.Error(t, err)
}

func TestTokenizeShards(t *testing.T) {
	pathInfos, err := StatShards(writeShards(t))
	require.NoError(t, err)
	outPath := path.Join(t.TempDir(), "tokenized.chunk")
	writer, err := testTokenizer().TokenizeShards(pathInfos, outPath)
	require.NoError(t, err)

	blocks := readChunk(t, outPath, 16)
	require.NotEmpty(t, blocks)
	assert.Equal(t, writer.Blocks, len(blocks))
	assert.Equal(t, writer.Blocks*16, writer.Tokens)

	var decoded strings.Builder
	for _, block := range blocks {
		decoded.WriteString(encoder.Decode(block))
	}
	expected := expectedStream([]string{
		"대한민국은 동아시아의 한반도 남부에 위치한 민주공화국이다.\n" +
			"수도는 서울이다.",
		"서울은 대한민국의 수도이며 가장 큰 도시이다.",
		"한국어는 대한민국의 공용어이다.",
		"한글은 세종대왕이 창제한 문자이다.",
		"  오늘   날씨가 정말 좋네요 :  내일도\t날씨가 좋을까요?",
	})
	assert.True(t, strings.HasPrefix(expected, decoded.String()),
		"%q is not a prefix of %q", decoded.String(), expected)
}

func TestTokenizeShards_Sanitize(t *testing.T) {
	pathInfos, err := StatShards(writeShards(t))
	require.NoError(t, err)
	dt := testTokenizer()
	dt.Sanitize = true
	dt.BlockSize = 1
	outPath := path.Join(t.TempDir(), "tokenized.chunk")
	_, err = dt.TokenizeShards(pathInfos, outPath)
	require.NoError(t, err)

	decoded := encoder.Decode(concat(readChunk(t, outPath, 1)))
	assert.Contains(t, decoded, "<s>오늘 날씨가 정말 좋네요: 내일도 날씨가 좋을까요?</s>")
}

func concat(blocks []types.Tokens) types.Tokens {
	out := make(types.Tokens, 0)
	for _, block := range blocks {
		out = append(out, block...)
	}
	return out
}

func TestTokenizeShards_Sampling50(t *testing.T) {
	pathInfos, err := StatShards(writeShards(t))
	require.NoError(t, err)
	dir := t.TempDir()

	dt := testTokenizer()
	dt.BlockSize = 4
	full, err := dt.TokenizeShards(pathInfos, path.Join(dir, "full.chunk"))
	require.NoError(t, err)

	dt.Sampling = 50
	sampled, err := dt.TokenizeShards(pathInfos,
		path.Join(dir, "sampled.chunk"))
	require.NoError(t, err)

	expected := 0
	for idx := 0; idx < full.Blocks; idx++ {
		if idx%20 < 10 {
			expected++
		}
	}
	assert.Equal(t, expected, sampled.Blocks)
	assert.Less(t, sampled.Blocks, full.Blocks)

	fullBlocks := readChunk(t, path.Join(dir, "full.chunk"), 4)
	sampledBlocks := readChunk(t, path.Join(dir, "sampled.chunk"), 4)
	assert.Equal(t, fullBlocks[:10], sampledBlocks[:10])
}

func TestTokenizeShards_Shuffle(t *testing.T) {
	pathInfos, err := StatShards(writeShards(t))
	require.NoError(t, err)
	dir := t.TempDir()

	dt := testTokenizer()
	dt.BlockSize = 4
	_, err = dt.TokenizeShards(pathInfos, path.Join(dir, "ordered.chunk"))
	require.NoError(t, err)
	dt.SortSpec = "shuffle"
	_, err = dt.TokenizeShards(pathInfos, path.Join(dir, "shuffled.chunk"))
	require.NoError(t, err)

	ordered := readChunk(t, path.Join(dir, "ordered.chunk"), 4)
	shuffled := readChunk(t, path.Join(dir, "shuffled.chunk"), 4)
	require.Len(t, shuffled, len(ordered))
	assert.NotEqual(t, ordered, shuffled)
	assert.ElementsMatch(t, ordered, shuffled)
}
