package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/mlm"
	"github.com/oscar-mlm/bbpe/oscar"
)

type PathInfo struct {
	Shard   oscar.Shard
	Size    int64
	ModTime time.Time
}

var sortSpecs = map[string]bool{
	"":                true,
	"none":            true,
	"size_ascending":  true,
	"size_descending": true,
	"path_ascending":  true,
	"path_descending": true,
	"random":          true,
	"shuffle":         true,
}

// StatShards
// Given a directory path, recursively finds the OSCAR shards in it, returning
// a slice of PathInfo in part order.
func StatShards(dirPath string) (pathInfos []PathInfo, err error) {
	shards, err := oscar.GlobShards(dirPath)
	if err != nil {
		return nil, err
	}
	pathInfos = make([]PathInfo, len(shards))
	for idx, shard := range shards {
		if stat, statErr := os.Stat(shard.Path); statErr != nil {
			return nil, statErr
		} else {
			pathInfos[idx] = PathInfo{
				Shard:   shard,
				Size:    stat.Size(),
				ModTime: stat.ModTime(),
			}
		}
	}
	return pathInfos, nil
}

func SortPathInfoBySize(pathInfos []PathInfo, ascending bool) {
	sort.SliceStable(pathInfos, func(i, j int) bool {
		if ascending {
			return pathInfos[i].Size < pathInfos[j].Size
		}
		return pathInfos[i].Size > pathInfos[j].Size
	})
}

func SortPathInfoByPath(pathInfos []PathInfo, ascending bool) {
	sort.SliceStable(pathInfos, func(i, j int) bool {
		if ascending {
			return pathInfos[i].Shard.Path < pathInfos[j].Shard.Path
		}
		return pathInfos[i].Shard.Path > pathInfos[j].Shard.Path
	})
}

func ShufflePathInfos(pathInfos []PathInfo, rng *rand.Rand) {
	rng.Shuffle(len(pathInfos), func(i, j int) {
		pathInfos[i], pathInfos[j] = pathInfos[j], pathInfos[i]
	})
}

// ReorderPathInfos
// Reorders pathInfos in place per sortSpec. `shuffle` and `none` keep the
// part order; `shuffle` is applied to blocks when writing instead.
func ReorderPathInfos(pathInfos []PathInfo, sortSpec string,
	rng *rand.Rand) error {
	switch sortSpec {
	case "", "none", "shuffle":
	case "size_ascending":
		SortPathInfoBySize(pathInfos, true)
	case "size_descending":
		SortPathInfoBySize(pathInfos, false)
	case "path_ascending":
		SortPathInfoByPath(pathInfos, true)
	case "path_descending":
		SortPathInfoByPath(pathInfos, false)
	case "random":
		ShufflePathInfos(pathInfos, rng)
	default:
		return errors.New(fmt.Sprintf("Invalid sort spec: %s", sortSpec))
	}
	return nil
}

// FindNewestPath
// Returns the path and modified time of the most recently modified shard.
func FindNewestPath(pathInfos []PathInfo) (path *string, newest *time.Time) {
	var newestPath string
	var newestTime *time.Time
	for idx := range pathInfos {
		if newestTime == nil || newestTime.Before(pathInfos[idx].ModTime) {
			newestTime = &pathInfos[idx].ModTime
			newestPath = pathInfos[idx].Shard.Path
		}
	}
	return &newestPath, newestTime
}

// NeedsTokenizing
// Reports whether outputPath is missing or older than the newest shard in
// pathInfos.
func NeedsTokenizing(outputPath string, pathInfos []PathInfo) (bool, error) {
	outStat, outErr := os.Stat(outputPath)
	if errors.Is(outErr, os.ErrNotExist) {
		log.Printf("Creating %s", outputPath)
		return true, nil
	} else if outErr != nil {
		return false, outErr
	}
	newestPath, newestModTime := FindNewestPath(pathInfos)
	if newestModTime != nil && newestModTime.Before(outStat.ModTime()) {
		log.Printf("Newest source `%s` is older than `%s`, "+
			"not retokenizing. "+
			"Use -retokenize to force retokenization.", *newestPath,
			outputPath)
		return false, nil
	}
	return true, nil
}

// DatasetTokenizer
// Encapsulates the configuration for tokenizing a directory of OSCAR shards
// into a chunk of fixed-size blocks.
type DatasetTokenizer struct {
	Encoder    *bbpe.Encoder
	BlockSize  int
	BatchSize  int
	Workers    int
	Sampling   int
	SortSpec   string
	Sanitize   bool
	ShowBlocks bool
	Seed       int64
}

func NewDatasetTokenizer(encoder *bbpe.Encoder) DatasetTokenizer {
	return DatasetTokenizer{
		Encoder:   encoder,
		BlockSize: 128,
		BatchSize: 1000,
		Workers:   4,
		Sampling:  100,
		Seed:      time.Now().UnixNano(),
	}
}

// Records
// Orders the shards of pathInfos per SortSpec and returns an iterator over
// their records, sanitized if asked to. The returned func closes the
// shards.
func (dt DatasetTokenizer) Records(pathInfos []PathInfo,
	rng *rand.Rand) (oscar.RecordIterator, func(), error) {
	if err := ReorderPathInfos(pathInfos, dt.SortSpec, rng); err != nil {
		return nil, nil, err
	}
	shards := make([]oscar.Shard, len(pathInfos))
	for idx := range pathInfos {
		shards[idx] = pathInfos[idx].Shard
	}
	records, closeRecords := oscar.OpenRecords(shards)
	if dt.Sanitize {
		records = oscar.Sanitize(records)
	}
	return records, closeRecords, nil
}

// TokenizeShards
// Tokenizes the records of the shards in pathInfos, groups them into blocks
// and writes them into outPath. Returns the writer with its totals.
func (dt DatasetTokenizer) TokenizeShards(pathInfos []PathInfo,
	outPath string) (*mlm.BlockWriter, error) {
	rng := rand.New(rand.NewSource(dt.Seed))
	records, closeRecords, err := dt.Records(pathInfos, rng)
	if err != nil {
		return nil, err
	}
	defer closeRecords()
	writer, err := mlm.NewBlockWriter(outPath, dt.Encoder.VocabSize())
	if err != nil {
		return nil, err
	}
	writer.Sampling = dt.Sampling
	writer.Shuffle = dt.SortSpec == "shuffle"
	writer.Rand = rng

	pipeline := mlm.NewPipeline(dt.Encoder, dt.BlockSize)
	pipeline.Mapper = mlm.Mapper{Workers: dt.Workers, BatchSize: dt.BatchSize}
	runErr := pipeline.Run(oscar.BatchTexts(records, dt.BatchSize),
		func(examples mlm.Examples) error {
			if dt.ShowBlocks {
				for _, block := range examples[mlm.InputIDs] {
					log.Printf("%q", dt.Encoder.Decode(block))
				}
			}
			return writer.WriteExamples(examples)
		})
	if closeErr := writer.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return nil, runErr
	}
	return writer, nil
}

func main() {
	tokenizerId := flag.String("tokenizer", "roberta-base-pretrained-ko",
		"tokenizer directory, URL, or huggingface-id")
	blockSize := flag.Int("block", 128, "block size in tokens")
	batchSize := flag.Int("batch", 1000, "texts per tokenization batch")
	workers := flag.Int("workers", 4, "tokenization goroutines")
	showBlocks := flag.Bool("show_blocks", false,
		"show blocks as they are tokenized")
	outputFile := flag.String("output", "tokenized.chunk",
		"tokenized output file")
	inputDir := flag.String("input", "",
		"input directory of OSCAR shards")
	forceRetokenization := flag.Bool("retokenize", false,
		"force retokenization even if tokenizer output is newer")
	sanitizeBool := flag.Bool("sanitize", false,
		"sanitize inputs of whitespace issues")
	reorderPaths := flag.String("reorder", "",
		"reorder input shards to specification [size_ascending, "+
			"size_descending, path_ascending, path_descending, random, "+
			"shuffle, none]")
	samplingStr := flag.String("sampling", "100", "a integer value from "+
		"0-100 which tells the tokenizer how many blocks to keep in %, "+
		"60 keeps 60%% blocks")
	seed := flag.Int64("seed", 0, "seed for -reorder, 0 for random")
	flag.Parse()
	if *inputDir == "" {
		flag.Usage()
		log.Fatal("Must provide -input for directory source")
	}
	sampling, err := strconv.Atoi(*samplingStr)
	if err != nil {
		log.Fatal("Sampling parameter must be an integer")
	}
	if sampling > 100 || sampling < 0 {
		log.Fatal("Sampling parameter out of the 0-100 bounds")
	}
	if !sortSpecs[*reorderPaths] {
		log.Fatal("Invalid reorder specification")
	}

	log.Printf("Tokenizer definition: %s\n", *tokenizerId)
	log.Printf("Tokenizer input source: %s\n", *inputDir)
	log.Printf("Tokenizer output: %s\n", *outputFile)
	log.Printf("Tokenizer reordering method: %s\n", *reorderPaths)
	log.Printf("Sampling amount (in %s blocks kept): %d%s\n",
		"%", sampling, "%")

	pathInfos, err := StatShards(*inputDir)
	if err != nil {
		log.Fatal(err)
	}
	if !*forceRetokenization {
		if needed, needErr := NeedsTokenizing(*outputFile,
			pathInfos); needErr != nil {
			log.Fatal(needErr)
		} else if !needed {
			os.Exit(0)
		}
	}

	encoder, err := bbpe.NewEncoderFromDir(*tokenizerId)
	if err != nil {
		log.Fatal(err)
	}
	datasetTokenizer := NewDatasetTokenizer(encoder)
	datasetTokenizer.BlockSize = *blockSize
	datasetTokenizer.BatchSize = *batchSize
	datasetTokenizer.Workers = *workers
	datasetTokenizer.Sampling = sampling
	datasetTokenizer.SortSpec = *reorderPaths
	datasetTokenizer.Sanitize = *sanitizeBool
	datasetTokenizer.ShowBlocks = *showBlocks
	if *seed != 0 {
		datasetTokenizer.Seed = *seed
	}

	begin := time.Now()
	writer, err := datasetTokenizer.TokenizeShards(pathInfos, *outputFile)
	if err != nil {
		log.Fatal(err)
	}
	duration := time.Since(begin).Seconds()
	log.Printf("%s blocks, %s tokens in %0.2fs, %0.2f tokens/s",
		humanize.Comma(int64(writer.Blocks)),
		humanize.Comma(int64(writer.Tokens)), duration,
		float64(writer.Tokens)/duration)
}
