package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/config"
	"github.com/oscar-mlm/bbpe/mlm"
	"github.com/oscar-mlm/bbpe/oscar"
	"github.com/oscar-mlm/bbpe/resources"
	"github.com/oscar-mlm/bbpe/types"
)

// options are the switches that are not part of config.Settings.
type options struct {
	InputDir    string
	OutputDir   string
	UseHTTP     bool
	Region      string
	Retrain     bool
	NoCache     bool
	MaskPreview bool
	Seed        int64
}

// splitRange is a named `[from, to)` range of record ids.
type splitRange struct {
	Name string
	From int64
	To   int64
}

// resolveShards downloads the OSCAR subset, or globs a local copy.
func resolveShards(settings config.Settings, opts options) ([]oscar.Shard,
	error) {
	if opts.InputDir != "" {
		return oscar.GlobShards(opts.InputDir)
	}
	downloader := oscar.NewDownloader(nil,
		path.Join(settings.CacheDir, "oscar"))
	downloader.Workers = settings.Workers
	if !opts.UseHTTP {
		svc, err := resources.NewS3Client(opts.Region, true)
		if err != nil {
			return nil, err
		}
		downloader.S3 = svc
	}
	return downloader.Download(context.Background(),
		oscar.NewConfig(settings.Language, true))
}

// trainTokenizer
// Trains the byte-level BPE tokenizer on the corpus and saves it into
// modelDir, unless a trained tokenizer is already there.
func trainTokenizer(settings config.Settings, opts options,
	shards []oscar.Shard, vocabSize int, modelDir string) error {
	tokenizerPath := path.Join(modelDir, "tokenizer.json")
	if _, err := os.Stat(tokenizerPath); err == nil && !opts.Retrain {
		log.Printf("Using the tokenizer in `%s`; -retrain to train anew.",
			tokenizerPath)
		return nil
	}
	trainer := bbpe.NewTrainer()
	trainer.VocabSize = vocabSize
	trainer.MinFrequency = settings.MinFrequency
	trainer.SpecialTokens = settings.SpecialTokens
	trainer.Workers = settings.Workers
	trainer.ShowProgress = true

	records, closeRecords := oscar.OpenRecords(shards)
	defer closeRecords()
	if settings.MaxRecords > 0 {
		records = oscar.Slice(records, 0, settings.MaxRecords)
	}
	texts, textErr := oscar.TextIterator(records)
	model, err := trainer.Train(texts)
	if err != nil {
		return err
	}
	if err = textErr(); err != nil {
		return err
	}
	if err = model.SaveTokenizerJSON(tokenizerPath); err != nil {
		return err
	}
	if err = model.Save(modelDir); err != nil {
		return err
	}
	log.Printf("Saved a %s token tokenizer into `%s`.",
		humanize.Comma(int64(len(model.Vocab))), modelDir)
	return nil
}

// prepareSplit
// Tokenizes and groups the records of split into a chunk file, reusing the
// cached map results when the inputs have not changed.
func prepareSplit(settings config.Settings, opts options,
	encoder *bbpe.Encoder, shards []oscar.Shard, split splitRange,
	fingerprint string) (*mlm.BlockWriter, error) {
	chunkPath := path.Join(opts.OutputDir, split.Name+".chunk")
	writer, err := mlm.NewBlockWriter(chunkPath, encoder.VocabSize())
	if err != nil {
		return nil, err
	}
	cachePath := mlm.CachePath(path.Join(settings.CacheDir, "mapped"),
		split.Name, fingerprint)
	if _, statErr := os.Stat(cachePath); statErr == nil && !opts.NoCache {
		log.Printf("Loading cached %s blocks from `%s`", split.Name,
			cachePath)
		if err = mlm.ReadExamples(cachePath,
			writer.WriteExamples); err != nil {
			writer.Close()
			return nil, err
		}
		return writer, writer.Close()
	}

	var cache *mlm.ExamplesWriter
	if !opts.NoCache {
		if cache, err = mlm.NewExamplesWriter(cachePath); err != nil {
			writer.Close()
			return nil, err
		}
	}
	pipeline := mlm.NewPipeline(encoder, settings.BlockSize)
	pipeline.Mapper = mlm.Mapper{
		Workers:   settings.Workers,
		BatchSize: settings.BatchSize,
	}
	records, closeRecords := oscar.OpenRecords(shards)
	defer closeRecords()
	records = oscar.Slice(records, split.From, split.To)
	runErr := pipeline.Run(oscar.BatchTexts(records, settings.BatchSize),
		func(examples mlm.Examples) error {
			if cache != nil {
				if cacheErr := cache.Append(examples); cacheErr != nil {
					return cacheErr
				}
			}
			return writer.WriteExamples(examples)
		})
	if runErr != nil {
		if cache != nil {
			cache.Abort()
		}
		writer.Close()
		return nil, runErr
	}
	if cache != nil {
		if err = cache.Close(); err != nil {
			writer.Close()
			return nil, err
		}
	}
	log.Printf("Tokenized %s %s texts into %s tokens.",
		humanize.Comma(pipeline.Texts), split.Name,
		humanize.Comma(pipeline.Tokens))
	return writer, writer.Close()
}

// sampleCorpus logs the first record and the statistics of the first
// thousand.
func sampleCorpus(shards []oscar.Shard) error {
	records, closeRecords := oscar.OpenRecords(shards)
	sample, err := records()
	closeRecords()
	if err != nil {
		return err
	}
	if sample == nil {
		return errors.New("the corpus has no records")
	}
	log.Printf("First record: %+v", *sample)
	records, closeRecords = oscar.OpenRecords(shards)
	defer closeRecords()
	stats, err := oscar.Summarize(records, 1000)
	if err != nil {
		return err
	}
	log.Printf("Sample statistics: %s", stats)
	return nil
}

// shardsFingerprint
// Identifies the shard contents for the map cache. Downloaded shards carry
// their checksum; local ones are identified by size and modification time.
func shardsFingerprint(shards []oscar.Shard) (string, error) {
	fingerprint := ""
	for _, shard := range shards {
		identity := shard.Sha256
		if identity == "" {
			info, err := os.Stat(shard.Path)
			if err != nil {
				return "", err
			}
			identity = fmt.Sprintf("%d@%d", info.Size(),
				info.ModTime().UnixNano())
		}
		fingerprint += shard.Name + ":" + identity + ";"
	}
	return fingerprint, nil
}

// previewMasking logs the first block of the chunk at chunkPath as the
// masked-LM collator would corrupt it.
func previewMasking(encoder *bbpe.Encoder, chunkPath string,
	blockSize int, seed int64) error {
	blocks, err := mlm.ReadBlocks(chunkPath,
		types.BinWidth(encoder.VocabSize()), blockSize)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}
	masked, err := mlm.NewCollator(encoder, seed).Mask(blocks[0], nil)
	if err != nil {
		return err
	}
	log.Printf("Block: %q", encoder.Decode(blocks[0]))
	log.Printf("Masked: %q", encoder.Decode(masked.InputIDs))
	return nil
}

func run(settings config.Settings, opts options) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	begin := time.Now()
	modelDir := settings.ModelDirPath()
	log.Printf("Preparing `%s` for %s masked-LM pre-training.", modelDir,
		settings.DatasetConfigName())

	modelConfig, err := config.ResolveModelConfig(settings.ModelConfig,
		settings.CacheDir)
	if err != nil {
		return err
	}
	vocabSize := modelConfig.VocabSize
	if settings.VocabSize > 0 && settings.VocabSize != vocabSize {
		vocabSize = settings.VocabSize
		modelConfig = modelConfig.WithVocabSize(vocabSize)
	}
	if err = modelConfig.SavePretrained(modelDir); err != nil {
		return err
	}

	shards, err := resolveShards(settings, opts)
	if err != nil {
		return err
	}
	if err = sampleCorpus(shards); err != nil {
		return err
	}

	if err = trainTokenizer(settings, opts, shards, vocabSize,
		modelDir); err != nil {
		return err
	}
	encoder, err := bbpe.NewEncoderFromDir(modelDir)
	if err != nil {
		return err
	}

	total, err := oscar.CountRecords(shards)
	if err != nil {
		return err
	}
	if settings.MaxRecords > 0 && settings.MaxRecords < total {
		total = settings.MaxRecords
	}
	trainFrom, valTo := oscar.SplitBounds(total,
		settings.ValidationPercent)
	log.Printf("%s records: validation [0, %d), train [%d, %d)",
		humanize.Comma(total), valTo, trainFrom, total)

	if err = os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return err
	}
	tokenizerJson, err := os.ReadFile(path.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return err
	}
	shardNames, err := shardsFingerprint(shards)
	if err != nil {
		return err
	}
	splits := []splitRange{
		{Name: "train", From: trainFrom, To: total},
		{Name: "validation", From: 0, To: valTo},
	}
	for _, split := range splits {
		fingerprint := mlm.Fingerprint(string(tokenizerJson), shardNames,
			fmt.Sprint(split.From, split.To, settings.BlockSize,
				settings.BatchSize))
		writer, splitErr := prepareSplit(settings, opts, encoder, shards,
			split, fingerprint)
		if splitErr != nil {
			return splitErr
		}
		log.Printf("%s: %s blocks of %d, %s tokens.", split.Name,
			humanize.Comma(int64(writer.Blocks)), settings.BlockSize,
			humanize.Comma(int64(writer.Tokens)))
	}
	if opts.MaskPreview {
		if err = previewMasking(encoder,
			path.Join(opts.OutputDir, "validation.chunk"),
			settings.BlockSize, opts.Seed); err != nil {
			return err
		}
	}
	log.Printf("Done in %s.", time.Since(begin))
	return nil
}

func main() {
	settingsPath := flag.String("config", "",
		"JSON settings file, defaults apply to unset fields")
	language := flag.String("language", "",
		"OSCAR language code, overrides the settings")
	modelConfig := flag.String("model_config", "",
		"model configuration to start from, overrides the settings")
	blockSize := flag.Int("block_size", 0,
		"tokens per block, overrides the settings")
	workers := flag.Int("workers", 0,
		"worker goroutines, overrides the settings")
	maxRecords := flag.Int64("max_records", -1,
		"records to use, 0 for all, overrides the settings")
	inputDir := flag.String("input", "",
		"local directory of OSCAR shards, instead of downloading")
	outputDir := flag.String("output", "",
		"directory for the chunk files, defaults to the model directory")
	useHTTP := flag.Bool("http", false,
		"download over HTTP instead of the S3 API")
	region := flag.String("region", "",
		"S3 region, defaults to $AWS_REGION or "+oscar.DefaultRegion)
	retrain := flag.Bool("retrain", false,
		"train the tokenizer even if one is saved")
	noCache := flag.Bool("no_cache", false,
		"do not read or write cached map results")
	maskPreview := flag.Bool("mask_preview", false,
		"log a masked validation block")
	seed := flag.Int64("seed", 42, "seed for -mask_preview")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		log.Fatal(err)
	}
	if *language != "" {
		settings.Language = *language
	}
	if *modelConfig != "" {
		settings.ModelConfig = *modelConfig
	}
	if *blockSize > 0 {
		settings.BlockSize = *blockSize
	}
	if *workers > 0 {
		settings.Workers = *workers
	}
	if *maxRecords >= 0 {
		settings.MaxRecords = *maxRecords
	}
	if *region == "" {
		*region = os.Getenv("AWS_REGION")
		if *region == "" {
			*region = oscar.DefaultRegion
		}
	}
	if *outputDir == "" {
		*outputDir = settings.ModelDirPath()
	}

	if err = run(settings, options{
		InputDir:    *inputDir,
		OutputDir:   *outputDir,
		UseHTTP:     *useHTTP,
		Region:      *region,
		Retrain:     *retrain,
		NoCache:     *noCache,
		MaskPreview: *maskPreview,
		Seed:        *seed,
	}); err != nil {
		log.Fatal(err)
	}
}
