package main

import (
	"flag"
	"log"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/oscar"
)

// TrainOptions selects the texts a tokenizer is trained on.
type TrainOptions struct {
	InputDir   string
	MaxRecords int64
	Sanitize   bool
	Sentences  bool
}

// TrainFromShards
// Trains trainer on the records of the OSCAR shards below opts.InputDir.
func TrainFromShards(trainer *bbpe.Trainer, opts TrainOptions) (*bbpe.Model,
	error) {
	shards, err := oscar.GlobShards(opts.InputDir)
	if err != nil {
		return nil, err
	}
	records, closeRecords := oscar.OpenRecords(shards)
	defer closeRecords()
	if opts.MaxRecords > 0 {
		records = oscar.Slice(records, 0, opts.MaxRecords)
	}
	if opts.Sanitize {
		records = oscar.Sanitize(records)
	}
	texts, textErr := oscar.TextIterator(records)
	if opts.Sentences {
		texts = bbpe.SentenceIterator(texts)
	}
	model, err := trainer.Train(texts)
	if err != nil {
		return nil, err
	}
	if err = textErr(); err != nil {
		return nil, err
	}
	return model, nil
}

func main() {
	inputDir := flag.String("input", "",
		"input directory of OSCAR shards")
	outputDir := flag.String("output", "",
		"directory to save the tokenizer into")
	vocabSize := flag.Int("vocab", 50265, "vocabulary size")
	minFrequency := flag.Int("min_frequency", 2,
		"minimum count for a pair to be merged")
	specials := flag.String("specials", strings.Join(bbpe.RobertaSpecials,
		","), "comma separated special tokens, in id order")
	workers := flag.Int("workers", 4, "word counting goroutines")
	maxRecords := flag.Int64("max_records", 0,
		"records to train on, 0 for all")
	sanitize := flag.Bool("sanitize", false,
		"sanitize inputs of whitespace issues")
	sentences := flag.Bool("sentences", false,
		"split records into sentences before counting words")
	flag.Parse()
	if *inputDir == "" || *outputDir == "" {
		flag.Usage()
		log.Fatal("Must provide -input and -output")
	}

	trainer := bbpe.NewTrainer()
	trainer.VocabSize = *vocabSize
	trainer.MinFrequency = *minFrequency
	trainer.SpecialTokens = strings.Split(*specials, ",")
	trainer.Workers = *workers
	trainer.ShowProgress = true

	begin := time.Now()
	model, err := TrainFromShards(trainer, TrainOptions{
		InputDir:   *inputDir,
		MaxRecords: *maxRecords,
		Sanitize:   *sanitize,
		Sentences:  *sentences,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err = model.Save(*outputDir); err != nil {
		log.Fatal(err)
	}
	if err = model.SaveTokenizerJSON(path.Join(*outputDir,
		"tokenizer.json")); err != nil {
		log.Fatal(err)
	}
	log.Printf("Saved %s tokens and %s merges into %s in %s",
		humanize.Comma(int64(len(model.Vocab))),
		humanize.Comma(int64(len(model.Merges))), *outputDir,
		time.Since(begin))
}
