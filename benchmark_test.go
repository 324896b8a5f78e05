package bbpe

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

var benchCorpus = strings.Repeat(koCorpus, 200)

func BenchmarkEncoder_WordSplitter(b *testing.B) {
	b.StopTimer()
	wordCount := 0
	start := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		nextWord := koEncoder.WordSplitter(
			bufio.NewReaderSize(
				strings.NewReader(benchCorpus), 8*1024*1024,
			),
		)
		for word := nextWord(); word != nil; word = nextWord() {
			wordCount++
		}
	}
	b.StopTimer()
	elapsed := time.Since(start)
	b.ReportMetric(float64(wordCount)/elapsed.Seconds(), "words/sec")
	b.ReportMetric(float64(wordCount), "words")
}

func BenchmarkEncoder_ToBPE(b *testing.B) {
	b.StopTimer()
	words := koEncoder.SplitWords(benchCorpus)
	for idx := range words {
		words[idx] = koEncoder.toUnicode(words[idx])
	}
	numBytes := len(benchCorpus)
	totalTokens := 0
	start := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		for idx := range words {
			totalTokens += len(koEncoder.ToBPE(words[idx]))
		}
	}
	b.StopTimer()
	elapsed := time.Since(start)
	b.ReportMetric(float64(numBytes*b.N)/elapsed.Seconds(), "bytes/sec")
	b.ReportMetric(float64(totalTokens)/elapsed.Seconds(), "tokens/sec")
	b.ReportMetric(float64(koEncoder.LruHits), "lru_hits")
	b.ReportMetric(float64(koEncoder.LruMisses), "lru_misses")
}

func BenchmarkEncoder_Encode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		start := time.Now()
		tokenCt := len(koEncoder.Encode(benchCorpus))
		b.Logf(
			"%v bytes into %v tokens over %v",
			len(benchCorpus), tokenCt, time.Since(start),
		)
	}
}

func BenchmarkEncoder_Decode(b *testing.B) {
	encoded := koEncoder.Encode(benchCorpus)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		tokenNumBytes := len(koEncoder.Decode(encoded))
		b.Logf(
			"%v tokens into %v bytes over %v",
			len(encoded), tokenNumBytes, time.Since(start),
		)
	}
}

func BenchmarkTrainer_Train(b *testing.B) {
	texts := corpusTexts(50)
	for i := 0; i < b.N; i++ {
		trainer := NewTrainer()
		trainer.VocabSize = 1000
		if _, err := trainer.Train(sliceIterator(texts)); err != nil {
			b.Fatal(err)
		}
	}
}
