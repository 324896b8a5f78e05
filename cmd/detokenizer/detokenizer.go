package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"os"

	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/types"
)

// Detokenize
// Streams the token chunk from reader and writes the decoded text to writer.
// Tokens are held back until they end on a complete UTF-8 sequence, and a
// newline is written after every block of blockSize tokens when blockSize is
// positive.
func Detokenize(encoder *bbpe.Encoder, reader io.Reader, writer io.Writer,
	blockSize int) (int, error) {
	width := types.BinWidth(encoder.VocabSize())
	// Read 4096 tokens at a time, a tradeoff between memory usage and
	// speed.
	buf := make([]byte, 4096*width)
	pending := make(types.Tokens, 0, 4096)
	inBlock := 0
	total := 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		_, err := io.WriteString(writer, encoder.Decode(pending))
		pending = pending[:0]
		return err
	}
	for {
		n, err := io.ReadFull(reader, buf)
		if n%width != 0 {
			return total, io.ErrUnexpectedEOF
		}
		for _, token := range types.TokensFromBin(buf[:n], width) {
			pending = append(pending, token)
			total++
			inBlock++
			if blockSize > 0 && inBlock == blockSize {
				if flushErr := flush(); flushErr != nil {
					return total, flushErr
				}
				if _, writeErr := io.WriteString(writer,
					"\n"); writeErr != nil {
					return total, writeErr
				}
				inBlock = 0
			} else if encoder.TokensReady(pending) {
				if flushErr := flush(); flushErr != nil {
					return total, flushErr
				}
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, flush()
		} else if err != nil {
			return total, err
		}
	}
}

func main() {
	tokenizerId := flag.String("tokenizer", "roberta-base-pretrained-ko",
		"tokenizer directory, URL, or huggingface-id")
	inputFile := flag.String("input", "",
		"input chunk to detokenize")
	outputFile := flag.String("output", "detokenized.txt",
		"output file to write detokenized text")
	blockSize := flag.Int("block", 0,
		"block size to separate blocks with newlines, 0 to not separate")
	flag.Parse()

	if *inputFile == "" {
		flag.Usage()
		log.Fatal("Must provide -input")
	}
	if *outputFile == "" {
		flag.Usage()
		log.Fatal("Must provide -output")
	}
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist")
	}

	encoder, err := bbpe.NewEncoderFromDir(*tokenizerId)
	if err != nil {
		log.Fatal(err)
	}
	inputFileHandle, err := os.Open(*inputFile)
	if err != nil {
		log.Fatal(err)
	}
	defer inputFileHandle.Close()
	outputFileHandle, err := os.Create(*outputFile)
	if err != nil {
		log.Fatal(err)
	}
	defer outputFileHandle.Close()

	writer := bufio.NewWriter(outputFileHandle)
	total, err := Detokenize(encoder, bufio.NewReader(inputFileHandle),
		writer, *blockSize)
	if err != nil {
		log.Fatal(err)
	}
	if err = writer.Flush(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Detokenized %d tokens into %s", total, *outputFile)
}
