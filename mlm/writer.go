package mlm

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/oscar-mlm/bbpe/types"
)

// BlockWriter
// Serializes fixed-size token blocks into a binary chunk file of
// little-endian token ids.
type BlockWriter struct {
	Width int
	// Sampling is the percent of blocks kept, in steps of 5.
	Sampling int
	// Shuffle swaps every new block with a random earlier one.
	Shuffle bool
	Rand    *rand.Rand
	Blocks  int
	Tokens  int

	file        *os.File
	endpos      int64
	blockBytes  int
	samplingIdx int
	buf         []byte
}

// NewBlockWriter
// Creates the chunk file at outPath, sizing tokens for a vocabulary of
// vocabSize entries.
func NewBlockWriter(outPath string, vocabSize int) (*BlockWriter, error) {
	outFile, err := os.OpenFile(outPath, os.O_TRUNC|os.O_RDWR|os.O_CREATE,
		0644)
	if err != nil {
		return nil, err
	}
	return &BlockWriter{
		Width:    types.BinWidth(vocabSize),
		Sampling: 100,
		Rand:     rand.New(rand.NewSource(rand.Int63())),
		file:     outFile,
	}, nil
}

// Write appends block to the chunk file, subject to sampling and shuffling.
func (bw *BlockWriter) Write(block types.Tokens) error {
	sampled := bw.Sampling >= 100 || (bw.samplingIdx%20) < bw.Sampling/5
	bw.samplingIdx++
	if !sampled {
		return nil
	}
	binBlock, err := block.ToBin(bw.Width)
	if err != nil {
		return err
	}
	if bw.endpos == 0 {
		bw.blockBytes = len(binBlock)
		bw.buf = make([]byte, bw.blockBytes)
	} else if len(binBlock) != bw.blockBytes {
		return fmt.Errorf("block of %d bytes does not match the %d bytes "+
			"of earlier blocks", len(binBlock), bw.blockBytes)
	}

	if bw.Shuffle && bw.endpos > 0 {
		// Move a random earlier block to the end, and put the new block
		// in its place.
		target := int64(bw.Rand.Intn(int(bw.endpos)/bw.blockBytes)) *
			int64(bw.blockBytes)
		if _, err = bw.file.ReadAt(bw.buf, target); err != nil {
			return err
		}
		if _, err = bw.file.WriteAt(binBlock, target); err != nil {
			return err
		}
		binBlock = bw.buf
	}
	if _, err = bw.file.WriteAt(binBlock, bw.endpos); err != nil {
		return err
	}
	bw.endpos += int64(len(binBlock))
	bw.Blocks++
	bw.Tokens += len(block)
	return nil
}

// WriteExamples writes every row of the `input_ids` column of examples.
func (bw *BlockWriter) WriteExamples(examples Examples) error {
	for _, block := range examples[InputIDs] {
		if err := bw.Write(block); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the chunk file.
func (bw *BlockWriter) Close() error {
	if err := bw.file.Sync(); err != nil {
		bw.file.Close()
		return err
	}
	return bw.file.Close()
}

// ReadBlocks
// Maps the chunk file at chunkPath and splits it into blocks of blockSize
// tokens of width bytes each. A trailing partial block is an error.
func ReadBlocks(chunkPath string, width int, blockSize int) ([]types.Tokens,
	error) {
	if blockSize <= 0 {
		return nil, errors.New("block size must be positive")
	}
	file, err := os.Open(chunkPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return []types.Tokens{}, nil
	}
	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot mmap `%s`: %w", chunkPath, err)
	}
	defer mapped.Unmap()

	tokens := types.TokensFromBin(mapped, width)
	if tokens == nil {
		return nil, fmt.Errorf("unsupported token width %d", width)
	}
	if len(mapped)%width != 0 || len(tokens)%blockSize != 0 {
		return nil, fmt.Errorf("`%s` holds %d tokens, not a multiple of "+
			"the block size %d", chunkPath, len(tokens), blockSize)
	}
	blocks := make([]types.Tokens, 0, len(tokens)/blockSize)
	for begin := 0; begin < len(tokens); begin += blockSize {
		blocks = append(blocks, tokens[begin:begin+blockSize])
	}
	return blocks, nil
}
