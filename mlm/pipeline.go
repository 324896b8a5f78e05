package mlm

import (
	"sync/atomic"

	"github.com/oscar-mlm/bbpe"
)

// Pipeline tokenizes batches of texts and groups them into blocks.
type Pipeline struct {
	Encoder   *bbpe.Encoder
	BlockSize int
	Mapper    Mapper
	// Texts and Tokens count what was tokenized, before grouping.
	Texts  int64
	Tokens int64
}

// NewPipeline returns a Pipeline with the default Mapper.
func NewPipeline(encoder *bbpe.Encoder, blockSize int) *Pipeline {
	return &Pipeline{
		Encoder:   encoder,
		BlockSize: blockSize,
		Mapper:    NewMapper(),
	}
}

// Process tokenizes one batch and groups it into blocks.
func (pipeline *Pipeline) Process(batch []string) (Examples, error) {
	tokenized := Tokenize(pipeline.Encoder, batch)
	atomic.AddInt64(&pipeline.Texts, int64(len(batch)))
	atomic.AddInt64(&pipeline.Tokens, int64(tokenized.NumTokens()))
	return GroupTexts(tokenized, pipeline.BlockSize)
}

// Run maps Process over every batch from next, in order, into out.
func (pipeline *Pipeline) Run(next func() ([]string, error),
	out func(Examples) error) error {
	return pipeline.Mapper.Map(next, pipeline.Process, out)
}
