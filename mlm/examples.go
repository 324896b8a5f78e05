package mlm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/types"
)

const (
	InputIDs          = "input_ids"
	AttentionMask     = "attention_mask"
	SpecialTokensMask = "special_tokens_mask"
)

// Examples is a batch of tokenized examples stored by column: every column
// holds one row of tokens per example.
type Examples map[string][]types.Tokens

// Columns returns the column names in lexical order.
func (examples Examples) Columns() []string {
	columns := make([]string, 0, len(examples))
	for column := range examples {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// referenceColumn is the column whose length decides the grouping.
func (examples Examples) referenceColumn() string {
	if _, ok := examples[InputIDs]; ok {
		return InputIDs
	}
	columns := examples.Columns()
	if len(columns) == 0 {
		return ""
	}
	return columns[0]
}

// NumRows returns the number of examples in the batch.
func (examples Examples) NumRows() int {
	return len(examples[examples.referenceColumn()])
}

// NumTokens returns the number of tokens in the reference column.
func (examples Examples) NumTokens() int {
	total := 0
	for _, row := range examples[examples.referenceColumn()] {
		total += len(row)
	}
	return total
}

// Tokenize
// Encodes every text wrapped in `<s> … </s>`, returning the `input_ids`,
// `attention_mask` and `special_tokens_mask` columns.
func Tokenize(encoder *bbpe.Encoder, texts []string) Examples {
	examples := Examples{
		InputIDs:          make([]types.Tokens, 0, len(texts)),
		AttentionMask:     make([]types.Tokens, 0, len(texts)),
		SpecialTokensMask: make([]types.Tokens, 0, len(texts)),
	}
	for _, text := range texts {
		encoding := encoder.EncodeWithSpecials(text)
		examples[InputIDs] = append(examples[InputIDs], encoding.InputIDs)
		examples[AttentionMask] = append(examples[AttentionMask],
			encoding.AttentionMask)
		examples[SpecialTokensMask] = append(examples[SpecialTokensMask],
			encoding.SpecialTokensMask)
	}
	return examples
}

// GroupTexts
// Concatenates every column and cuts it into blocks of blockSize tokens.
// The block count comes from the `input_ids` column, or the lexically first
// column without it; the remainder that does not fill a block is dropped.
func GroupTexts(examples Examples, blockSize int) (Examples, error) {
	if blockSize <= 0 {
		return nil, errors.New(fmt.Sprintf(
			"block size must be positive, got %d", blockSize))
	}
	grouped := make(Examples, len(examples))
	if len(examples) == 0 {
		return grouped, nil
	}

	concatenated := make(map[string]types.Tokens, len(examples))
	for column, rows := range examples {
		size := 0
		for _, row := range rows {
			size += len(row)
		}
		flat := make(types.Tokens, 0, size)
		for _, row := range rows {
			flat = append(flat, row...)
		}
		concatenated[column] = flat
	}

	reference := examples.referenceColumn()
	total := (len(concatenated[reference]) / blockSize) * blockSize
	for _, column := range examples.Columns() {
		flat := concatenated[column]
		if len(flat) < total {
			return nil, fmt.Errorf("column `%s` has %d tokens, fewer than "+
				"the %d of `%s`", column, len(flat), total, reference)
		}
		blocks := make([]types.Tokens, 0, total/blockSize)
		for begin := 0; begin < total; begin += blockSize {
			blocks = append(blocks, flat[begin:begin+blockSize:begin+blockSize])
		}
		grouped[column] = blocks
	}
	return grouped, nil
}
