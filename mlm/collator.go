package mlm

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/oscar-mlm/bbpe"
	"github.com/oscar-mlm/bbpe/types"
)

// MaskedBlock is a block prepared for masked-LM: the corrupted input ids
// and the original ids at masked positions, types.IgnoreIndex elsewhere.
type MaskedBlock struct {
	InputIDs types.Tokens
	Labels   []int32
}

// Collator selects tokens for masked-LM prediction.
type Collator struct {
	Encoder     *bbpe.Encoder
	Probability float64
	Rand        *rand.Rand
}

// NewCollator returns a Collator masking 15% of tokens, seeded with seed.
func NewCollator(encoder *bbpe.Encoder, seed int64) *Collator {
	return &Collator{
		Encoder:     encoder,
		Probability: 0.15,
		Rand:        rand.New(rand.NewSource(seed)),
	}
}

// Mask
// Selects each non-special position of inputIDs with Probability. Selected
// positions become `<mask>` 80% of the time, a random token 10% of the time,
// and stay unchanged otherwise.
func (collator *Collator) Mask(inputIDs types.Tokens,
	specialTokensMask types.Tokens) (MaskedBlock, error) {
	if !collator.Encoder.HasMask() {
		return MaskedBlock{}, errors.New(
			"mlm: the tokenizer has no mask token")
	}
	if specialTokensMask != nil && len(specialTokensMask) != len(inputIDs) {
		return MaskedBlock{}, fmt.Errorf("mlm: special tokens mask has %d "+
			"entries for %d tokens", len(specialTokensMask), len(inputIDs))
	}
	vocabSize := collator.Encoder.VocabSize()
	block := MaskedBlock{
		InputIDs: make(types.Tokens, len(inputIDs)),
		Labels:   make([]int32, len(inputIDs)),
	}
	copy(block.InputIDs, inputIDs)
	for idx, token := range inputIDs {
		block.Labels[idx] = types.IgnoreIndex
		special := collator.Encoder.IsSpecial(token)
		if specialTokensMask != nil {
			special = specialTokensMask[idx] != 0
		}
		if special || collator.Rand.Float64() >= collator.Probability {
			continue
		}
		block.Labels[idx] = int32(token)
		switch roll := collator.Rand.Float64(); {
		case roll < 0.8:
			block.InputIDs[idx] = collator.Encoder.MaskToken
		case roll < 0.9:
			block.InputIDs[idx] = types.Token(collator.Rand.Intn(vocabSize))
		}
	}
	return block, nil
}

// MaskExamples masks every row of the `input_ids` column of examples.
func (collator *Collator) MaskExamples(examples Examples) ([]MaskedBlock,
	error) {
	rows := examples[InputIDs]
	specials := examples[SpecialTokensMask]
	blocks := make([]MaskedBlock, 0, len(rows))
	for idx, row := range rows {
		var mask types.Tokens
		if idx < len(specials) {
			mask = specials[idx]
		}
		block, err := collator.Mask(row, mask)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
