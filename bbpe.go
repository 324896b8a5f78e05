package bbpe

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oscar-mlm/bbpe/types"
)

const BPE_LRU_SZ = 65536
const RUNEBUF_SZ = 16384
const WORDCHAN_SZ = 4096

type Token = types.Token
type Tokens = types.Tokens

// Encoder is a byte-level BPE tokenizer built from a trained Model.
type Encoder struct {
	Encoder    map[string]Token
	Decoder    map[Token]string
	BpeRanks   map[types.Pair]int
	Specials   map[string]Token
	Cache      *lru.ARCCache
	BosToken   Token
	EosToken   Token
	PadToken   Token
	UnkToken   Token
	MaskToken  Token
	LruHits    int64
	LruMisses  int64
	preTok     *preTokenizer
	byteToRune [256]rune
	runeToByte map[rune]byte
	specialIds map[Token]bool
	hasUnk     bool
	hasMask    bool
	runeBufSz  int
	wordChanSz int
	model      *Model
}

// Encoding is the result of encoding one text with the sequence template
// applied, mirroring what a masked-LM tokenizer returns per example.
type Encoding struct {
	InputIDs          Tokens
	AttentionMask     Tokens
	SpecialTokensMask Tokens
}

// NewEncoder
// Returns an Encoder for the vocabulary and merges of model.
func NewEncoder(model *Model) (*Encoder, error) {
	if model == nil || len(model.Vocab) == 0 {
		return nil, errors.New("bbpe: empty vocabulary")
	}
	decoder := make(map[Token]string, len(model.Vocab))
	for text, token := range model.Vocab {
		decoder[token] = text
	}

	bpeRanks := make(map[types.Pair]int, len(model.Merges))
	for rank, merge := range model.Merges {
		if _, ok := bpeRanks[merge]; !ok {
			bpeRanks[merge] = rank
		}
	}

	specials := make(map[string]Token, len(model.SpecialTokens))
	specialIds := make(map[Token]bool, len(model.SpecialTokens))
	for _, special := range model.SpecialTokens {
		token, ok := model.Vocab[special]
		if !ok {
			return nil, fmt.Errorf("bbpe: special token %q is not in "+
				"the vocabulary", special)
		}
		specials[special] = token
		specialIds[token] = true
	}

	roleTokens := make(map[string]Token)
	for role, text := range model.Roles() {
		token, ok := model.Vocab[text]
		if !ok {
			return nil, fmt.Errorf("bbpe: %s %q is not in the "+
				"vocabulary", role, text)
		}
		roleTokens[role] = token
	}
	for _, required := range []string{"bos_token", "eos_token",
		"pad_token"} {
		if _, ok := roleTokens[required]; !ok {
			return nil, fmt.Errorf("bbpe: %s must be defined", required)
		}
	}

	encoder := &Encoder{
		Encoder:    model.Vocab,
		Decoder:    decoder,
		BpeRanks:   bpeRanks,
		Specials:   specials,
		BosToken:   roleTokens["bos_token"],
		EosToken:   roleTokens["eos_token"],
		PadToken:   roleTokens["pad_token"],
		specialIds: specialIds,
		preTok:     newPreTokenizer(model.SpecialTokens),
		runeBufSz:  RUNEBUF_SZ,
		wordChanSz: WORDCHAN_SZ,
		model:      model,
	}
	encoder.UnkToken, encoder.hasUnk = roleTokens["unk_token"]
	encoder.MaskToken, encoder.hasMask = roleTokens["mask_token"]

	encoder.byteToRune, encoder.runeToByte = bytesToUnicode()
	cache, cacheErr := lru.NewARC(BPE_LRU_SZ)
	if cacheErr != nil {
		return nil, cacheErr
	}
	encoder.Cache = cache
	return encoder, nil
}

// NewEncoderFromDir
// Returns an Encoder for the tokenizer stored at uri, which is a local
// directory, a URL, or a Hugging Face model id. `tokenizer.json` is preferred
// when present; otherwise `vocab.json` and `merges.txt` are used.
func NewEncoderFromDir(uri string) (*Encoder, error) {
	model, err := LoadModel(uri)
	if err != nil {
		return nil, err
	}
	return NewEncoder(model)
}

// Model returns the model the encoder was built from.
func (encoder *Encoder) Model() *Model {
	return encoder.model
}

// VocabSize returns the number of entries in the vocabulary.
func (encoder *Encoder) VocabSize() int {
	return len(encoder.Encoder)
}

// HasMask reports whether the vocabulary defines a mask token.
func (encoder *Encoder) HasMask() bool {
	return encoder.hasMask
}

// IsSpecial reports whether token is one of the special tokens.
func (encoder *Encoder) IsSpecial(token Token) bool {
	return encoder.specialIds[token]
}

// Get
// Looks up text in the Encoder, and returns the Token representation of it. If
// the text is not found, then nil is returned.
func (encoder *Encoder) Get(text string) *Token {
	if token, ok := encoder.Encoder[text]; !ok {
		return nil
	} else {
		return &token
	}
}

// toUnicode maps the bytes of text onto the byte-level alphabet.
func (encoder *Encoder) toUnicode(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) * 2)
	for idx := 0; idx < len(text); idx++ {
		sb.WriteRune(encoder.byteToRune[text[idx]])
	}
	return sb.String()
}

// ToBPE
// Given a pre-split word in the byte-level alphabet, perform bigram ranking
// and merges, and return Tokens.
func (encoder *Encoder) ToBPE(text string) Tokens {
	if lookup, ok := encoder.Cache.Get(text); ok {
		atomic.AddInt64(&encoder.LruHits, 1)
		return lookup.(Tokens)
	}
	atomic.AddInt64(&encoder.LruMisses, 1)

	word := strings.Split(text, "")
	for len(word) > 1 {
		bestRank := math.MaxInt
		bestIdx := -1
		for idx := 0; idx < len(word)-1; idx++ {
			rank, ok := encoder.BpeRanks[types.Pair{
				Left: word[idx], Right: word[idx+1]}]
			if ok && rank < bestRank {
				bestRank = rank
				bestIdx = idx
			}
		}
		if bestIdx == -1 {
			break
		}
		first, second := word[bestIdx], word[bestIdx+1]
		newWord := make([]string, 0, len(word))
		for i := 0; i < len(word); {
			if i < len(word)-1 && word[i] == first && word[i+1] == second {
				newWord = append(newWord, first+second)
				i += 2
			} else {
				newWord = append(newWord, word[i])
				i += 1
			}
		}
		word = newWord
	}

	tokens := make(Tokens, 0, len(word))
	for _, symbol := range word {
		if lookup, ok := encoder.Encoder[symbol]; ok {
			tokens = append(tokens, lookup)
			continue
		}
		// Merged symbols are always in the vocabulary; single runes may
		// be missing if the vocabulary was trimmed.
		for _, r := range symbol {
			if lookup, ok := encoder.Encoder[string(r)]; ok {
				tokens = append(tokens, lookup)
			} else if encoder.hasUnk {
				tokens = append(tokens, encoder.UnkToken)
			}
		}
	}
	encoder.Cache.Add(text, tokens)
	return tokens
}

// encodeWord returns the tokens for a single pre-tokenized word.
func (encoder *Encoder) encodeWord(word Word) Tokens {
	if word.Special {
		return Tokens{encoder.Specials[word.Text]}
	}
	return encoder.ToBPE(encoder.toUnicode(word.Text))
}

// SplitWords splits a string into words according to the pre-tokenizer
// rules, with special tokens isolated as single words.
func (encoder *Encoder) SplitWords(text string) []string {
	words := make([]string, 0, len(text)/4+1)
	encoder.preTok.split(text, func(word Word) {
		words = append(words, word.Text)
	})
	return words
}

// WordSplitter
// Returns an iterator function that reads from an io.RuneReader and splits
// the input into words. Each invocation of the iterator function returns
// one word or nil if there are no more words. Lines are split on a separate
// goroutine.
func (encoder *Encoder) WordSplitter(reader io.RuneReader) func() *Word {
	wordsAccumulator := make(chan Word, encoder.wordChanSz)
	go func() {
		defer close(wordsAccumulator)
		runeAccumulator := make([]rune, 0, encoder.runeBufSz)
		emit := func(word Word) {
			wordsAccumulator <- word
		}
		for {
			// Collect runes until we reach the end of our IO stream, or
			// hit a newline.
			for {
				r, size, err := reader.ReadRune()
				if size == 0 || err != nil {
					break
				}
				runeAccumulator = append(runeAccumulator, r)
				if r == '\n' {
					break
				}
			}
			if len(runeAccumulator) == 0 {
				return
			}
			encoder.preTok.splitLine(string(runeAccumulator), emit)
			runeAccumulator = runeAccumulator[:0]
		}
	}()

	return func() *Word {
		word, more := <-wordsAccumulator
		if more {
			return &word
		}
		return nil
	}
}

// EncodeReader encodes everything readable from reader.
func (encoder *Encoder) EncodeReader(reader io.RuneReader) Tokens {
	encoded := make(Tokens, 0, 4096)
	nextWord := encoder.WordSplitter(reader)
	for {
		word := nextWord()
		if word == nil {
			break
		}
		encoded = append(encoded, encoder.encodeWord(*word)...)
	}
	return encoded
}

// Encode encodes a string into a sequence of tokens, without adding any
// special tokens around it.
func (encoder *Encoder) Encode(text string) Tokens {
	encoded := make(Tokens, 0, len(text)/2+1)
	encoder.preTok.split(text, func(word Word) {
		encoded = append(encoded, encoder.encodeWord(word)...)
	})
	return encoded
}

// EncodeWithSpecials
// Encodes text and wraps it as `<s> text </s>`, returning the attention mask
// and a mask flagging the special positions.
func (encoder *Encoder) EncodeWithSpecials(text string) Encoding {
	body := encoder.Encode(text)
	ids := make(Tokens, 0, len(body)+2)
	ids = append(ids, encoder.BosToken)
	ids = append(ids, body...)
	ids = append(ids, encoder.EosToken)

	attention := make(Tokens, len(ids))
	specialMask := make(Tokens, len(ids))
	for idx, token := range ids {
		attention[idx] = 1
		if encoder.specialIds[token] {
			specialMask[idx] = 1
		}
	}
	return Encoding{
		InputIDs:          ids,
		AttentionMask:     attention,
		SpecialTokensMask: specialMask,
	}
}

// decodeBytes returns the raw bytes of a run of non-special tokens.
func (encoder *Encoder) decodeBytes(tokens Tokens) []byte {
	bs := make([]byte, 0, len(tokens)*3)
	for _, token := range tokens {
		symbol, ok := encoder.Decoder[token]
		if !ok {
			continue
		}
		for _, r := range symbol {
			if b, isByte := encoder.runeToByte[r]; isByte {
				bs = append(bs, b)
			}
		}
	}
	return bs
}

// Decode Tokens back into a string. Special tokens are rendered verbatim.
func (encoder *Encoder) Decode(encoded Tokens) string {
	var sb strings.Builder
	begin := 0
	for idx, token := range encoded {
		if !encoder.specialIds[token] {
			continue
		}
		sb.Write(encoder.decodeBytes(encoded[begin:idx]))
		sb.WriteString(encoder.Decoder[token])
		begin = idx + 1
	}
	sb.Write(encoder.decodeBytes(encoded[begin:]))
	return sb.String()
}

// TokensReady
// Determine if the sequence of Tokens given is ready to be serialized
// to string, based on if the sequence ends on a complete UTF-8 sequence.
func (encoder *Encoder) TokensReady(tokens Tokens) bool {
	if len(tokens) == 0 || encoder.specialIds[tokens[len(tokens)-1]] {
		return true
	}
	bs := encoder.decodeBytes(tokens)
	// Find the start of the last rune; invalid runs of continuation bytes
	// are treated as ready so that callers do not get stuck.
	for back := 1; back <= utf8.UTFMax && back <= len(bs); back++ {
		if utf8.RuneStart(bs[len(bs)-back]) {
			return utf8.FullRune(bs[len(bs)-back:])
		}
	}
	return true
}

// TrimTokens
// Trims the given Tokens to tokens that produce valid unicode.
func (encoder *Encoder) TrimTokens(tokens Tokens) Tokens {
	trimmed := tokens
	for len(trimmed) > 0 && !encoder.TokensReady(trimmed) {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed
}
