package bbpe

import (
	"log"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SPLIT_REGEX is the GPT-2 pattern with `\s+(?!\S)|\s+` reduced to `\s+`,
// which RE2 can compile. splitPlain restores the lookahead.
const SPLIT_REGEX = "'s|'t|'re|'ve|'m|'ll|'d| ?\\p{L" +
	"}+| ?\\p{N}+| ?[^\\s\\p{L" +
	"}\\p{N}]+|\\s+"

// regexSpaces are the runes `\s` matches.
const regexSpaces = " \t\n\f\r"
const REGEX_ERROR = "bbpe: Fatal error compiling regular expression: %v"

// Word is one pre-tokenized piece of input text.
type Word struct {
	Text    string
	Special bool
}

// preTokenizer isolates special tokens and splits the remaining text into
// words, one line at a time, so that streaming and whole-text splitting
// agree.
type preTokenizer struct {
	pattern      *regexp.Regexp
	specialsTree *RuneNode
	hasSpecials  bool
}

func newPreTokenizer(specials []string) *preTokenizer {
	pat, err := regexp.Compile(SPLIT_REGEX)
	if err != nil {
		log.Fatalf(REGEX_ERROR, err)
	}
	return &preTokenizer{
		pattern:      pat,
		specialsTree: newRuneTree(specials),
		hasSpecials:  len(specials) > 0,
	}
}

// splitLine splits a single line, which may end with `\n`.
func (pt *preTokenizer) splitLine(line string, emit func(Word)) {
	if !pt.hasSpecials {
		pt.splitPlain(line, emit)
		return
	}
	runes := []rune(line)
	begin := 0
	for idx := 0; idx < len(runes); {
		matched := pt.specialsTree.longestMatch(runes, idx)
		if matched == 0 {
			idx++
			continue
		}
		if idx > begin {
			pt.splitPlain(string(runes[begin:idx]), emit)
		}
		emit(Word{Text: string(runes[idx : idx+matched]), Special: true})
		idx += matched
		begin = idx
	}
	if begin < len(runes) {
		pt.splitPlain(string(runes[begin:]), emit)
	}
}

// splitPlain
// Splits text without special tokens. A whitespace run followed by a word
// gives its last rune back to be matched again, so that `a  b` splits as
// `a`, ` `, ` b` like `\s+(?!\S)` does.
func (pt *preTokenizer) splitPlain(text string, emit func(Word)) {
	for len(text) > 0 {
		idxes := pt.pattern.FindStringIndex(text)
		if idxes == nil || idxes[1] == idxes[0] {
			return
		}
		end := idxes[1]
		match := text[idxes[0]:end]
		if end < len(text) && strings.Trim(match, regexSpaces) == "" {
			if _, size := utf8.DecodeLastRuneInString(match); size < len(match) {
				end -= size
			}
		}
		emit(Word{Text: text[idxes[0]:end]})
		text = text[end:]
	}
}

// split splits text line by line, keeping each `\n` with the line it ends.
func (pt *preTokenizer) split(text string, emit func(Word)) {
	for len(text) > 0 {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			pt.splitLine(text, emit)
			return
		}
		pt.splitLine(text[:nl+1], emit)
		text = text[nl+1:]
	}
}
