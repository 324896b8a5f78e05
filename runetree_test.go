package bbpe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuneTree_LongestMatch(t *testing.T) {
	tree := newRuneTree([]string{"<s>", "</s>", "<sep>", "<se"})
	runes := []rune("a<sep>b</s><s")
	assert.Equal(t, 0, tree.longestMatch(runes, 0))
	assert.Equal(t, 5, tree.longestMatch(runes, 1))
	assert.Equal(t, 4, tree.longestMatch(runes, 7))
	assert.Equal(t, 0, tree.longestMatch(runes, 11))
}

func TestRuneTree_Empty(t *testing.T) {
	tree := newRuneTree(nil)
	assert.Equal(t, 0, tree.longestMatch([]rune("<s>"), 0))
	node, terminal := (*RuneNode)(nil).evaluate('a')
	assert.Nil(t, node)
	assert.False(t, terminal)
}

func TestPreTokenizer_Lines(t *testing.T) {
	pt := newPreTokenizer([]string{"<mask>"})
	words := make([]Word, 0)
	pt.split("첫 줄\n<mask>둘째\n", func(word Word) {
		words = append(words, word)
	})
	assert.Equal(t, []Word{
		{Text: "첫"}, {Text: " 줄"}, {Text: "\n"},
		{Text: "<mask>", Special: true}, {Text: "둘째"}, {Text: "\n"},
	}, words)
}
