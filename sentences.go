package bbpe

import (
	"log"
	"strings"

	"github.com/jdkato/prose/v2"
)

// SentenceIterator
// Wraps a text iterator so that each text is segmented into sentences before
// it is returned. Texts that fail to segment are passed through whole.
func SentenceIterator(next func() *string) func() *string {
	pending := make([]string, 0)
	return func() *string {
		for len(pending) == 0 {
			text := next()
			if text == nil {
				return nil
			}
			pending = splitSentences(*text)
		}
		sentence := pending[0]
		pending = pending[1:]
		return &sentence
	}
}

func splitSentences(text string) []string {
	doc, err := prose.NewDocument(
		text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		log.Printf("bbpe: cannot segment text, keeping it whole: %v", err)
		return []string{text}
	}
	sentences := make([]string, 0, len(doc.Sentences()))
	for _, sentence := range doc.Sentences() {
		if trimmed := strings.TrimSpace(sentence.Text); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}
