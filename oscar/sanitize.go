package oscar

import (
	"regexp"
	"strings"
)

var extraWhiteSpace = regexp.MustCompile("[[:space:]]+")

// SanitizeText
// Normalizes whitespace in text: Windows `\r` is dropped, escaped `\n`
// becomes a newline, runs of newlines collapse into one, tabs and runs of
// other whitespace become single spaces, and every line is trimmed.
func SanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.ReplaceAll(text, " :", ":")
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(extraWhiteSpace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Sanitize applies SanitizeText to the text of every record of next.
func Sanitize(next RecordIterator) RecordIterator {
	return func() (*Record, error) {
		record, err := next()
		if err != nil || record == nil {
			return record, err
		}
		record.Text = SanitizeText(record.Text)
		return record, nil
	}
}
