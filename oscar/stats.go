package oscar

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the size of the records of a corpus.
type Stats struct {
	Records     int64
	TotalBytes  int64
	MeanChars   float64
	StdChars    float64
	MedianChars float64
}

// Summarize
// Reads up to limit records from next, or all of them when limit is not
// positive, and summarizes their lengths in characters.
func Summarize(next RecordIterator, limit int) (Stats, error) {
	var summary Stats
	lengths := make([]float64, 0)
	for limit <= 0 || len(lengths) < limit {
		record, err := next()
		if err != nil {
			return summary, err
		}
		if record == nil {
			break
		}
		summary.Records++
		summary.TotalBytes += int64(len(record.Text))
		lengths = append(lengths,
			float64(utf8.RuneCountInString(record.Text)))
	}
	if len(lengths) == 0 {
		return summary, nil
	}
	summary.MeanChars, summary.StdChars = stat.MeanStdDev(lengths, nil)
	if math.IsNaN(summary.StdChars) {
		summary.StdChars = 0
	}
	sort.Float64s(lengths)
	summary.MedianChars = stat.Quantile(0.5, stat.Empirical, lengths, nil)
	return summary, nil
}

func (summary Stats) String() string {
	return fmt.Sprintf("%s records, %s, %.1f ± %.1f characters "+
		"(median %.0f)", humanize.Comma(summary.Records),
		humanize.Bytes(uint64(summary.TotalBytes)), summary.MeanChars,
		summary.StdChars, summary.MedianChars)
}
