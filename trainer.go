package bbpe

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe/types"
)

const TRAIN_BATCH_SZ = 1000

// Trainer learns a byte-level BPE vocabulary from a stream of texts.
type Trainer struct {
	VocabSize     int
	MinFrequency  int
	SpecialTokens []string
	Workers       int
	ShowProgress  bool
}

// RobertaSpecials are the special tokens of a RoBERTa tokenizer, in id order.
var RobertaSpecials = []string{"<s>", "<pad>", "</s>", "<unk>", "<mask>"}

// NewTrainer returns a Trainer with the RoBERTa defaults.
func NewTrainer() *Trainer {
	return &Trainer{
		VocabSize:     50265,
		MinFrequency:  2,
		SpecialTokens: append([]string{}, RobertaSpecials...),
		Workers:       4,
	}
}

type symbolPair [2]int32

// pairEntry is a candidate merge in the merge queue. Entries go stale when
// the pair count changes; stale entries are dropped when popped.
type pairEntry struct {
	pair  symbolPair
	count int
}

type pairQueue []pairEntry

func (pq pairQueue) Len() int { return len(pq) }

func (pq pairQueue) Less(i, j int) bool {
	if pq[i].count != pq[j].count {
		return pq[i].count > pq[j].count
	}
	if pq[i].pair[0] != pq[j].pair[0] {
		return pq[i].pair[0] < pq[j].pair[0]
	}
	return pq[i].pair[1] < pq[j].pair[1]
}

func (pq pairQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *pairQueue) Push(x interface{}) { *pq = append(*pq, x.(pairEntry)) }

func (pq *pairQueue) Pop() interface{} {
	old := *pq
	entry := old[len(old)-1]
	*pq = old[:len(old)-1]
	return entry
}

// validate checks the trainer settings against the size of the alphabet.
func (trainer *Trainer) validate() error {
	seen := make(map[string]bool, len(trainer.SpecialTokens))
	for _, special := range trainer.SpecialTokens {
		if special == "" {
			return errors.New("bbpe: special tokens cannot be empty")
		}
		if seen[special] {
			return fmt.Errorf("bbpe: duplicated special token %q", special)
		}
		seen[special] = true
	}
	minimum := len(trainer.SpecialTokens) + 256
	if trainer.VocabSize < minimum {
		return fmt.Errorf("bbpe: vocab size %d is smaller than the %d "+
			"special tokens and byte alphabet", trainer.VocabSize, minimum)
	}
	return nil
}

// countWords
// Pre-tokenizes every text from next and counts the byte-level words, using
// one goroutine per worker. Special tokens inside texts are not counted.
func (trainer *Trainer) countWords(next func() *string) (map[string]int,
	int) {
	workers := trainer.Workers
	if workers < 1 {
		workers = 1
	}
	preTok := newPreTokenizer(trainer.SpecialTokens)
	byteToRune, _ := bytesToUnicode()

	batches := make(chan []string, workers*2)
	counts := make([]map[string]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		counts[w] = make(map[string]int)
		wg.Add(1)
		go func(local map[string]int) {
			defer wg.Done()
			buf := make([]rune, 0, 64)
			for batch := range batches {
				for _, text := range batch {
					preTok.split(text, func(word Word) {
						if word.Special {
							return
						}
						buf = buf[:0]
						for idx := 0; idx < len(word.Text); idx++ {
							buf = append(buf, byteToRune[word.Text[idx]])
						}
						local[string(buf)]++
					})
				}
			}
		}(counts[w])
	}

	numTexts := 0
	batch := make([]string, 0, TRAIN_BATCH_SZ)
	for text := next(); text != nil; text = next() {
		batch = append(batch, *text)
		numTexts++
		if len(batch) == TRAIN_BATCH_SZ {
			batches <- batch
			batch = make([]string, 0, TRAIN_BATCH_SZ)
		}
	}
	if len(batch) > 0 {
		batches <- batch
	}
	close(batches)
	wg.Wait()

	total := counts[0]
	for _, local := range counts[1:] {
		for word, count := range local {
			total[word] += count
		}
	}
	return total, numTexts
}

// wordPairs adds count for every adjacent pair of symbols into pairs.
func wordPairs(symbols []int32, count int, pairs map[symbolPair]int) {
	for idx := 0; idx < len(symbols)-1; idx++ {
		pairs[symbolPair{symbols[idx], symbols[idx+1]}] += count
	}
}

// mergeWord replaces non-overlapping occurrences of pair, left to right,
// with merged. Reports whether anything was replaced.
func mergeWord(symbols []int32, pair symbolPair, merged int32) ([]int32,
	bool) {
	out := symbols[:0:0]
	changed := false
	for idx := 0; idx < len(symbols); {
		if idx < len(symbols)-1 && symbols[idx] == pair[0] &&
			symbols[idx+1] == pair[1] {
			out = append(out, merged)
			idx += 2
			changed = true
		} else {
			out = append(out, symbols[idx])
			idx++
		}
	}
	return out, changed
}

// Train
// Counts the words in the texts returned by next until it returns nil, then
// learns merges until the vocabulary reaches VocabSize or the most frequent
// pair occurs fewer than MinFrequency times. Special tokens take the first
// ids, in order, followed by the byte alphabet.
func (trainer *Trainer) Train(next func() *string) (*Model, error) {
	if err := trainer.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	wordCounts, numTexts := trainer.countWords(next)
	if trainer.ShowProgress {
		log.Printf("Counted %s distinct words in %s texts in %s.",
			humanize.Comma(int64(len(wordCounts))),
			humanize.Comma(int64(numTexts)), time.Since(start))
	}

	vocab := make(types.TokenMap, trainer.VocabSize)
	symbols := make([]string, 0, trainer.VocabSize)
	addSymbol := func(text string) int32 {
		if id, ok := vocab[text]; ok {
			return int32(id)
		}
		id := len(symbols)
		vocab[text] = types.Token(id)
		symbols = append(symbols, text)
		return int32(id)
	}
	for _, special := range trainer.SpecialTokens {
		addSymbol(special)
	}
	for _, symbol := range byteAlphabet() {
		addSymbol(symbol)
	}

	// Sorted so that ids and merges do not depend on map order.
	distinct := make([]string, 0, len(wordCounts))
	for word := range wordCounts {
		distinct = append(distinct, word)
	}
	sort.Strings(distinct)
	words := make([][]int32, len(distinct))
	counts := make([]int, len(distinct))
	pairCounts := make(map[symbolPair]int)
	where := make(map[symbolPair]map[int]struct{})
	for idx, word := range distinct {
		ids := make([]int32, 0, len(word))
		for _, r := range word {
			ids = append(ids, int32(vocab[string(r)]))
		}
		words[idx] = ids
		counts[idx] = wordCounts[word]
		for p := 0; p < len(ids)-1; p++ {
			pair := symbolPair{ids[p], ids[p+1]}
			pairCounts[pair] += counts[idx]
			if where[pair] == nil {
				where[pair] = make(map[int]struct{})
			}
			where[pair][idx] = struct{}{}
		}
	}

	queue := make(pairQueue, 0, len(pairCounts))
	for pair, count := range pairCounts {
		queue = append(queue, pairEntry{pair: pair, count: count})
	}
	heap.Init(&queue)

	minFrequency := trainer.MinFrequency
	if minFrequency < 1 {
		minFrequency = 1
	}
	merges := make([]types.Pair, 0, trainer.VocabSize-len(symbols))
	for len(symbols) < trainer.VocabSize && queue.Len() > 0 {
		top := heap.Pop(&queue).(pairEntry)
		if current := pairCounts[top.pair]; current != top.count {
			continue
		}
		if top.count < minFrequency {
			break
		}
		left, right := symbols[top.pair[0]], symbols[top.pair[1]]
		merged := addSymbol(left + right)
		merges = append(merges, types.Pair{Left: left, Right: right})

		affected := make([]int, 0, len(where[top.pair]))
		for idx := range where[top.pair] {
			affected = append(affected, idx)
		}
		sort.Ints(affected)
		delta := make(map[symbolPair]int)
		for _, idx := range affected {
			updated, changed := mergeWord(words[idx], top.pair, merged)
			if !changed {
				continue
			}
			wordPairs(words[idx], -counts[idx], delta)
			wordPairs(updated, counts[idx], delta)
			words[idx] = updated
			for p := 0; p < len(updated)-1; p++ {
				pair := symbolPair{updated[p], updated[p+1]}
				if where[pair] == nil {
					where[pair] = make(map[int]struct{})
				}
				where[pair][idx] = struct{}{}
			}
		}
		delete(where, top.pair)

		changedPairs := make([]symbolPair, 0, len(delta))
		for pair, d := range delta {
			if d != 0 {
				changedPairs = append(changedPairs, pair)
			}
		}
		sort.Slice(changedPairs, func(i, j int) bool {
			if changedPairs[i][0] != changedPairs[j][0] {
				return changedPairs[i][0] < changedPairs[j][0]
			}
			return changedPairs[i][1] < changedPairs[j][1]
		})
		for _, pair := range changedPairs {
			count := pairCounts[pair] + delta[pair]
			if count <= 0 {
				delete(pairCounts, pair)
				continue
			}
			pairCounts[pair] = count
			heap.Push(&queue, pairEntry{pair: pair, count: count})
		}
		delete(pairCounts, top.pair)

		if trainer.ShowProgress && len(merges)%1000 == 0 {
			log.Printf("Learned %s merges, vocabulary at %s / %s.",
				humanize.Comma(int64(len(merges))),
				humanize.Comma(int64(len(symbols))),
				humanize.Comma(int64(trainer.VocabSize)))
		}
	}
	if trainer.ShowProgress {
		log.Printf("Trained %s tokens with %s merges in %s.",
			humanize.Comma(int64(len(symbols))),
			humanize.Comma(int64(len(merges))), time.Since(start))
	}

	return &Model{
		Vocab:         vocab,
		Merges:        merges,
		SpecialTokens: append([]string{}, trainer.SpecialTokens...),
	}, nil
}
