package mlm

import "errors"

// BatchFunc transforms a batch of texts into examples.
type BatchFunc func(batch []string) (Examples, error)

// Mapper applies a BatchFunc to batches on Workers goroutines.
// BatchSize is the number of texts to read per batch.
type Mapper struct {
	Workers   int
	BatchSize int
}

// NewMapper returns a Mapper with four workers and batches of 1000 texts.
func NewMapper() Mapper {
	return Mapper{Workers: 4, BatchSize: 1000}
}

type mapResult struct {
	examples Examples
	err      error
}

// Map
// Calls fn on every batch returned by next until it returns a nil batch, and
// passes the results to out in the order the batches were read. At most
// Workers batches are transformed at once. The first error from next, fn or
// out stops the mapping and is returned.
func (mapper Mapper) Map(next func() ([]string, error), fn BatchFunc,
	out func(Examples) error) error {
	if fn == nil || out == nil {
		return errors.New("mlm: Map needs a batch function and an output")
	}
	workers := mapper.Workers
	if workers < 1 {
		workers = 1
	}

	// The batch out is waiting on plus the buffered ones.
	pending := make(chan chan mapResult, workers-1)
	done := make(chan struct{})
	go func() {
		defer close(pending)
		for {
			batch, err := next()
			if err == nil && batch == nil {
				return
			}
			result := make(chan mapResult, 1)
			select {
			case pending <- result:
			case <-done:
				return
			}
			if err != nil {
				result <- mapResult{err: err}
				return
			}
			go func(batch []string) {
				examples, fnErr := fn(batch)
				result <- mapResult{examples: examples, err: fnErr}
			}(batch)
		}
	}()

	var firstErr error
	for result := range pending {
		mapped := <-result
		if firstErr != nil {
			continue
		}
		if mapped.err == nil {
			mapped.err = out(mapped.examples)
		}
		if mapped.err != nil {
			firstErr = mapped.err
			close(done)
		}
	}
	return firstErr
}
