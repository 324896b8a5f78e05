package types

type Token uint32
type Tokens []Token
type TokenMap map[string]Token

// Pair is an adjacent symbol pair considered for a BPE merge.
type Pair struct {
	Left  string
	Right string
}

// IgnoreIndex marks label positions that do not contribute to the MLM loss.
const IgnoreIndex = -100
