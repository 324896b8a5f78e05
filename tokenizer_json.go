package bbpe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/oscar-mlm/bbpe/types"
)

// hfAddedToken is an entry of `added_tokens` in a Hugging Face
// `tokenizer.json`.
type hfAddedToken struct {
	Id         types.Token `json:"id"`
	Content    string      `json:"content"`
	SingleWord bool        `json:"single_word"`
	Lstrip     bool        `json:"lstrip"`
	Rstrip     bool        `json:"rstrip"`
	Normalized bool        `json:"normalized"`
	Special    bool        `json:"special"`
}

type hfBPEModel struct {
	Type                    string            `json:"type"`
	Dropout                 *float64          `json:"dropout"`
	UnkToken                *string           `json:"unk_token"`
	ContinuingSubwordPrefix *string           `json:"continuing_subword_prefix"`
	EndOfWordSuffix         *string           `json:"end_of_word_suffix"`
	FuseUnk                 bool              `json:"fuse_unk"`
	Vocab                   orderedVocab      `json:"vocab"`
	Merges                  []json.RawMessage `json:"merges"`
}

type hfTokenizer struct {
	Version       string                 `json:"version"`
	Truncation    interface{}            `json:"truncation"`
	Padding       interface{}            `json:"padding"`
	AddedTokens   []hfAddedToken         `json:"added_tokens"`
	Normalizer    interface{}            `json:"normalizer"`
	PreTokenizer  map[string]interface{} `json:"pre_tokenizer"`
	PostProcessor map[string]interface{} `json:"post_processor"`
	Decoder       map[string]interface{} `json:"decoder"`
	Model         hfBPEModel             `json:"model"`
}

func byteLevelConfig() map[string]interface{} {
	return map[string]interface{}{
		"type":             "ByteLevel",
		"add_prefix_space": false,
		"trim_offsets":     true,
		"use_regex":        true,
	}
}

// SaveTokenizerJSON
// Writes the model as a Hugging Face `tokenizer.json`: a BPE model with a
// ByteLevel pre-tokenizer and decoder, and a RoBERTa post-processor that
// wraps sequences as `<s> … </s>`.
func (model *Model) SaveTokenizerJSON(filePath string) error {
	if err := os.MkdirAll(path.Dir(filePath), 0755); err != nil {
		return err
	}
	added := make([]hfAddedToken, 0, len(model.SpecialTokens))
	for _, special := range model.SpecialTokens {
		added = append(added, hfAddedToken{
			Id:      model.Vocab[special],
			Content: special,
			Special: true,
		})
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Id < added[j].Id })

	merges := make([]json.RawMessage, 0, len(model.Merges))
	for _, merge := range model.Merges {
		encoded, err := marshalJSON(merge.Left+" "+merge.Right, false)
		if err != nil {
			return err
		}
		merges = append(merges, encoded)
	}

	var postProcessor map[string]interface{}
	roles := model.Roles()
	bos, hasBos := model.Vocab[roles["bos_token"]]
	eos, hasEos := model.Vocab[roles["eos_token"]]
	if hasBos && hasEos {
		postProcessor = map[string]interface{}{
			"type":             "RobertaProcessing",
			"sep":              []interface{}{roles["eos_token"], eos},
			"cls":              []interface{}{roles["bos_token"], bos},
			"trim_offsets":     true,
			"add_prefix_space": false,
		}
	}

	tokenizer := hfTokenizer{
		Version:       "1.0",
		AddedTokens:   added,
		PreTokenizer:  byteLevelConfig(),
		PostProcessor: postProcessor,
		Decoder:       byteLevelConfig(),
		Model: hfBPEModel{
			Type:   "BPE",
			Vocab:  orderedVocab(model.Vocab),
			Merges: merges,
		},
	}
	encoded, err := marshalJSON(tokenizer, true)
	if err != nil {
		return fmt.Errorf("cannot marshal `tokenizer.json`: %w", err)
	}
	return os.WriteFile(filePath, encoded, 0644)
}

// ParseTokenizerJSON
// Parses a Hugging Face `tokenizer.json` holding a byte-level BPE model.
// Merges may be either `"a b"` strings or `["a", "b"]` pairs.
func ParseTokenizerJSON(data []byte) (*Model, error) {
	var tokenizer struct {
		AddedTokens []hfAddedToken `json:"added_tokens"`
		Model       struct {
			Type   string            `json:"type"`
			Vocab  types.TokenMap    `json:"vocab"`
			Merges []json.RawMessage `json:"merges"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizer); err != nil {
		return nil, fmt.Errorf("error unmarshalling `tokenizer.json`: %w",
			err)
	}
	if tokenizer.Model.Type != "" && tokenizer.Model.Type != "BPE" {
		return nil, errors.New(fmt.Sprintf(
			"unsupported tokenizer model type `%s`", tokenizer.Model.Type))
	}

	merges := make([]types.Pair, 0, len(tokenizer.Model.Merges))
	for idx, raw := range tokenizer.Model.Merges {
		var asString string
		var asPair []string
		if err := json.Unmarshal(raw, &asString); err == nil {
			leftRight := strings.SplitN(asString, " ", 2)
			if len(leftRight) != 2 {
				return nil, fmt.Errorf("malformed merge %d: %q", idx,
					asString)
			}
			asPair = leftRight
		} else if err = json.Unmarshal(raw, &asPair); err != nil ||
			len(asPair) != 2 {
			return nil, fmt.Errorf("malformed merge %d: %s", idx, raw)
		}
		merges = append(merges, types.Pair{Left: asPair[0], Right: asPair[1]})
	}

	vocab := tokenizer.Model.Vocab
	if vocab == nil {
		vocab = make(types.TokenMap)
	}
	specials := make([]string, 0, len(tokenizer.AddedTokens))
	sort.Slice(tokenizer.AddedTokens, func(i, j int) bool {
		return tokenizer.AddedTokens[i].Id < tokenizer.AddedTokens[j].Id
	})
	for _, added := range tokenizer.AddedTokens {
		if _, ok := vocab[added.Content]; !ok {
			vocab[added.Content] = added.Id
		}
		if added.Special {
			specials = append(specials, added.Content)
		}
	}
	return &Model{
		Vocab:         vocab,
		Merges:        merges,
		SpecialTokens: specials,
	}, nil
}

// LoadTokenizerJSON reads a `tokenizer.json` file from disk.
func LoadTokenizerJSON(filePath string) (*Model, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ParseTokenizerJSON(data)
}
