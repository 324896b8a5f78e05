package bbpe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/oscar-mlm/bbpe/resources"
	"github.com/oscar-mlm/bbpe/types"
)

const mergesHeader = "#version: 0.2"

// Model is a trained byte-level BPE vocabulary: the token ids, the merges in
// rank order, and the special tokens with their roles.
type Model struct {
	Vocab         types.TokenMap
	Merges        []types.Pair
	SpecialTokens []string
	SpecialRoles  resources.Specials
}

// robertaRoles is the special token map RoBERTa-style masked-LM tokenizers use.
var robertaRoles = resources.Specials{
	"bos_token":  "<s>",
	"eos_token":  "</s>",
	"unk_token":  "<unk>",
	"sep_token":  "</s>",
	"pad_token":  "<pad>",
	"cls_token":  "<s>",
	"mask_token": "<mask>",
}

// DefaultRoles
// Returns the RoBERTa special token roles restricted to those whose token is
// among specials.
func DefaultRoles(specials []string) resources.Specials {
	present := make(map[string]bool, len(specials))
	for _, special := range specials {
		present[special] = true
	}
	roles := make(resources.Specials)
	for role, text := range robertaRoles {
		if present[text] {
			roles[role] = text
		}
	}
	return roles
}

// Roles returns the special token roles of the model, defaulting to the
// RoBERTa roles of its special tokens.
func (model *Model) Roles() resources.Specials {
	if len(model.SpecialRoles) > 0 {
		return model.SpecialRoles
	}
	return DefaultRoles(model.SpecialTokens)
}

// orderedVocab marshals a vocabulary as a JSON object ordered by token id.
type orderedVocab types.TokenMap

func (vocab orderedVocab) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(vocab))
	for k := range vocab {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return vocab[keys[i]] < vocab[keys[j]]
	})
	buf := bytes.NewBuffer(make([]byte, 0, len(keys)*16))
	buf.WriteByte('{')
	for idx, k := range keys {
		if idx > 0 {
			buf.WriteByte(',')
		}
		keyJson, err := marshalJSON(k, false)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJson)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatUint(uint64(vocab[k]), 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalJSON encodes v without escaping `<` and `>`, which special tokens
// are made of.
func marshalJSON(v interface{}, indent bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Save
// Writes `vocab.json`, `merges.txt` and `special_tokens_map.json` into dir,
// creating it if needed.
func (model *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	vocabJson, err := marshalJSON(orderedVocab(model.Vocab), false)
	if err != nil {
		return fmt.Errorf("cannot marshal `vocab.json`: %w", err)
	}
	if err = os.WriteFile(path.Join(dir, "vocab.json"), vocabJson,
		0644); err != nil {
		return err
	}

	var merges strings.Builder
	merges.WriteString(mergesHeader + "\n")
	for _, merge := range model.Merges {
		merges.WriteString(merge.Left + " " + merge.Right + "\n")
	}
	if err = os.WriteFile(path.Join(dir, "merges.txt"),
		[]byte(merges.String()), 0644); err != nil {
		return err
	}

	rolesJson, err := marshalJSON(model.Roles(), true)
	if err != nil {
		return fmt.Errorf("cannot marshal `special_tokens_map.json`: %w",
			err)
	}
	return os.WriteFile(path.Join(dir, "special_tokens_map.json"),
		rolesJson, 0644)
}

// parseMerges reads a merges file, skipping the version header and blank
// lines.
func parseMerges(data []byte) ([]types.Pair, error) {
	merges := make([]types.Pair, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		leftRight := strings.SplitN(line, " ", 2)
		if len(leftRight) != 2 {
			return nil, fmt.Errorf("malformed merge on line %d: %q",
				lineNo, line)
		}
		merges = append(merges, types.Pair{
			Left: leftRight[0], Right: leftRight[1]})
	}
	return merges, scanner.Err()
}

// specialsFromRoles lists the distinct role tokens ordered by token id.
func specialsFromRoles(roles resources.Specials,
	vocab types.TokenMap) []string {
	seen := make(map[string]bool)
	specials := make([]string, 0, len(roles))
	for _, text := range roles {
		if _, inVocab := vocab[text]; inVocab && !seen[text] {
			seen[text] = true
			specials = append(specials, text)
		}
	}
	sort.Slice(specials, func(i, j int) bool {
		return vocab[specials[i]] < vocab[specials[j]]
	})
	return specials
}

// LoadModel
// Resolves a tokenizer at uri, a local directory, URL, or Hugging Face id,
// and parses it into a Model. Remote files are fetched into a temporary
// directory that is removed once parsed.
func LoadModel(uri string) (*Model, error) {
	dir := uri
	if stat, statErr := os.Stat(uri); statErr != nil || !stat.IsDir() {
		tmpDir, dirErr := os.MkdirTemp("", "bbpe")
		if dirErr != nil {
			return nil, dirErr
		}
		defer os.RemoveAll(tmpDir)
		dir = tmpDir
	}

	entries := resources.TokenizerEntries()
	if _, sizeErr := resources.Size(uri, "tokenizer.json"); sizeErr == nil {
		entries = resources.ResourceEntryDefs{
			"tokenizer.json":          resources.RESOURCE_REQUIRED,
			"special_tokens_map.json": resources.RESOURCE_OPTIONAL,
		}
	}
	rsrcs, rsrcErr := resources.ResolveResources(uri, dir, entries,
		resources.RESOURCE_OPTIONAL)
	if rsrcErr != nil {
		return nil, rsrcErr
	}
	defer rsrcs.Cleanup()

	roles, rolesErr := rsrcs.ResolveSpecialTokens()
	if rolesErr != nil {
		return nil, rolesErr
	}

	if tokenizerJson, ok := rsrcs["tokenizer.json"]; ok {
		model, parseErr := ParseTokenizerJSON(tokenizerJson.Data)
		if parseErr != nil {
			return nil, parseErr
		}
		if len(roles) > 0 {
			model.SpecialRoles = roles
		}
		return model, nil
	}

	vocab := make(types.TokenMap)
	if err := json.Unmarshal(rsrcs["vocab.json"].Data, &vocab); err != nil {
		return nil, fmt.Errorf("error unmarshalling `vocab.json`: %w", err)
	}
	merges, mergesErr := parseMerges(rsrcs["merges.txt"].Data)
	if mergesErr != nil {
		return nil, mergesErr
	}
	if len(roles) == 0 {
		return nil, errors.New(fmt.Sprintf(
			"no special tokens found for `%s`", uri))
	}
	return &Model{
		Vocab:         vocab,
		Merges:        merges,
		SpecialTokens: specialsFromRoles(roles, vocab),
		SpecialRoles:  roles,
	}, nil
}
