package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"github.com/oscar-mlm/bbpe/resources"
)

const TransformersVersion = "4.9.0.dev0"

// RobertaConfig is the Hugging Face `config.json` of a RoBERTa model.
type RobertaConfig struct {
	Architectures             []string `json:"architectures"`
	AttentionProbsDropoutProb float64  `json:"attention_probs_dropout_prob"`
	BosTokenId                int      `json:"bos_token_id"`
	EosTokenId                int      `json:"eos_token_id"`
	GradientCheckpointing     bool     `json:"gradient_checkpointing"`
	HiddenAct                 string   `json:"hidden_act"`
	HiddenDropoutProb         float64  `json:"hidden_dropout_prob"`
	HiddenSize                int      `json:"hidden_size"`
	InitializerRange          float64  `json:"initializer_range"`
	IntermediateSize          int      `json:"intermediate_size"`
	LayerNormEps              float64  `json:"layer_norm_eps"`
	MaxPositionEmbeddings     int      `json:"max_position_embeddings"`
	ModelType                 string   `json:"model_type"`
	NumAttentionHeads         int      `json:"num_attention_heads"`
	NumHiddenLayers           int      `json:"num_hidden_layers"`
	PadTokenId                int      `json:"pad_token_id"`
	PositionEmbeddingType     string   `json:"position_embedding_type"`
	TransformersVersion       string   `json:"transformers_version"`
	TypeVocabSize             int      `json:"type_vocab_size"`
	UseCache                  bool     `json:"use_cache"`
	VocabSize                 int      `json:"vocab_size"`
}

// ParseRobertaConfig parses a `config.json`, filling in the fields older
// configurations omit.
func ParseRobertaConfig(data []byte) (*RobertaConfig, error) {
	cfg := &RobertaConfig{
		PositionEmbeddingType: "absolute",
		UseCache:              true,
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse `config.json`: %w", err)
	}
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("`config.json` has no vocab_size")
	}
	return cfg, nil
}

// ResolveModelConfig
// Resolves the `config.json` of modelConfig, a local directory, URL, or
// Hugging Face model id, caching it under cacheDir. The embedded
// `roberta-base` configuration is used when it cannot be fetched.
func ResolveModelConfig(modelConfig string, cacheDir string) (*RobertaConfig,
	error) {
	dir := modelConfig
	if stat, err := os.Stat(modelConfig); err != nil || !stat.IsDir() {
		dir = path.Join(cacheDir, "models",
			strings.ReplaceAll(modelConfig, "/", "--"))
	}
	rsrcs, rsrcErr := resources.ResolveResources(modelConfig, dir,
		resources.ConfigEntries(), resources.RESOURCE_REQUIRED)
	if rsrcErr != nil {
		embedded := resources.GetEmbeddedResource(
			path.Join(modelConfig, "config.json"))
		if embedded == nil {
			return nil, rsrcErr
		}
		log.Printf("Using embedded `%s` configuration: %v", modelConfig,
			rsrcErr)
		return ParseRobertaConfig(embedded.Data)
	}
	defer rsrcs.Cleanup()
	return ParseRobertaConfig(rsrcs["config.json"].Data)
}

// WithVocabSize returns a copy of the configuration with vocabSize set.
func (cfg *RobertaConfig) WithVocabSize(vocabSize int) *RobertaConfig {
	updated := *cfg
	updated.Architectures = append([]string{}, cfg.Architectures...)
	updated.VocabSize = vocabSize
	return &updated
}

// SavePretrained writes `config.json` into dir, creating it as needed.
func (cfg *RobertaConfig) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create `%s`: %w", dir, err)
	}
	toSave := *cfg
	if toSave.TransformersVersion == "" {
		toSave.TransformersVersion = TransformersVersion
	}
	encoded, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(dir, "config.json"),
		append(encoded, '\n'), 0644)
}
