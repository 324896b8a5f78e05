package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
)

// Settings
// The knobs of the masked-LM data preparation run. Zero values in a settings
// file keep the defaults.
type Settings struct {
	Language          string   `json:"language"`
	ModelConfig       string   `json:"model_config"`
	ModelDir          string   `json:"model_dir,omitempty"`
	CacheDir          string   `json:"cache_dir"`
	BlockSize         int      `json:"block_size"`
	VocabSize         int      `json:"vocab_size"`
	MinFrequency      int      `json:"min_frequency"`
	SpecialTokens     []string `json:"special_tokens"`
	ValidationPercent int      `json:"validation_percent"`
	Workers           int      `json:"workers"`
	BatchSize         int      `json:"batch_size"`
	MaxRecords        int64    `json:"max_records"`
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path.Join(".cache", "bbpe")
	}
	return path.Join(home, ".cache", "bbpe")
}

// DefaultSettings returns the settings of the Korean RoBERTa run.
func DefaultSettings() Settings {
	return Settings{
		Language:    "ko",
		ModelConfig: "roberta-base",
		CacheDir:    defaultCacheDir(),
		BlockSize:   128,
		// Zero takes the vocabulary size of the model configuration.
		VocabSize:    0,
		MinFrequency: 2,
		SpecialTokens: []string{
			"<s>", "<pad>", "</s>", "<unk>", "<mask>",
		},
		ValidationPercent: 5,
		Workers:           4,
		BatchSize:         1000,
	}
}

// LoadSettings
// Reads settings from a JSON file on top of DefaultSettings. An empty path
// returns the defaults.
func LoadSettings(settingsPath string) (Settings, error) {
	settings := DefaultSettings()
	if settingsPath == "" {
		return settings, nil
	}
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return settings, fmt.Errorf("cannot read settings `%s`: %w",
			settingsPath, err)
	}
	if err = json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("cannot parse settings `%s`: %w",
			settingsPath, err)
	}
	return settings, nil
}

// Validate checks that the settings describe a runnable pipeline.
func (settings Settings) Validate() error {
	switch {
	case strings.TrimSpace(settings.Language) == "":
		return errors.New("language must be set")
	case settings.BlockSize <= 0:
		return fmt.Errorf("block size must be positive, got %d",
			settings.BlockSize)
	case settings.ValidationPercent < 0 || settings.ValidationPercent >= 100:
		return fmt.Errorf("validation percent must be in [0, 100), got %d",
			settings.ValidationPercent)
	case settings.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d",
			settings.Workers)
	case settings.BatchSize < 1:
		return fmt.Errorf("batch size must be at least 1, got %d",
			settings.BatchSize)
	case len(settings.SpecialTokens) == 0:
		return errors.New("special tokens must be set")
	case settings.VocabSize < 0:
		return fmt.Errorf("vocab size cannot be negative, got %d",
			settings.VocabSize)
	}
	return nil
}

// ModelDirPath
// Returns the directory the configuration and tokenizer are saved into,
// `<model_config>-pretrained-<language>` unless ModelDir is set.
func (settings Settings) ModelDirPath() string {
	if settings.ModelDir != "" {
		return settings.ModelDir
	}
	return fmt.Sprintf("%s-pretrained-%s", path.Base(settings.ModelConfig),
		settings.Language)
}

// DatasetConfigName returns the OSCAR configuration name for the language.
func (settings Settings) DatasetConfigName() string {
	return "unshuffled_deduplicated_" + settings.Language
}
