package oscar

import (
	"fmt"
	"path"
)

const (
	DefaultBucket  = "datasets.huggingface.co"
	DefaultBaseURL = "https://s3.amazonaws.com/datasets.huggingface.co"
	DefaultRegion  = "us-east-1"
	rootPrefix     = "oscar/1.0"
)

// Config
// Names one OSCAR 1.0 subset: a language, and whether the deduplicated or
// original crawl is used.
type Config struct {
	Language     string
	Deduplicated bool
}

// NewConfig returns the configuration of the unshuffled OSCAR subset for
// language.
func NewConfig(language string, deduplicated bool) Config {
	return Config{Language: language, Deduplicated: deduplicated}
}

func (cfg Config) variant() string {
	if cfg.Deduplicated {
		return "deduplicated"
	}
	return "original"
}

// Name returns the dataset configuration name, such as
// `unshuffled_deduplicated_ko`.
func (cfg Config) Name() string {
	return fmt.Sprintf("unshuffled_%s_%s", cfg.variant(), cfg.Language)
}

// Prefix returns the key prefix of the subset in the bucket, ending in `/`.
func (cfg Config) Prefix() string {
	return path.Join(rootPrefix, "unshuffled", cfg.variant(),
		cfg.Language) + "/"
}

// ChecksumFile returns the name of the file listing the shards and their
// sha256 digests.
func (cfg Config) ChecksumFile() string {
	return cfg.Language + "_sha256.txt"
}
