package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"testing"

	"github.com/oscar-mlm/bbpe/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()
	require.NoError(t, settings.Validate())
	assert.Equal(t, "ko", settings.Language)
	assert.Equal(t, 128, settings.BlockSize)
	assert.Equal(t, 4, settings.Workers)
	assert.Equal(t, "roberta-base-pretrained-ko", settings.ModelDirPath())
	assert.Equal(t, "unshuffled_deduplicated_ko",
		settings.DatasetConfigName())
	assert.Equal(t, []string{"<s>", "<pad>", "</s>", "<unk>", "<mask>"},
		settings.SpecialTokens)
}

func TestSettings_ModelDirPath(t *testing.T) {
	settings := DefaultSettings()
	settings.Language = "ja"
	settings.ModelConfig = "FacebookAI/roberta-large"
	assert.Equal(t, "roberta-large-pretrained-ja", settings.ModelDirPath())
	settings.ModelDir = "/tmp/model"
	assert.Equal(t, "/tmp/model", settings.ModelDirPath())
}

func TestLoadSettings(t *testing.T) {
	settings, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)

	settingsPath := path.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(settingsPath,
		[]byte(`{"language": "ja", "block_size": 256}`), 0644))
	settings, err = LoadSettings(settingsPath)
	require.NoError(t, err)
	assert.Equal(t, "ja", settings.Language)
	assert.Equal(t, 256, settings.BlockSize)
	assert.Equal(t, 5, settings.ValidationPercent)

	require.NoError(t, os.WriteFile(settingsPath, []byte(`{`), 0644))
	_, err = LoadSettings(settingsPath)
	assert.Error(t, err)
	_, err = LoadSettings(path.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	broken := []func(*Settings){
		func(s *Settings) { s.Language = " " },
		func(s *Settings) { s.BlockSize = 0 },
		func(s *Settings) { s.ValidationPercent = 100 },
		func(s *Settings) { s.ValidationPercent = -1 },
		func(s *Settings) { s.Workers = 0 },
		func(s *Settings) { s.BatchSize = 0 },
		func(s *Settings) { s.SpecialTokens = nil },
		func(s *Settings) { s.VocabSize = -1 },
	}
	for idx, breakIt := range broken {
		settings := DefaultSettings()
		breakIt(&settings)
		assert.Error(t, settings.Validate(), "case %d", idx)
	}
}

func TestParseRobertaConfig(t *testing.T) {
	embedded := resources.GetEmbeddedResource("roberta-base/config.json")
	require.NotNil(t, embedded)
	cfg, err := ParseRobertaConfig(embedded.Data)
	require.NoError(t, err)
	assert.Equal(t, 50265, cfg.VocabSize)
	assert.Equal(t, 514, cfg.MaxPositionEmbeddings)
	assert.Equal(t, "roberta", cfg.ModelType)
	assert.Equal(t, "absolute", cfg.PositionEmbeddingType)

	_, err = ParseRobertaConfig([]byte(`{"model_type": "roberta"}`))
	assert.Error(t, err)
}

func TestResolveModelConfig_HTTP(t *testing.T) {
	embedded := resources.GetEmbeddedResource("roberta-base/config.json")
	require.NotNil(t, embedded)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/config.json" {
				http.NotFound(w, r)
				return
			}
			w.Write(embedded.Data)
		}))
	defer server.Close()

	cacheDir := t.TempDir()
	cfg, err := ResolveModelConfig(server.URL, cacheDir)
	require.NoError(t, err)
	assert.Equal(t, 50265, cfg.VocabSize)
}

func TestResolveModelConfig_LocalAndSave(t *testing.T) {
	embedded := resources.GetEmbeddedResource("roberta-base/config.json")
	require.NotNil(t, embedded)
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(path.Join(srcDir, "config.json"),
		embedded.Data, 0644))

	cfg, err := ResolveModelConfig(srcDir, t.TempDir())
	require.NoError(t, err)

	modelDir := path.Join(t.TempDir(), "roberta-base-pretrained-ko")
	resized := cfg.WithVocabSize(32000)
	assert.Equal(t, 50265, cfg.VocabSize)
	require.NoError(t, resized.SavePretrained(modelDir))

	saved, err := ResolveModelConfig(modelDir, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 32000, saved.VocabSize)
	assert.Equal(t, TransformersVersion, saved.TransformersVersion)
	assert.Equal(t, []string{"RobertaForMaskedLM"}, saved.Architectures)
}

func TestResolveModelConfig_Missing(t *testing.T) {
	_, err := ResolveModelConfig(t.TempDir(), t.TempDir())
	assert.Error(t, err)
}
