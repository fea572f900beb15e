package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPromptsMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadPrompts("does/not/exist.yaml")

	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.Models.Intent)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Models.Clarify)
	assert.NotEmpty(t, cfg.Intent.Instructions)
	assert.NotEmpty(t, cfg.Plans.Route)
}

func TestLoadPromptsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "models:\n  intent: custom-model\nintent:\n  system: custom system\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadPrompts(path)

	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.Models.Intent)
	assert.Equal(t, "custom system", cfg.Intent.System)
	// 明示されていない項目はデフォルトのまま
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Models.Clarify)
}

func TestLoadPromptsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [unclosed"), 0o644))

	_, err := LoadPrompts(path)
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	cfg := DefaultPrompts()

	assert.Equal(t, "llama-3.1-8b-instant", cfg.ModelFor("intent"))
	assert.Equal(t, "llama-3.1-70b-versatile", cfg.ModelFor("metadata"))
	assert.Equal(t, "llama-3.1-8b-instant", cfg.ModelFor("unknown"))
}
