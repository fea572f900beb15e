package groq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectModelKeepsConfiguredModel(t *testing.T) {
	assert.Equal(t, "llama-3.1-8b-instant", SelectModel("llama-3.1-8b-instant", "show delays by route"))
	assert.Equal(t, "custom-intent-model", SelectModel("custom-intent-model", "delays last week"))
}

func TestSelectModelCapabilityUpgrade(t *testing.T) {
	// クエリ中の能力トークンが設定モデルを上書きする
	assert.Equal(t, "llama-3.1-70b-versatile", SelectModel("llama-3.1-8b-instant", "think step by step about delays"))
	// 上書き先が無い能力は設定モデルのまま
	assert.Equal(t, "custom-intent-model", SelectModel("custom-intent-model", "call the tool for this"))
}
