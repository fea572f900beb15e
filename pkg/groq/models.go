package groq

import "strings"

// クエリ本文に含まれるトークンからモデル能力の要求を推定します。
// 判定順を固定するためスライスで持ちます。
var capabilityTokens = []struct {
	capability string
	tokens     []string
}{
	{"reasoning", []string{"reasoning", "think", "chain", "complex"}},
	{"function", []string{"function", "tool", "call"}},
	{"vision", []string{"image", "vision", "picture"}},
}

// 能力別の上書きモデル。ここに無い能力は設定されたモデルのまま使います。
var capabilityModels = map[string]string{
	"reasoning": "llama-3.1-70b-versatile",
}

// SelectModel returns the model to use for a request. The configured
// purpose model is the baseline; capability tokens found in the query
// upgrade it to a stronger model.
func SelectModel(configured, query string) string {
	lower := strings.ToLower(query)
	for _, entry := range capabilityTokens {
		for _, token := range entry.tokens {
			if strings.Contains(lower, token) {
				if model, ok := capabilityModels[entry.capability]; ok {
					return model
				}
				return configured
			}
		}
	}
	return configured
}
