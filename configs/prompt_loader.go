package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptConfig はprompts.yamlの構造を定義します。
// LLM呼び出しに使うシステムプロンプトと指示文をコードから分離して管理します。
type PromptConfig struct {
	Models struct {
		Intent    string `yaml:"intent"`
		Clarify   string `yaml:"clarify"`
		Metadata  string `yaml:"metadata"`
		Reasoning string `yaml:"reasoning"`
		Default   string `yaml:"default"`
	} `yaml:"models"`

	Intent struct {
		System       string `yaml:"system"`
		Instructions string `yaml:"instructions"`
	} `yaml:"intent"`

	Clarify struct {
		System       string `yaml:"system"`
		Instructions string `yaml:"instructions"`
	} `yaml:"clarify"`

	Metadata struct {
		System       string `yaml:"system"`
		Instructions string `yaml:"instructions"`
	} `yaml:"metadata"`

	Plans struct {
		Route     string `yaml:"route"`
		Warehouse string `yaml:"warehouse"`
		Delay     string `yaml:"delay"`
	} `yaml:"plans"`
}

// ModelFor returns the configured model name for a purpose.
func (p *PromptConfig) ModelFor(purpose string) string {
	switch purpose {
	case "intent":
		if p.Models.Intent != "" {
			return p.Models.Intent
		}
	case "clarify":
		if p.Models.Clarify != "" {
			return p.Models.Clarify
		}
	case "metadata":
		if p.Models.Metadata != "" {
			return p.Models.Metadata
		}
	case "reasoning":
		if p.Models.Reasoning != "" {
			return p.Models.Reasoning
		}
	}
	if p.Models.Default != "" {
		return p.Models.Default
	}
	return "llama-3.1-8b-instant"
}

// LoadPrompts はYAMLファイルからプロンプト設定を読み込みます。
// ファイルが存在しない場合は組み込みのデフォルトを返します（起動は止めない）。
func LoadPrompts(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPrompts(), nil
		}
		return nil, fmt.Errorf("プロンプト設定の読み込みに失敗: %w", err)
	}

	cfg := DefaultPrompts()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("プロンプト設定の解析に失敗: %w", err)
	}
	return cfg, nil
}

// DefaultPrompts returns the built-in prompt set used when no YAML file
// is present. The wording mirrors configs/prompts.yaml.
func DefaultPrompts() *PromptConfig {
	cfg := &PromptConfig{}
	cfg.Models.Intent = "llama-3.1-8b-instant"
	cfg.Models.Clarify = "llama-3.3-70b-versatile"
	cfg.Models.Metadata = "llama-3.1-70b-versatile"
	cfg.Models.Reasoning = "llama-3.1-70b-versatile"
	cfg.Models.Default = "llama-3.1-8b-instant"

	cfg.Intent.System = "Classify logistics analytics intents."
	cfg.Intent.Instructions = "You are an intent classifier for the Hermes logistics analytics assistant.\n" +
		"Classify the user's request into ONE intent strictly from this list:\n" +
		"greeting = salutations like hi/hello.\n" +
		"gratitude = user is thanking or expressing appreciation.\n" +
		"clarify = very short / ambiguous request that needs disambiguation.\n" +
		"prediction = asks for forecasts, projections, next week, future values.\n" +
		"warehouse = comparative performance of warehouses.\n" +
		"route = performance or delays by route.\n" +
		"delay_reason = why shipments are delayed; breakdown of reasons.\n" +
		"delay = delay statistics, averages, patterns (not reasons).\n" +
		"analytics = general quantitative overview of current dataset.\n" +
		"conversation = explanatory, qualitative question seeking an insight narrative WITHOUT charts (keywords: explain, why, how, tell me about, interpret, insight).\n" +
		"text_only = user explicitly requests no visualization (keywords: 'no chart', 'just text', 'text only', 'no visualization').\n\n" +
		"If the user asks for visualization (keywords: show, chart, graph, plot, visualize, bar, line, pie) DO NOT choose conversation/text_only; pick the underlying analytic intent instead.\n" +
		"Prefer specificity: warehouse/route/delay/delay_reason/prediction over analytics when keywords match.\n" +
		"Never output anything except valid JSON."

	cfg.Clarify.System = "Clarify ambiguous logistics queries."
	cfg.Clarify.Instructions = "You are Hermes, a logistics analytics assistant. The user's latest message is ambiguous.\n" +
		"Ask for clarification or suggest example queries about shipments, delays, warehouses, routes, or predictions.\n" +
		"Keep it concise."

	cfg.Metadata.System = "Extract logistics query metadata with JSON output."
	cfg.Metadata.Instructions = "You analyze user logistics questions across languages and return structured JSON.\n" +
		"Supported fields: route, warehouse, delay_reason.\n" +
		"Detect timeframe expressions (language-agnostic) and return either relative ranges or absolute ISO dates.\n" +
		"If user mentions forecast length, convert to horizon days.\n" +
		"Only return values present/derivable from the query."

	cfg.Plans.Route = "You plan how to rank shipping routes for the user's question.\n" +
		"Allowed sort_field values: delayed_shipments, total_delay_minutes, avg_delay_minutes, avg_delivery_time, total_shipments.\n" +
		"Return STRICT JSON: {\"sort_field\": string, \"sort_order\": \"asc\"|\"desc\", \"metric_label\": string, \"chart_title\": string, \"focus_phrase\": string, \"summary_template\": string}.\n" +
		"The summary_template may use placeholders {period}, {top_label}, {metric_label}, {metric_value}, {focus_phrase}, {delayed_shipments}, {total_shipments}, {avg_delay_minutes}, {total_delay_minutes}."

	cfg.Plans.Warehouse = "You plan how to rank warehouses for the user's question.\n" +
		"Allowed metric_field values: avg_delivery_time, delayed_shipments, avg_delay_minutes, total_shipments.\n" +
		"Return STRICT JSON: {\"metric_field\": string, \"metric_label\": string, \"sort_order\": \"asc\"|\"desc\", \"focus_phrase\": string, \"chart_title\": string, \"delivery_time_threshold\": number|null, \"summary_template\": string}.\n" +
		"The summary_template may use placeholders {period}, {top_label}, {metric_label}, {metric_value}, {focus_phrase}, {threshold}, {delayed_shipments}, {total_shipments}."

	cfg.Plans.Delay = "You plan delay statistics as a list of declarative metric instructions, never as code.\n" +
		"Each instruction: {\"name\": string, \"field\": \"delay_minutes\"|\"delivery_time\", \"op\": \"sum\"|\"mean\"|\"count\"|\"min\"|\"max\", \"filter\": {\"field\": string, \"cmp\": \"gt\"|\"ge\"|\"lt\"|\"le\"|\"eq\"|\"ne\", \"value\": number|string}|null}.\n" +
		"Return STRICT JSON: {\"metrics\": [...], \"summary_template\": string}.\n" +
		"The summary_template may use {period} plus any instruction name as a placeholder."

	return cfg
}
