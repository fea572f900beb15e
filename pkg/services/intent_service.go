package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	config "hermes-chat-api/configs"
	"hermes-chat-api/pkg/groq"
	"hermes-chat-api/pkg/models"
)

// IntentResolver maps a raw query to one intent of the closed set.
// Implementations must never fail hard: on any backend problem they
// degrade to the clarify intent instead of propagating an error.
type IntentResolver interface {
	ResolveIntent(ctx context.Context, query string, history []models.HistoryEntry) (models.Intent, error)
}

// ReplyGenerator produces the free-text clarification reply for queries
// classified as clarify. Optional capability of a resolver.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, query string, history []models.HistoryEntry) (string, error)
}

// --- ルールベース実装 ---

// RuleBasedResolver は決定的なキーワード規則で意図を分類します。
// LLMなしでも全機能が動くようにするための実装で、テストもこちらを使います。
type RuleBasedResolver struct{}

// NewRuleBasedResolver returns the deterministic resolver.
func NewRuleBasedResolver() *RuleBasedResolver {
	return &RuleBasedResolver{}
}

var (
	textOnlyPhrases = []string{"no chart", "just text", "text only", "no visualization", "no visualisation", "without a chart", "without charts"}
	vizWords        = []string{"show", "chart", "charts", "graph", "graphs", "plot", "visualize", "visualise", "bar", "line", "pie"}
	greetingWords   = []string{"hi", "hello", "hey", "greetings", "morning", "afternoon", "evening"}
	gratitudeWords  = []string{"thanks", "thank", "thx", "appreciated", "appreciate"}
	predictionWords = []string{"forecast", "predict", "prediction", "projection", "project", "future", "tomorrow", "expect"}
	overviewWords   = []string{"overview", "summary", "analytics", "statistics", "stats", "dataset", "data"}
)

// ResolveIntent applies the resolution policy: the most specific matching
// intent wins, generic overview requests fall back to analytics, and
// queries too short to bind anything become clarify. Never returns an error.
func (r *RuleBasedResolver) ResolveIntent(_ context.Context, query string, _ []models.HistoryEntry) (models.Intent, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	words := tokenize(q)
	if len(words) == 0 {
		return models.IntentClarify, nil
	}

	// 明示的な「チャート不要」は他のすべてに優先
	if containsAnyPhrase(q, textOnlyPhrases) {
		return models.IntentTextOnly, nil
	}

	wantsViz := containsAnyWord(words, vizWords)

	// 可視化を求めない説明・因果系の質問はconversation
	if !wantsViz && !strings.Contains(q, "reason") {
		if containsAnyWord(words, []string{"explain", "interpret", "insight", "why", "how"}) || strings.Contains(q, "tell me about") {
			return models.IntentConversation, nil
		}
	}

	if containsAnyWord(words, predictionWords) || strings.Contains(q, "next week") || strings.Contains(q, "next month") {
		return models.IntentPrediction, nil
	}
	if containsAnyWord(words, []string{"warehouse", "warehouses", "hub", "hubs", "depot", "depots"}) {
		return models.IntentWarehouse, nil
	}
	if containsAnyWord(words, []string{"route", "routes", "lane", "lanes", "corridor"}) {
		return models.IntentRoute, nil
	}
	if containsAnyWord(words, []string{"reason", "reasons", "cause", "causes"}) {
		return models.IntentDelayReason, nil
	}
	if containsAnyWord(words, []string{"delay", "delays", "delayed", "late"}) {
		return models.IntentDelay, nil
	}

	if containsAnyWord(words, greetingWords) && len(words) <= 4 {
		return models.IntentGreeting, nil
	}
	if containsAnyWord(words, gratitudeWords) {
		return models.IntentGratitude, nil
	}
	if containsAnyWord(words, overviewWords) {
		return models.IntentAnalytics, nil
	}

	// 短すぎて意図を特定できない場合は聞き返す
	if len(words) < 3 {
		return models.IntentClarify, nil
	}
	return models.IntentAnalytics, nil
}

// AnalyticBase maps a query to the analytic intent underlying a
// conversation/text_only request, defaulting to analytics.
func (r *RuleBasedResolver) AnalyticBase(query string) models.Intent {
	q := strings.ToLower(strings.TrimSpace(query))
	words := tokenize(q)

	switch {
	case containsAnyWord(words, predictionWords) || strings.Contains(q, "next week") || strings.Contains(q, "next month"):
		return models.IntentPrediction
	case containsAnyWord(words, []string{"warehouse", "warehouses", "hub", "hubs", "depot", "depots"}):
		return models.IntentWarehouse
	case containsAnyWord(words, []string{"route", "routes", "lane", "lanes", "corridor"}):
		return models.IntentRoute
	case containsAnyWord(words, []string{"reason", "reasons", "cause", "causes", "why"}):
		return models.IntentDelayReason
	case containsAnyWord(words, []string{"delay", "delays", "delayed", "late"}):
		return models.IntentDelay
	}
	return models.IntentAnalytics
}

// GenerateReply returns a canned clarification. The rule-based resolver
// has no language model to phrase one.
func (r *RuleBasedResolver) GenerateReply(_ context.Context, _ string, _ []models.HistoryEntry) (string, error) {
	return clarifyReply, nil
}

func tokenize(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func containsAnyWord(words []string, candidates []string) bool {
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

func containsAnyPhrase(q string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// --- LLM実装 ---

// LLMResolver はGroqのチャット補完で意図を分類します。
// バックエンド不通・出力不正の場合はルールベースに切り替え、エラーは外に出しません。
type LLMResolver struct {
	client   *groq.Client
	prompts  *config.PromptConfig
	fallback *RuleBasedResolver
}

// NewLLMResolver creates the Groq-backed resolver.
func NewLLMResolver(client *groq.Client, prompts *config.PromptConfig) *LLMResolver {
	return &LLMResolver{client: client, prompts: prompts, fallback: NewRuleBasedResolver()}
}

// ResolveIntent classifies via the LLM. Any failure falls back to the
// rule-based resolver; the returned error is diagnostic only.
func (r *LLMResolver) ResolveIntent(ctx context.Context, query string, history []models.HistoryEntry) (models.Intent, error) {
	if !r.client.Configured() {
		intent, _ := r.fallback.ResolveIntent(ctx, query, history)
		return intent, fmt.Errorf("GROQ_API_KEY が設定されていません")
	}

	prompt := r.prompts.Intent.Instructions + "\n\n" +
		"Recent conversation (most recent last):\n" + formatHistory(history, 3) + "\n\n" +
		"Current user query: " + query + "\n" +
		"Return ONLY JSON: {\n  \"intent\": \"one_intent\"\n}"

	model := groq.SelectModel(r.prompts.ModelFor("intent"), query)
	content, err := r.client.Complete(ctx, model, r.prompts.Intent.System, prompt, 64, 0.0)
	if err != nil {
		intent, _ := r.fallback.ResolveIntent(ctx, query, history)
		return intent, err
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		intent, _ := r.fallback.ResolveIntent(ctx, query, history)
		return intent, fmt.Errorf("意図分類のJSON解析に失敗: %w", err)
	}
	intent, ok := models.ParseIntent(strings.TrimSpace(parsed.Intent))
	if !ok {
		fallbackIntent, _ := r.fallback.ResolveIntent(ctx, query, history)
		return fallbackIntent, fmt.Errorf("未知の意図が返されました: %q", parsed.Intent)
	}
	return intent, nil
}

// GenerateReply asks the larger model for a clarification reply.
func (r *LLMResolver) GenerateReply(ctx context.Context, query string, history []models.HistoryEntry) (string, error) {
	if !r.client.Configured() {
		return "", fmt.Errorf("GROQ_API_KEY が設定されていません")
	}

	var convo strings.Builder
	for _, h := range lastEntries(history, 3) {
		if h.Summary == "" {
			continue
		}
		fmt.Fprintf(&convo, "User: %s\nAssistant: %s\n", h.Query, h.Summary)
	}
	text := convo.String()
	if text == "" {
		text = "(none)"
	}

	prompt := r.prompts.Clarify.Instructions + "\n\n" +
		"Recent conversation:\n" + text + "\n\n" +
		"User message: " + query + "\n\nReply:"

	model := groq.SelectModel(r.prompts.ModelFor("clarify"), query)
	return r.client.Complete(ctx, model, r.prompts.Clarify.System, prompt, 160, 0.4)
}

func formatHistory(history []models.HistoryEntry, n int) string {
	var b strings.Builder
	for _, h := range lastEntries(history, n) {
		if h.Query == "" {
			continue
		}
		fmt.Fprintf(&b, "- User: %s | Intent: %s | Summary: %s\n", h.Query, h.Intent, h.Summary)
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return b.String()
}

func lastEntries(history []models.HistoryEntry, n int) []models.HistoryEntry {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// --- メタデータ抽出 ---

// MetadataService resolves timeframe, entity filters and forecast horizon
// from a query, preferring the LLM extractor and falling back to
// deterministic rules when the backend is unavailable or unparseable.
type MetadataService struct {
	client  *groq.Client
	dataset *DatasetService
	prompts *config.PromptConfig
}

// NewMetadataService creates the metadata extraction service.
func NewMetadataService(client *groq.Client, dataset *DatasetService, prompts *config.PromptConfig) *MetadataService {
	return &MetadataService{client: client, dataset: dataset, prompts: prompts}
}

// 相対期間の単位を日数に変換するマップ
var unitToDays = map[string]int{
	"day": 1, "days": 1,
	"week": 7, "weeks": 7,
	"month": 30, "months": 30,
	"quarter": 90, "quarters": 90,
	"year": 365, "years": 365,
}

// Extract returns the structured interpretation of a query. It never
// fails: on any LLM problem the rule-based extraction is used instead.
func (m *MetadataService) Extract(ctx context.Context, query string, history []models.HistoryEntry) models.QueryMetadata {
	if m.client != nil && m.client.Configured() {
		if meta, err := m.extractLLM(ctx, query, history); err == nil {
			return meta
		} else {
			log.Printf("メタデータ抽出に失敗したためルールベースに切り替えます: %v", err)
		}
	}
	return m.ExtractWithRules(query)
}

// metadataWire is the strict JSON shape requested from the LLM.
type metadataWire struct {
	Language  string `json:"language"`
	Timeframe *struct {
		Type  string                 `json:"type"`
		Value map[string]interface{} `json:"value"`
	} `json:"timeframe"`
	Filters  map[string]interface{} `json:"filters"`
	Forecast *struct {
		HorizonDays *float64 `json:"horizon_days"`
	} `json:"forecast"`
}

func (m *MetadataService) extractLLM(ctx context.Context, query string, history []models.HistoryEntry) (models.QueryMetadata, error) {
	var hintLines strings.Builder
	for _, column := range []string{"route", "warehouse", "delay_reason"} {
		values := m.dataset.UniqueValues(column)
		if len(values) > 10 {
			values = values[:10]
		}
		if len(values) > 0 {
			fmt.Fprintf(&hintLines, "- %s: %s\n", column, strings.Join(values, ", "))
		}
	}
	hints := hintLines.String()
	if hints == "" {
		hints = "(no hints provided)"
	}

	var recent strings.Builder
	for _, h := range lastEntries(history, 2) {
		if h.Query != "" {
			fmt.Fprintf(&recent, "User: %s\n", h.Query)
		}
	}
	recentText := recent.String()
	if recentText == "" {
		recentText = "(none)"
	}

	prompt := m.prompts.Metadata.Instructions + "\n\n" +
		"Known entity values to match (case-insensitive):\n" + hints + "\n\n" +
		"Recent user turns:\n" + recentText + "\n\n" +
		"Current query: " + query + "\n\n" +
		"Return STRICT JSON: {\n" +
		"  \"language\": \"detected language name or code\",\n" +
		"  \"timeframe\": {\n" +
		"    \"type\": \"relative\" | \"absolute\" | \"none\",\n" +
		"    \"value\": {\"amount\": integer, \"unit\": \"day|week|month|quarter|year\" } OR {\"start\": \"YYYY-MM-DD\", \"end\": \"YYYY-MM-DD\"}\n" +
		"  },\n" +
		"  \"filters\": {\"route\": [..], \"warehouse\": [..], \"delay_reason\": [..]},\n" +
		"  \"forecast\": {\"horizon_days\": integer | null}\n" +
		"}\n" +
		"Use null when data is unavailable."

	model := groq.SelectModel(m.prompts.ModelFor("metadata"), query)
	content, err := m.client.Complete(ctx, model, m.prompts.Metadata.System, prompt, 220, 0.1)
	if err != nil {
		return models.QueryMetadata{}, err
	}

	var wire metadataWire
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return models.QueryMetadata{}, fmt.Errorf("メタデータのJSON解析に失敗: %w", err)
	}

	meta := models.QueryMetadata{Filters: map[string]string{}}
	meta.Timeframe = m.resolveWireTimeframe(wire.Timeframe)

	for _, column := range []string{"route", "warehouse", "delay_reason"} {
		suggested, ok := wire.Filters[column]
		if !ok || suggested == nil {
			continue
		}
		if value, ok := m.matchCandidates(column, suggested); ok {
			meta.Filters[column] = value
		}
	}

	if wire.Forecast != nil && wire.Forecast.HorizonDays != nil && *wire.Forecast.HorizonDays > 0 {
		meta.HorizonDays = int(*wire.Forecast.HorizonDays)
	}
	return meta, nil
}

func (m *MetadataService) resolveWireTimeframe(tf *struct {
	Type  string                 `json:"type"`
	Value map[string]interface{} `json:"value"`
}) *models.Timeframe {
	if tf == nil {
		return nil
	}
	switch tf.Type {
	case "relative":
		amount, okA := tf.Value["amount"].(float64)
		unit, okU := tf.Value["unit"].(string)
		if !okA || !okU || int(amount) <= 0 {
			return nil
		}
		days, ok := unitToDays[strings.ToLower(strings.TrimSpace(unit))]
		if !ok {
			days = 1
		}
		_, end, ok2 := m.dataset.DateRange()
		if !ok2 {
			return nil
		}
		return &models.Timeframe{Start: end.AddDate(0, 0, -int(amount)*days), End: end}
	case "absolute":
		start, err1 := time.Parse("2006-01-02", str(tf.Value["start"]))
		end, err2 := time.Parse("2006-01-02", str(tf.Value["end"]))
		if err1 != nil || err2 != nil {
			return nil
		}
		return &models.Timeframe{Start: start, End: end}
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func (m *MetadataService) matchCandidates(column string, suggested interface{}) (string, bool) {
	switch v := suggested.(type) {
	case string:
		return m.dataset.MatchValue(column, v)
	case []interface{}:
		for _, candidate := range v {
			if s, ok := candidate.(string); ok {
				if value, ok := m.dataset.MatchValue(column, s); ok {
					return value, true
				}
			}
		}
	}
	return "", false
}

var (
	relativeTimeframeRe = regexp.MustCompile(`(?:last|past|previous)\s+(\d+)?\s*(day|week|month|quarter|year)s?`)
	isoMonthRe          = regexp.MustCompile(`\b(\d{4})-(\d{2})\b`)
	monthNameRe         = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
	bareYearRe          = regexp.MustCompile(`\b(?:in|for|during)\s+(\d{4})\b`)
	horizonRe           = regexp.MustCompile(`next\s+(\d+)\s+(day|week|month)s?`)
	horizonDayRe        = regexp.MustCompile(`(\d+)[-\s]day\s+forecast`)
)

var monthNumbers = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// ExtractWithRules is the deterministic extractor: relative windows
// anchored at the dataset's latest date, absolute month/year tokens, and
// entity mentions matched against known dataset values. Unmatched
// mentions are dropped silently.
func (m *MetadataService) ExtractWithRules(query string) models.QueryMetadata {
	q := strings.ToLower(query)
	meta := models.QueryMetadata{Filters: map[string]string{}}

	meta.Timeframe = m.ruleTimeframe(q)

	words := tokenize(q)
	for _, column := range []string{"route", "warehouse", "delay_reason"} {
		for _, value := range m.dataset.UniqueValues(column) {
			if value == models.NoDelayReason && column == "delay_reason" {
				continue
			}
			if mentionsValue(q, words, value) {
				meta.Filters[column] = value
				break
			}
		}
	}

	meta.HorizonDays = ruleHorizon(q)
	return meta
}

func (m *MetadataService) ruleTimeframe(q string) *models.Timeframe {
	if match := relativeTimeframeRe.FindStringSubmatch(q); match != nil {
		amount := 1
		if match[1] != "" {
			amount, _ = strconv.Atoi(match[1])
		}
		if amount <= 0 {
			return nil
		}
		days := unitToDays[match[2]]
		_, end, ok := m.dataset.DateRange()
		if !ok {
			return nil
		}
		return &models.Timeframe{Start: end.AddDate(0, 0, -amount*days), End: end}
	}

	if match := monthNameRe.FindStringSubmatch(q); match != nil {
		year, _ := strconv.Atoi(match[2])
		start := time.Date(year, monthNumbers[match[1]], 1, 0, 0, 0, 0, time.UTC)
		return &models.Timeframe{Start: start, End: start.AddDate(0, 1, -1)}
	}

	if match := isoMonthRe.FindStringSubmatch(q); match != nil {
		year, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		if month >= 1 && month <= 12 {
			start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
			return &models.Timeframe{Start: start, End: start.AddDate(0, 1, -1)}
		}
	}

	if match := bareYearRe.FindStringSubmatch(q); match != nil {
		year, _ := strconv.Atoi(match[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &models.Timeframe{Start: start, End: start.AddDate(1, 0, -1)}
	}
	return nil
}

// mentionsValue reports whether a query refers to a dataset value.
// 短い値(1-2文字)は部分一致だと誤検出するため単語一致のみ許す。
func mentionsValue(q string, words []string, value string) bool {
	lower := strings.ToLower(value)
	if len(lower) < 3 {
		return containsAnyWord(words, []string{lower})
	}
	return strings.Contains(q, lower)
}

func ruleHorizon(q string) int {
	if match := horizonRe.FindStringSubmatch(q); match != nil {
		amount, _ := strconv.Atoi(match[1])
		if amount > 0 {
			return amount * unitToDays[match[2]]
		}
	}
	if match := horizonDayRe.FindStringSubmatch(q); match != nil {
		amount, _ := strconv.Atoi(match[1])
		if amount > 0 {
			return amount
		}
	}
	if strings.Contains(q, "next week") {
		return 7
	}
	if strings.Contains(q, "next month") {
		return 30
	}
	return 0
}
