package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"screenTimeline/config"
	"screenTimeline/core"
)

// Summary is what the summarization capability returns for one segment's
// transcript.
type Summary struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Summarizer produces a summary and topic set from transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
}

// visualReferenceKeywords mark sentences that talk about what is on screen.
var visualReferenceKeywords = []string{
	"see", "look", "here", "this", "that", "click", "button", "screen",
	"page", "window", "menu", "tab", "panel", "section", "area",
	"right", "left", "top", "bottom", "above", "below", "next to",
}

var contentTypeKeywords = map[string][]string{
	"Presentation": {"slide", "presentation", "deck", "powerpoint"},
	"Code":         {"code", "function", "variable", "class", "method", "script"},
	"Browser":      {"website", "page", "url", "browser", "chrome", "firefox"},
	"Document":     {"document", "file", "text", "word", "pdf"},
	"Application":  {"app", "application", "software", "program", "tool"},
	"Demo":         {"demo", "demonstration", "example", "show", "tutorial"},
}

// LLMSummarizer requests summary and topics from a chat model, asking for
// a JSON payload and falling back to the heuristic on parse trouble.
type LLMSummarizer struct {
	cli   *openai.Client
	model string
}

func NewLLMSummarizer(cli *openai.Client, model string) *LLMSummarizer {
	return &LLMSummarizer{cli: cli, model: model}
}

func (l *LLMSummarizer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	prompt := fmt.Sprintf(`The following is the speech transcribed during one screen of a recorded
screen-capture session. Return strict JSON with two keys:
"summary" - a 1-2 sentence summary of what is being discussed
"topics" - up to 5 short topic strings

Transcript:
%s`, transcript)

	req := openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   400,
		Temperature: 0.3,
	}
	resp, err := l.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return Summary{}, &core.SummarizationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return Summary{}, &core.SummarizationError{Err: fmt.Errorf("empty completion")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")

	var out Summary
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		// Model ignored the JSON instruction; keep its text as the summary.
		heur := HeuristicSummarizer{}
		fallback, _ := heur.Summarize(ctx, transcript)
		out = Summary{Summary: content, Topics: fallback.Topics}
	}
	out.Topics = dedupeTopics(out.Topics)
	return out, nil
}

// HeuristicSummarizer is the no-API fallback: extractive summary plus
// keyword topics.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, transcript string) (Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Summary{}, nil
	}
	return Summary{
		Summary: extractiveSummary(transcript),
		Topics:  extractTopics(transcript),
	}, nil
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// extractiveSummary keeps the opening sentence plus sentences that reference
// what is shown on screen, capped at three.
func extractiveSummary(text string) string {
	raw := sentenceSplit.Split(text, -1)
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return ""
	}
	picked := []string{sentences[0]}
	for _, s := range sentences[1:] {
		if len(picked) >= 3 {
			break
		}
		lower := strings.ToLower(s)
		for _, kw := range visualReferenceKeywords {
			if strings.Contains(lower, kw) {
				picked = append(picked, s)
				break
			}
		}
	}
	summary := strings.Join(picked, ". ")
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return summary
}

// extractTopics combines content-type keyword hits with the most frequent
// informative words mentioned more than once.
func extractTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, name := range [...]string{"Presentation", "Code", "Browser", "Document", "Application", "Demo"} {
		for _, kw := range contentTypeKeywords[name] {
			if strings.Contains(lower, kw) {
				topics = append(topics, name)
				break
			}
		}
	}

	freq := map[string]int{}
	var order []string
	for _, w := range core.Tokenize(text) {
		if len(w) <= 4 {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	for _, w := range order {
		if freq[w] < 2 || len(topics) >= 5 {
			break
		}
		topics = append(topics, titleWord(w))
	}
	if len(topics) > 5 {
		topics = topics[:5]
	}
	return dedupeTopics(topics)
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

// dedupeTopics removes duplicates preserving first appearance.
func dedupeTopics(topics []string) []string {
	seen := map[string]struct{}{}
	out := topics[:0]
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DescribeScreen classifies what kind of screen content the discussion
// refers to.
func DescribeScreen(transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return "Visual content"
	}
	lower := strings.ToLower(transcript)
	switch {
	case containsAny(lower, "powerpoint", "slide", "presentation"):
		return "Presentation"
	case containsAny(lower, "code", "editor", "vscode", "programming"):
		return "Code editor"
	case containsAny(lower, "browser", "website", "chrome", "firefox", "url"):
		return "Web browser"
	case containsAny(lower, "terminal", "command", "console"):
		return "Terminal"
	case containsAny(lower, "dashboard", "analytics", "chart", "graph"):
		return "Dashboard"
	case containsAny(lower, "document", "word", "text", "file"):
		return "Document viewer"
	case containsAny(lower, "email", "outlook", "message"):
		return "Email client"
	default:
		return "Application screen"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// PickSummarizer selects the provider analogously to PickTranscriber.
func PickSummarizer(cfg *config.Config) Summarizer {
	if cfg.HasValidAPI() {
		return NewLLMSummarizer(OpenAIClient(), cfg.ChatModel)
	}
	return HeuristicSummarizer{}
}
