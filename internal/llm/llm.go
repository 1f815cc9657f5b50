// Package llm generates question draws with an OpenAI-compatible model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/pavelanni/assessor/internal/model"
)

// maxCount caps a single generated draw.
const maxCount = 30

// generatedQuestion is one item of the model's JSON response.
type generatedQuestion struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Options     []model.Option `json:"options"`
	Correct     string         `json:"correct"`
	Explanation string         `json:"explanation"`
}

type generatedDraw struct {
	Questions []generatedQuestion `json:"questions"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// FetchQuestions asks the model for count fresh multiple-choice questions
// of a kind in the given locale. Questions and key come from the same
// response, so the key always matches the draw.
func (c *Client) FetchQuestions(ctx context.Context, kind, locale string, count int) ([]model.Question, *model.CorrectAnswerKey, error) {
	if count <= 0 || count > maxCount {
		return nil, nil, fmt.Errorf("question count must be between 1 and %d, got %d", maxCount, count)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildGenerateSystemPrompt(kind, locale, count)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Generate %d questions.", count)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.9,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "kind", kind, "raw", raw)

	return parseDraw(raw, kind, count)
}

func buildGenerateSystemPrompt(kind, locale string, count int) string {
	var sb strings.Builder
	sb.WriteString("You write short multiple-choice quiz questions.\n\n")
	sb.WriteString("TOPIC: " + kind + "\n")
	sb.WriteString("LANGUAGE: " + languageName(locale) + "\n")
	sb.WriteString(fmt.Sprintf("NUMBER OF QUESTIONS: %d\n\n", count))

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Each question has exactly one correct option and three plausible wrong ones.\n")
	sb.WriteString("- Option values are the single letters a, b, c and d.\n")
	sb.WriteString("- Write question text, option labels and explanations in the requested language.\n")
	sb.WriteString("- Do not repeat questions.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"id": "<short id>", "text": "<question>", "options": [{"value": "a", "label": "<text>"}, ...], "correct": "<value of the correct option>", "explanation": "<one sentence>"}]}`)
	sb.WriteString("\n")

	return sb.String()
}

// parseDraw validates the model output and splits it into questions and
// their key. Malformed questions are dropped; a draw with none left fails.
func parseDraw(raw, kind string, count int) ([]model.Question, *model.CorrectAnswerKey, error) {
	var d generatedDraw
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	key := &model.CorrectAnswerKey{Entries: make(map[string]model.KeyEntry)}
	var questions []model.Question
	seen := make(map[string]bool)
	for i, g := range d.Questions {
		if len(questions) == count {
			break
		}
		q := model.Question{
			ID:      g.ID,
			Type:    model.QuestionMultipleChoice,
			Text:    strings.TrimSpace(g.Text),
			Options: g.Options,
		}
		if q.ID == "" || seen[q.ID] {
			q.ID = fmt.Sprintf("%s-%d", kind, i+1)
		}
		if q.Text == "" || len(q.Options) < 2 || !hasOption(q.Options, g.Correct) {
			slog.Warn("dropping malformed generated question", "kind", kind, "index", i)
			continue
		}
		seen[q.ID] = true
		questions = append(questions, q)
		key.Entries[q.ID] = model.KeyEntry{
			Answer:      model.TextAnswer(g.Correct),
			OptionText:  q.OptionLabel(g.Correct),
			Explanation: g.Explanation,
		}
	}
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("LLM returned no usable questions")
	}
	return questions, key, nil
}

func hasOption(options []model.Option, value string) bool {
	for _, o := range options {
		if o.Value == value && value != "" {
			return true
		}
	}
	return false
}

func languageName(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "English"
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return "English"
}
