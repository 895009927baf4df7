package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/config"
	"github.com/acadexa/assessment-backend/internal/model"
)

const llmSystemPrompt = "You are an expert academic grader. Always respond with valid JSON only."

const llmPromptTemplate = `You are an expert grader evaluating a student's answer.

Question: %s
Expected Answer/Key Points: %s
Student's Answer: %s
Maximum Points: %d

Evaluate the student's answer against the expected answer and assign a score
from 0 to %d. Be fair but rigorous: award full points only for complete,
accurate answers.

Respond with a JSON object in exactly this format:
{"score": <number between 0 and %d>, "feedback": "<one or two sentences explaining the score>"}`

const llmRetryReminder = "\n\nIMPORTANT: Please ensure your response is valid JSON in this exact format:\n{\"score\": [number], \"feedback\": \"[text]\"}"

// LLM grades free-text answers through an OpenAI-compatible chat model in
// JSON response mode, retrying on malformed responses.
type LLM struct {
	client     openai.Client
	model      string
	maxRetries int
	log        zerolog.Logger
}

// NewLLM creates the LLM grader from configuration. The base URL override
// points the client at proxies or test servers. Every request carries its
// own timeout so a hung completion cannot stall the grading pipeline.
func NewLLM(cfg *config.Config, log zerolog.Logger) (*LLM, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the llm grader engine")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLMBaseURL))
	}
	if cfg.LLMTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.LLMTimeout))
	}
	// The grade loop owns retries; the transport must not stack its own.
	opts = append(opts, option.WithMaxRetries(0))

	return &LLM{
		client:     openai.NewClient(opts...),
		model:      cfg.LLMModel,
		maxRetries: cfg.LLMMaxRetries,
		log:        log.With().Str("component", "llm_grader").Logger(),
	}, nil
}

// llmGradePayload is the JSON shape the model must return. Pointers
// distinguish absent fields from zero values during validation.
type llmGradePayload struct {
	Score    *float64 `json:"score"`
	Feedback *string  `json:"feedback"`
}

// Grade scores the answer with the chat model. Each attempt must come back
// as valid JSON with a score inside [0, points]; malformed responses get a
// stricter reminder appended to the prompt before the next attempt.
func (l *LLM) Grade(ctx context.Context, q *model.Question, answerText string) (Result, error) {
	maxScore := float64(q.Points)
	prompt := fmt.Sprintf(llmPromptTemplate,
		q.QuestionText, q.ExpectedAnswer, answerText, q.Points, q.Points, q.Points)

	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		content, err := l.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			l.log.Warn().Err(err).
				Int("attempt", attempt).
				Int("max_retries", l.maxRetries).
				Msg("chat completion failed")
			continue
		}

		payload, err := parseGradePayload(content, maxScore)
		if err != nil {
			lastErr = err
			l.log.Warn().Err(err).
				Int("attempt", attempt).
				Str("response", truncate(content, 200)).
				Msg("model response failed validation")
			prompt += llmRetryReminder
			continue
		}

		return Result{
			Score:    round2(*payload.Score),
			MaxScore: maxScore,
			Feedback: strings.TrimSpace(*payload.Feedback),
		}, nil
	}

	return Result{}, fmt.Errorf("llm grading failed after %d attempts: %w", l.maxRetries, lastErr)
}

func (l *LLM) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llmSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0.3),
		MaxCompletionTokens: openai.Int(200),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseGradePayload validates the model output: valid JSON after stripping
// any markdown fences, both fields present, and the score within range.
func parseGradePayload(content string, maxScore float64) (*llmGradePayload, error) {
	cleaned := stripMarkdownFences(content)
	if cleaned == "" {
		return nil, fmt.Errorf("empty response")
	}

	var payload llmGradePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w", err)
	}
	if payload.Score == nil || payload.Feedback == nil {
		return nil, fmt.Errorf("response missing score or feedback")
	}
	if *payload.Score < 0 || *payload.Score > maxScore {
		return nil, fmt.Errorf("score %.2f outside [0, %.0f]", *payload.Score, maxScore)
	}
	return &payload, nil
}

// stripMarkdownFences removes a surrounding ```json ... ``` block, which
// some models emit even in JSON mode.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
