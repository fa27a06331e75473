package services

import (
	"context"
	"fmt"
	"log"

	"kbrag/models"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms"
	langollama "github.com/tmc/langchaingo/llms/ollama"
	"google.golang.org/genai"
)

// LLMProvider generates an answer from a fully rendered prompt. The model
// name and sampling parameters travel in the per-request settings.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, settings models.RetrievalSettings) (string, error)
}

// AnswerService is the final pipeline stage: it renders the evidence set
// into the answer prompt, calls the configured LLM backend, and splits the
// reasoning segment from the visible answer.
type AnswerService struct {
	llm LLMProvider
}

func NewAnswerService(llm LLMProvider) *AnswerService {
	return &AnswerService{llm: llm}
}

func (s *AnswerService) Answer(ctx context.Context, query string, evidence []models.EvidenceItem, settings models.RetrievalSettings) (answer, reasoning string, err error) {
	prompt, err := BuildAnswerPrompt(query, evidence)
	if err != nil {
		return "", "", err
	}
	raw, err := s.llm.Generate(ctx, prompt, settings)
	if err != nil {
		return "", "", fmt.Errorf("could not generate answer: %w", err)
	}
	answer, reasoning = ExtractAnswerAndReasoning(raw)
	return answer, reasoning, nil
}

// OllamaGenerator drives a local Ollama model through langchaingo.
type OllamaGenerator struct {
	baseURL string
}

func NewOllamaGenerator(baseURL string) *OllamaGenerator {
	return &OllamaGenerator{baseURL: baseURL}
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, settings models.RetrievalSettings) (string, error) {
	llm, err := langollama.New(
		langollama.WithServerURL(g.baseURL),
		langollama.WithModel(settings.LLMModel),
	)
	if err != nil {
		return "", fmt.Errorf("%w: ollama llm init: %v", ErrProviderUnavailable, err)
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt,
		llms.WithTemperature(settings.Temperature),
		llms.WithTopP(settings.TopP),
	)
	if err != nil {
		return "", fmt.Errorf("%w: ollama generate: %v", ErrProviderUnavailable, err)
	}
	return out, nil
}

// GeminiGenerator answers through the Google Gemini API.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, settings models.RetrievalSettings) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, settings.LLMModel, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(settings.Temperature)),
		TopP:        genai.Ptr(float32(settings.TopP)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: gemini api call failed: %v", ErrProviderUnavailable, err)
	}
	text := result.Text()
	if text == "" {
		log.Printf("SERVICE: gemini returned no candidates for prompt of %d chars", len(prompt))
		return "", fmt.Errorf("%w: gemini returned an empty response", ErrProviderError)
	}
	return text, nil
}

// OpenAIGenerator answers through the OpenAI chat completions API.
type OpenAIGenerator struct {
	client openai.Client
}

func NewOpenAIGenerator(apiKey string) *OpenAIGenerator {
	return &OpenAIGenerator{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, settings models.RetrievalSettings) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       settings.LLMModel,
		Temperature: openai.Float(settings.Temperature),
		TopP:        openai.Float(settings.TopP),
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai chat completion: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrProviderError)
	}
	return resp.Choices[0].Message.Content, nil
}
