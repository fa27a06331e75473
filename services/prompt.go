package services

import (
	"fmt"
	"strings"

	"kbrag/models"

	"github.com/tmc/langchaingo/prompts"
)

const answerTemplate = `You are an AI assistant. Answer the user's question using the retrieved material below.
If the material cannot answer the question, say "The retrieved material contains no relevant information, I don't know."

{{.context}}

Question: {{.question}}

If sources conflict, name the conflicting sources in your answer:`

var answerPrompt = prompts.NewPromptTemplate(answerTemplate, []string{"context", "question"})

// BuildAnswerPrompt formats the evidence set into a numbered-paragraph
// context and renders the answer prompt around it.
func BuildAnswerPrompt(query string, evidence []models.EvidenceItem) (string, error) {
	paragraphs := make([]string, 0, len(evidence))
	for i, item := range evidence {
		paragraphs = append(paragraphs, fmt.Sprintf(
			"Paragraph %d, source: %s || content: %s",
			i+1, item.Chunk.Metadata.Source, strings.TrimSpace(item.Chunk.PageContent)))
	}

	prompt, err := answerPrompt.Format(map[string]any{
		"context":  strings.Join(paragraphs, "\n\n"),
		"question": query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format answer prompt: %w", err)
	}
	return prompt, nil
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractAnswerAndReasoning separates a model's visible answer from the
// reasoning segment delimited by the first <think>...</think> pair. A
// missing or unmatched delimiter yields the whole trimmed text as the answer
// with empty reasoning; only the first delimited span counts.
func ExtractAnswerAndReasoning(text string) (answer, reasoning string) {
	start := strings.Index(text, thinkOpen)
	if start < 0 {
		return strings.TrimSpace(text), ""
	}
	rest := text[start+len(thinkOpen):]
	end := strings.Index(rest, thinkClose)
	if end < 0 {
		return strings.TrimSpace(text), ""
	}
	reasoning = strings.TrimSpace(rest[:end])
	answer = strings.TrimSpace(text[:start] + rest[end+len(thinkClose):])
	return answer, reasoning
}
