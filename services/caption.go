package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kbrag/models"
)

const captionPrompt = "Describe the content of this image so that a visually impaired reader can understand it."

// OllamaCaptioner produces an image description by sending the image to a
// multimodal model through Ollama's generate API.
type OllamaCaptioner struct {
	httpClient *http.Client
	baseURL    string
}

func NewOllamaCaptioner(client *http.Client, baseURL string) *OllamaCaptioner {
	return &OllamaCaptioner{httpClient: client, baseURL: baseURL}
}

// Caption asks imgModel to describe the image bytes. The streaming response
// is a sequence of JSON objects whose "response" fields concatenate into the
// full caption.
func (c *OllamaCaptioner) Caption(ctx context.Context, image []byte, imgModel string) (string, error) {
	reqBody, err := json.Marshal(models.OllamaGenerateRequest{
		Model:  imgModel,
		Prompt: captionPrompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal caption request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create caption http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: caption api: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: caption api returned status %d, body: %s", ErrProviderUnavailable, resp.StatusCode, string(bodyBytes))
	}

	var sb strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var line models.OllamaGenerateResponse
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("%w: decode caption response: %v", ErrProviderError, err)
		}
		sb.WriteString(line.Response)
		if line.Done {
			break
		}
	}
	return sb.String(), nil
}
