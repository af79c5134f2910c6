package links

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.perplexity.ai/chat/completions"

const summaryPrompt = "Summarize the key content of this page in 2-3 sentences. " +
	"Be factual and concise. If the page cannot be accessed, say so briefly."

// PerplexitySummarizer fetches a short natural-language summary of a URL
// using the Perplexity Sonar API.
type PerplexitySummarizer struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewPerplexitySummarizer creates a summarizer. timeout bounds each API call.
func NewPerplexitySummarizer(apiKey string, timeout time.Duration) *PerplexitySummarizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PerplexitySummarizer{
		apiKey: apiKey,
		apiURL: defaultAPIURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Available reports whether the summarizer has credentials to operate.
func (p *PerplexitySummarizer) Available() bool { return p.apiKey != "" }

// perplexityRequest is the request body for the Perplexity chat/completions API.
type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// perplexityResponse matches the relevant fields of the Perplexity API response.
type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize asks the API for a summary of the given URL's content.
func (p *PerplexitySummarizer) Summarize(ctx context.Context, url string) (string, error) {
	reqBody := perplexityRequest{
		Model: "sonar",
		Messages: []perplexityMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: url},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("perplexity API returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return parseSummaryResponse(body)
}

// parseSummaryResponse extracts the summary text from an API response.
func parseSummaryResponse(data []byte) (string, error) {
	var resp perplexityResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse perplexity response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("perplexity response carried no content")
	}
	return resp.Choices[0].Message.Content, nil
}
