package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// OpenAI asks a chat-completion endpoint for a compact JSON enrichment of a
// news item. Any schema drift in the reply degrades to an empty enrichment
// rather than an error the pipeline would have to care about.
type OpenAI struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAI(cfg Config) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		token:      cfg.Token,
		model:      model,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
}

const enrichPrompt = `Summarize this news item in one sentence, classify its sentiment as positive/neutral/negative, and rate its market impact 0.0-1.0. Reply with JSON only: {"summary":"...","sentiment":"...","impact_score":0.0}`

func (c *OpenAI) Enrich(ctx context.Context, title, body string) (Enrichment, error) {
	prompt := enrichPrompt + "\n\nTitle: " + title
	if body != "" {
		prompt += "\nBody: " + body
	}

	reqBody := map[string]any{
		"model":    c.model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	var respBody struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.do(ctx, "/chat/completions", reqBody, &respBody); err != nil {
		return Enrichment{}, err
	}
	if len(respBody.Choices) == 0 {
		return Enrichment{}, errors.New("openai: empty response")
	}

	content := strings.TrimSpace(respBody.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")

	var out Enrichment
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		// Model ignored the format; treat the whole reply as the summary.
		return Enrichment{Summary: content}, nil
	}
	return out, nil
}

func (c *OpenAI) do(ctx context.Context, endpoint string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("openai: unexpected status " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
