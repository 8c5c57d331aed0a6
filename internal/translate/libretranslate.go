package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LibreTranslate is a client for the LibreTranslate HTTP API (POST /translate).
// It performs a single attempt per call.
type LibreTranslate struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// LibreTranslateConfig configures the client.
type LibreTranslateConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewLibreTranslate creates a client. BaseURL is required.
func NewLibreTranslate(cfg LibreTranslateConfig) (*LibreTranslate, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("translation base_url is required")
	}
	t := cfg.Timeout
	if t == 0 {
		t = 10 * time.Second
	}
	return &LibreTranslate{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: t},
	}, nil
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate sends one translation request. 400 responses map to ErrUnsupportedLanguage;
// transport errors, 429 and 5xx map to ErrUnavailable. Context errors are returned as-is.
func (c *LibreTranslate) Translate(ctx context.Context, text, source, target string) (string, error) {
	if source == "" {
		source = "auto"
	}
	body, err := json.Marshal(translateRequest{Q: text, Source: source, Target: target, Format: "text", APIKey: c.apiKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	var out translateResponse
	_ = json.Unmarshal(payload, &out)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s -> %s: %s", ErrUnsupportedLanguage, source, target, out.Error)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("translate failed: %s", resp.Status)
	}
	if out.TranslatedText == "" && text != "" {
		return "", fmt.Errorf("%w: empty translation", ErrUnavailable)
	}
	return out.TranslatedText, nil
}
