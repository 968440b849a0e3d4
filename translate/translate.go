package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"rankpool/config"
)

const googleEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Translator maps each input text to its translation. Texts it could not
// translate are absent from the result.
type Translator interface {
	Translate(ctx context.Context, texts []string) (map[string]string, error)
}

// GoogleTranslator calls the Cloud Translation v2 REST API with an API key.
type GoogleTranslator struct {
	apiKey   string
	source   string
	target   string
	endpoint string
	client   *http.Client
}

func NewGoogleTranslator(cfg config.TranslateConfig, client *http.Client) *GoogleTranslator {
	if client == nil {
		client = http.DefaultClient
	}
	target := cfg.Target
	if target == "" {
		target = "en"
	}
	return &GoogleTranslator{
		apiKey:   cfg.APIKey,
		source:   "ko",
		target:   target,
		endpoint: googleEndpoint,
		client:   client,
	}
}

type translateRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (g *GoogleTranslator) Translate(ctx context.Context, texts []string) (map[string]string, error) {
	out := make(map[string]string, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	payload, err := json.Marshal(translateRequest{Q: texts, Source: g.source, Target: g.target, Format: "text"})
	if err != nil {
		return nil, err
	}

	u := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("translate status %d: %s", resp.StatusCode, body)
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode translate response: %w", err)
	}

	for i, t := range tr.Data.Translations {
		if i >= len(texts) {
			break
		}
		if t.TranslatedText != "" {
			out[texts[i]] = t.TranslatedText
		}
	}
	return out, nil
}
