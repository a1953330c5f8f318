package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"easyretouch/artifact"
)

// DefaultDeepAIURL is the super-resolution endpoint.
const DefaultDeepAIURL = "https://api.deepai.org/api/torch-srgan"

// DeepAIConfig configures DeepAIProvider.
type DeepAIConfig struct {
	APIKey string
	URL    string
	// ByURL sends a fetchable artifact URL in the image field instead of
	// uploading the bytes.
	ByURL      bool
	HTTPClient *http.Client
}

// DeepAIProvider calls the DeepAI torch-srgan API.
//
// Request: multipart form with an "image" field (file part, or URL string
// when ByURL is set) and the key in the "api-key" header.
// Response: JSON with "output_url" on success.
type DeepAIProvider struct {
	apiKey string
	url    string
	byURL  bool
	client *http.Client
}

var _ Provider = (*DeepAIProvider)(nil)

// NewDeepAIProvider validates cfg and creates the provider.
func NewDeepAIProvider(cfg DeepAIConfig) (*DeepAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepai: API key is required")
	}
	url := cfg.URL
	if url == "" {
		url = DefaultDeepAIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &DeepAIProvider{apiKey: cfg.APIKey, url: url, byURL: cfg.ByURL, client: client}, nil
}

// Name implements Provider.
func (d *DeepAIProvider) Name() string { return ProviderDeepAI }

// Requirement implements Provider.
func (d *DeepAIProvider) Requirement() artifact.Requirement {
	if d.byURL {
		return artifact.FetchURL
	}
	return artifact.None
}

type deepAIResponse struct {
	ID        string `json:"id"`
	OutputURL string `json:"output_url"`
	Status    string `json:"status"`
	Err       string `json:"err"`
}

// Submit implements Provider.
func (d *DeepAIProvider) Submit(ctx context.Context, in Input) (Result, error) {
	body, contentType, err := d.form(in)
	if err != nil {
		return Result{}, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("deepai: build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-key", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("deepai: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("deepai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(ProviderDeepAI, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed deepAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("deepai: malformed response: %w", err)
	}
	if parsed.OutputURL == "" {
		reason := parsed.Err
		if reason == "" {
			reason = parsed.Status
		}
		return Result{}, fmt.Errorf("deepai: response has no output_url (%s)", reason)
	}
	return Result{URL: parsed.OutputURL}, nil
}

func (d *DeepAIProvider) form(in Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if d.byURL {
		if in.Artifact == nil || in.Artifact.URL == "" {
			return nil, "", errors.New("deepai: URL mode needs a staged artifact URL")
		}
		if err := w.WriteField("image", in.Artifact.URL); err != nil {
			return nil, "", err
		}
	} else {
		if len(in.PNG) == 0 {
			return nil, "", errors.New("deepai: empty image")
		}
		part, err := w.CreateFormFile("image", "image.png")
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(in.PNG); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
