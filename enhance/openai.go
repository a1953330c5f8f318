package enhance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"easyretouch/artifact"
)

// DefaultOpenAIPrompt asks the image edit endpoint for a faithful retouch.
const DefaultOpenAIPrompt = "Professionally retouch this photo: improve sharpness, lighting and skin texture while keeping the person, composition and colors unchanged."

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint (Azure, proxies, tests).
	BaseURL string
	Model   string
	Prompt  string
	Size    string
	// HTTPClient is optional.
	HTTPClient *http.Client
}

// OpenAIProvider enhances through the image edit endpoint.
//
// The edit API takes the image as a file upload, so the provider requires a
// locally staged artifact.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	prompt string
	size   string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider validates cfg and creates the client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE2
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultOpenAIPrompt
	}
	size := cfg.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		prompt: prompt,
		size:   size,
	}, nil
}

// Name implements Provider.
func (o *OpenAIProvider) Name() string { return ProviderOpenAI }

// Requirement implements Provider.
func (o *OpenAIProvider) Requirement() artifact.Requirement { return artifact.LocalFile }

// Submit implements Provider.
func (o *OpenAIProvider) Submit(ctx context.Context, in Input) (Result, error) {
	if in.Artifact == nil || in.Artifact.Path == "" {
		return Result{}, Permanent(errors.New("openai: staged artifact file required"))
	}

	f, err := os.Open(in.Artifact.Path)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("openai: open artifact: %w", err))
	}
	defer f.Close()

	resp, err := o.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          f,
		Prompt:         o.prompt,
		Model:          o.model,
		N:              1,
		Size:           o.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return Result{}, errors.New("openai: response has no images")
	}

	item := resp.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return Result{}, fmt.Errorf("openai: decode b64_json: %w", err)
		}
		return Result{Data: data}, nil
	}
	return Result{URL: item.URL}, nil
}

// classifyOpenAIError marks client-side API errors as permanent.
func classifyOpenAIError(err error) error {
	wrapped := fmt.Errorf("openai: %w", err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusClass(apiErr.HTTPStatusCode, wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusClass(reqErr.HTTPStatusCode, wrapped)
	}
	return wrapped
}

func statusClass(code int, err error) error {
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
