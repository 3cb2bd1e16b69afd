package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultTimeout = 60 * time.Second
	imageTimeout   = 120 * time.Second

	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// ErrMaxRetriesExceeded is returned when the API keeps rate-limiting past the
// retry budget.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Client wraps the OpenAI API for chat completions and image generation. All
// higher-level collaborators (meal planning, translation) go through it.
type Client struct {
	client  openai.Client
	timeout time.Duration
}

// New creates a Client with the given API key.
func New(apiKey string) *Client {
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		timeout: defaultTimeout,
	}
}

// SetTimeout overrides the per-call timeout (used by tests).
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Complete sends a chat completion request and returns the assistant text.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	return c.complete(ctx, model, system, user, false)
}

// CompleteJSON is Complete with JSON output mode: the model is constrained to
// emit a single JSON object, and the response is rejected if it does not
// parse.
func (c *Client) CompleteJSON(ctx context.Context, model, system, user string) (string, error) {
	out, err := c.complete(ctx, model, system, user, true)
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(out)) {
		return "", fmt.Errorf("model returned invalid JSON")
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, model, system, user string, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimit(err) {
				continue
			}
			return "", fmt.Errorf("chat completion: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// GenerateImage produces one image for the prompt and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModel(model),
		Prompt: prompt,
		N:      openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("no image returned")
	}
	return resp.Data[0].URL, nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
