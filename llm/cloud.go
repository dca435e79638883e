package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default cloud backend configuration values
const (
	DefaultCloudModel     = "mixtral-8x7b-32768"
	DefaultCloudBaseURL   = "https://api.groq.com/openai"
	DefaultCloudMaxTokens = 16384

	// CloudFallback is the reply for any failed cloud request.
	CloudFallback = "My brain just kinda stopped working. Try again."
)

// Cloud is a backend for a hosted OpenAI-compatible provider, Groq by
// default. Replies are streamed and concatenated.
type Cloud struct {
	opts options
}

// NewCloud creates a cloud backend. The API key defaults to GROQCLOUD_API_KEY.
func NewCloud(opts ...Option) *Cloud {
	return &Cloud{
		opts: buildOptions(options{
			model:   DefaultCloudModel,
			baseURL: DefaultCloudBaseURL,
			apiKey:  os.Getenv("GROQCLOUD_API_KEY"),
		}, opts),
	}
}

// SendRequest streams a chat completion and returns the concatenated text.
// Any failure yields CloudFallback.
func (c *Cloud) SendRequest(ctx context.Context, turns []Message, system string, stop []string) string {
	messages := turns
	if system != "" {
		messages = append([]Message{{Role: RoleSystem, Content: system}}, turns...)
	}

	text, err := c.stream(ctx, messages, stop)
	if err != nil {
		c.opts.logger.Error("cloud model request failed", "model", c.opts.model, "error", err)
		return CloudFallback
	}
	return text
}

// SendVisionRequest appends one user turn carrying prompt and the JPEG image
// inline, then sends the conversation without a system message.
func (c *Cloud) SendVisionRequest(ctx context.Context, turns []Message, prompt string, image []byte) string {
	messages := make([]Message, 0, len(turns)+1)
	messages = append(messages, turns...)
	messages = append(messages, Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
			}},
		},
	})
	return c.SendRequest(ctx, messages, "", nil)
}

// Embed is not offered by the provider.
func (c *Cloud) Embed(ctx context.Context, text string) ([]float64, error) {
	c.opts.logger.Warn("embeddings requested from cloud backend", "chars", len(text))
	return nil, ErrEmbeddingsUnsupported
}

func (c *Cloud) stream(ctx context.Context, messages []Message, stop []string) (string, error) {
	if c.opts.apiKey == "" {
		return "", errors.New("no API key configured")
	}

	body := map[string]any{
		"model":      c.opts.model,
		"messages":   messages,
		"stream":     true,
		"max_tokens": DefaultCloudMaxTokens,
	}
	if len(stop) > 0 {
		body["stop"] = stop
	}
	for k, v := range c.opts.params {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	const maxRetries = 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+c.opts.endpoints.Chat, bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)

		resp, err := c.opts.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("http request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			text, err := readStream(resp.Body)
			resp.Body.Close()
			return text, err
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		// Retry on 429 (rate limit) and 503 (overloaded).
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) && attempt < maxRetries {
			wait := retryAfterDelay(resp, attempt)
			c.opts.logger.Warn("API rate limited, retrying", "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		return "", &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	return "", errors.New("max retries exceeded")
}

// readStream concatenates the content deltas of an SSE chat stream.
func readStream(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) > 0 {
			out.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return out.String(), nil
}

// retryAfterDelay returns how long to wait before retrying a rate-limited request.
// It respects the retry-after header if present, otherwise uses exponential backoff.
func retryAfterDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Exponential backoff: 2s, 4s, 8s, capped at 30s
	wait := time.Duration(2<<uint(attempt)) * time.Second
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	return wait
}
