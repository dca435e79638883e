package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default local backend configuration values
const (
	DefaultLocalModel     = "llama3.1"
	DefaultLocalHost      = "localhost"
	DefaultLocalPort      = "11434"
	DefaultEmbeddingModel = "text-embedding-nomic-embed-text-v1.5"

	// MaxReasoningAttempts bounds how often a reply with a truncated
	// reasoning block is regenerated.
	MaxReasoningAttempts = 5

	// ReasoningFallback is returned when every attempt was truncated.
	ReasoningFallback = "I thought too hard, sorry, try again."
)

// healthProbeTimeout bounds a shared health probe.
const healthProbeTimeout = 10 * time.Second

// Local is a backend for an OpenAI-compatible inference server running on
// the local network, such as Ollama or LM Studio.
type Local struct {
	opts   options
	probes singleflight.Group
}

// NewLocal creates a local backend. Without WithBaseURL the server address
// comes from OLLAMA_HOST and OLLAMA_PORT, defaulting to localhost:11434.
func NewLocal(opts ...Option) *Local {
	return &Local{
		opts: buildOptions(options{
			model:          DefaultLocalModel,
			baseURL:        LocalURLFromEnv(),
			embeddingModel: DefaultEmbeddingModel,
		}, opts),
	}
}

// LocalURLFromEnv builds the local server URL from OLLAMA_HOST and OLLAMA_PORT.
func LocalURLFromEnv() string {
	return LocalURL(os.Getenv("OLLAMA_HOST"), os.Getenv("OLLAMA_PORT"))
}

// LocalURL builds a server URL from a host and port. A host that already
// carries a scheme is used as is.
func LocalURL(host, port string) string {
	if host == "" {
		host = DefaultLocalHost
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if port == "" {
		port = DefaultLocalPort
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// URL returns the server base URL.
func (l *Local) URL() string {
	return l.opts.baseURL
}

// Model returns the configured model name.
func (l *Local) Model() string {
	return l.opts.model
}

// CheckHealth fetches the model catalog. The server is available when the
// catalog could be fetched; a missing model is reported in Error without
// making the server unavailable. Concurrent probes share one request.
// The shared probe is detached from any single caller's context, so one
// caller giving up does not fail the others.
func (l *Local) CheckHealth(ctx context.Context) HealthStatus {
	ch := l.probes.DoChan("health", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthProbeTimeout)
		defer cancel()
		return l.checkHealth(probeCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(HealthStatus)
	case <-ctx.Done():
		return HealthStatus{
			Available: false,
			Error:     fmt.Sprintf("health check aborted: %v", ctx.Err()),
			Models:    []string{},
		}
	}
}

func (l *Local) checkHealth(ctx context.Context) HealthStatus {
	models, err := l.ListModels(ctx)
	if err != nil {
		return HealthStatus{
			Available: false,
			Error:     fmt.Sprintf("local model server unreachable at %s: %v", l.opts.baseURL, err),
			Models:    []string{},
		}
	}

	status := HealthStatus{Available: true, Models: models}
	if !containsString(models, l.opts.model) {
		status.Error = fmt.Sprintf("model '%s' not found in available models: %s",
			l.opts.model, strings.Join(models, ", "))
	}
	return status
}

// ListModels returns the IDs in the server's model catalog.
func (l *Local) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.opts.baseURL+l.opts.endpoints.Models, nil)
	if err != nil {
		return nil, err
	}

	var catalog struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := l.do(req, &catalog); err != nil {
		return nil, err
	}

	models := make([]string, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		id := m.ID
		if id == "" {
			id = m.Name
		}
		models = append(models, id)
	}
	return models, nil
}

// SendRequest sends a chat request and returns the reply text.
//
// The server is probed first; an unreachable server yields a reply
// describing the problem. A reply whose reasoning block was cut off is
// regenerated up to MaxReasoningAttempts times, after which
// ReasoningFallback is returned. When the server rejects the conversation
// as too long, the oldest turn is dropped and the request starts over.
func (l *Local) SendRequest(ctx context.Context, turns []Message, system string, stop []string) string {
	messages := append([]Message{{Role: RoleSystem, Content: system}}, NormalizeTurns(turns)...)

	health := l.CheckHealth(ctx)
	if !health.Available {
		l.opts.logger.Error("local model health check failed", "error", health.Error)
		return "Local model server unavailable: " + health.Error
	}
	if health.Error != "" {
		l.opts.logger.Warn(health.Error)
	}

	for attempt := 1; attempt <= MaxReasoningAttempts; attempt++ {
		l.opts.logger.Debug("awaiting local response", "model", l.opts.model, "attempt", attempt)

		text, err := l.chat(ctx, messages, stop)
		if err != nil {
			if isContextLength(err) && len(turns) > 1 {
				l.opts.logger.Warn("context length exceeded, retrying with shorter context", "turns", len(turns)-1)
				return l.SendRequest(ctx, turns[1:], system, stop)
			}
			l.opts.logger.Error("local model request failed", "error", err)
			text = "Local model error: " + err.Error()
		}

		repaired, ok := RepairReasoning(text)
		if !ok {
			l.opts.logger.Warn("partial reasoning block, regenerating", "attempt", attempt)
			continue
		}
		return repaired
	}

	l.opts.logger.Warn("no complete reply after max attempts", "attempts", MaxReasoningAttempts)
	return ReasoningFallback
}

type choice struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

type choicesResponse struct {
	Choices []choice `json:"choices"`
}

// chat performs one chat round trip. A response without content is not an
// error: its text says so and the caller treats it like any reply.
func (l *Local) chat(ctx context.Context, messages []Message, stop []string) (string, error) {
	body := l.body(map[string]any{
		"model":    l.opts.model,
		"messages": messages,
		"stream":   false,
	})
	if len(stop) > 0 {
		body["stop"] = stop
	}

	var resp choicesResponse
	if err := l.post(ctx, l.opts.endpoints.Chat, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		switch {
		case c.Message != nil && c.Message.Content != "":
			return c.Message.Content, nil
		case c.Content != "":
			return c.Content, nil
		case c.Text != "":
			return c.Text, nil
		}
	}
	l.opts.logger.Error("failed to extract content from response", "choices", len(resp.Choices))
	return "Local model error: No content in response", nil
}

// Complete sends a raw completion request.
func (l *Local) Complete(ctx context.Context, prompt string) (string, error) {
	body := l.body(map[string]any{
		"model":  l.opts.model,
		"prompt": prompt,
	})

	var resp choicesResponse
	if err := l.post(ctx, l.opts.endpoints.Completions, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 {
		if t := resp.Choices[0].Text; t != "" {
			return t, nil
		}
		if c := resp.Choices[0].Content; c != "" {
			return c, nil
		}
	}
	return "", ErrNoContent
}

// Embed returns the embedding of text. Errors are not retried.
func (l *Local) Embed(ctx context.Context, text string) ([]float64, error) {
	body := map[string]any{
		"model": l.opts.embeddingModel,
		"input": text,
	}

	var resp struct {
		Embedding []float64 `json:"embedding"`
		Data      []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := l.post(ctx, l.opts.endpoints.Embeddings, body, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(resp.Embedding) > 0 {
		return resp.Embedding, nil
	}
	if len(resp.Data) > 0 && len(resp.Data[0].Embedding) > 0 {
		return resp.Data[0].Embedding, nil
	}
	return nil, fmt.Errorf("embed: %w", ErrNoContent)
}

// body merges the configured params into a request body.
func (l *Local) body(fields map[string]any) map[string]any {
	for k, v := range l.opts.params {
		fields[k] = v
	}
	return fields
}

func (l *Local) post(ctx context.Context, endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.opts.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.opts.apiKey)
	}
	return l.do(req, out)
}

func (l *Local) do(req *http.Request, out any) error {
	resp, err := l.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.opts.logger.Error("local model request failed",
			"url", req.URL.String(), "status", resp.StatusCode, "body", truncate(string(body), 500))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
