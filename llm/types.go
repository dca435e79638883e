package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client is the request contract every model backend implements.
type Client interface {
	// SendRequest sends the conversation and returns the model's reply.
	// Failures are reported as a human readable reply, never as an error.
	SendRequest(ctx context.Context, turns []Message, system string, stop []string) string

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HealthChecker is implemented by backends that can probe their server.
type HealthChecker interface {
	CheckHealth(ctx context.Context) HealthStatus
}

// VisionClient is implemented by backends that accept inline images.
type VisionClient interface {
	SendVisionRequest(ctx context.Context, turns []Message, prompt string, image []byte) string
}

// Completer is implemented by backends with a raw text completion endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Message represents a conversation turn.
type Message struct {
	Role    Role
	Content string

	// Parts replaces Content for multimodal turns
	Parts []ContentPart
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentPart is one element of a multimodal turn.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL points at an image, usually an inline data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// MarshalJSON encodes the turn in the OpenAI chat schema: content is a plain
// string, or a list of parts for multimodal turns.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    Role          `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

// HealthStatus is the result of probing a backend's model catalog.
type HealthStatus struct {
	// Available is true when the catalog could be fetched
	Available bool `json:"available"`

	// Error describes why the backend is unavailable, or warns that the
	// configured model is missing from an otherwise healthy catalog
	Error string `json:"error,omitempty"`

	// Models lists the catalog entries
	Models []string `json:"models"`
}

var (
	// ErrEmbeddingsUnsupported is returned by backends without an embeddings endpoint.
	ErrEmbeddingsUnsupported = errors.New("embeddings not supported by this backend")

	// ErrContextLength matches errors caused by a conversation that exceeds
	// the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrNoContent is returned when a response carries no usable text.
	ErrNoContent = errors.New("no content in response")
)

// APIError is a non-2xx response from a model server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Is reports context window errors as ErrContextLength.
func (e *APIError) Is(target error) bool {
	return target == ErrContextLength && mentionsContextLength(e.Body)
}

func isContextLength(err error) bool {
	return errors.Is(err, ErrContextLength) || mentionsContextLength(err.Error())
}

func mentionsContextLength(s string) bool {
	return strings.Contains(strings.ToLower(s), "context length")
}
