package llm

import (
	"log/slog"
	"net/http"
	"time"
)

// Endpoints are the paths of an OpenAI-compatible server.
type Endpoints struct {
	Chat        string
	Completions string
	Embeddings  string
	Models      string
}

// DefaultEndpoints returns the standard /v1 paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Chat:        "/v1/chat/completions",
		Completions: "/v1/completions",
		Embeddings:  "/v1/embeddings",
		Models:      "/v1/models",
	}
}

// withDefaults fills empty paths from DefaultEndpoints.
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Chat == "" {
		e.Chat = d.Chat
	}
	if e.Completions == "" {
		e.Completions = d.Completions
	}
	if e.Embeddings == "" {
		e.Embeddings = d.Embeddings
	}
	if e.Models == "" {
		e.Models = d.Models
	}
	return e
}

// DefaultTimeout bounds a single HTTP round trip to a model server.
const DefaultTimeout = 5 * time.Minute

type options struct {
	model          string
	baseURL        string
	apiKey         string
	embeddingModel string
	endpoints      Endpoints
	params         map[string]any
	httpClient     *http.Client
	logger         *slog.Logger
}

// Option configures a backend.
type Option func(*options)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithBaseURL sets the server URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithEmbeddingModel sets the model used by Embed.
func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		o.embeddingModel = model
	}
}

// WithEndpoints overrides endpoint paths. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(o *options) {
		o.endpoints = e
	}
}

// WithParams adds extra fields to every request body, e.g. temperature.
func WithParams(params map[string]any) Option {
	return func(o *options) {
		o.params = params
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(defaults options, opts []Option) options {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	o.endpoints = o.endpoints.withDefaults()
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	// copy so callers cannot mutate shared request params
	params := make(map[string]any, len(o.params))
	for k, v := range o.params {
		params[k] = v
	}
	o.params = params
	return o
}
