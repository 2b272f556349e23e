package openai

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"
	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"github.com/goosewin/prefsim/internal/backend"
)

const name = "openai"

// DefaultModel matches the first model with structured output support.
const DefaultModel = "gpt-4o-2024-08-06"

// Backend rates items through the OpenAI chat completions API using a JSON
// schema response format.
type Backend struct {
	client       oai.Client
	apiKey       string
	model        string
	systemPrompt string
	strictness   backend.Strictness
	history      *backend.History
	logger       zerolog.Logger
}

var (
	_ backend.Backend  = (*Backend)(nil)
	_ backend.Resetter = (*Backend)(nil)
)

func init() {
	if err := backend.Register(name, factory, DefaultModel, "gpt-4o-mini", "gpt-4.1-mini"); err != nil {
		panic(err)
	}
}

func factory(opts backend.Options) (backend.Backend, error) {
	return New(opts), nil
}

// New returns an OpenAI backend. Retries are owned by the caller, so the SDK's
// own retry loop is disabled.
func New(opts backend.Options) *Backend {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(opts.Timeout))
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	b := &Backend{
		client:       oai.NewClient(clientOpts...),
		apiKey:       opts.APIKey,
		model:        model,
		systemPrompt: opts.SystemPrompt,
		strictness:   opts.Strictness,
		logger:       opts.Logger.With().Str("backend", name).Logger(),
	}
	if opts.MemorySize > 0 {
		b.history = backend.NewHistory(opts.MemorySize)
	}
	return b
}

func (b *Backend) Name() string {
	return name
}

func (b *Backend) Check() error {
	if strings.TrimSpace(b.apiKey) == "" {
		return backend.ErrMissingCredential
	}
	if strings.TrimSpace(b.systemPrompt) == "" {
		return errors.New("system prompt is required")
	}
	return nil
}

// Reset clears the conversational history.
func (b *Backend) Reset() {
	b.history.Reset()
}

// History exposes the retained exchanges, oldest first.
func (b *Backend) History() []backend.Exchange {
	return b.history.Entries()
}

func (b *Backend) PredictPreferences(ctx context.Context, texts []string, ids []int) (backend.Prediction, error) {
	if len(texts) != len(ids) {
		return backend.Prediction{}, backend.ErrInputMismatch
	}
	if len(texts) == 0 {
		return backend.Prediction{}, nil
	}

	prompt := backend.BuildPrompt(texts, ids)
	pred, raw, err := b.complete(ctx, prompt)
	settled, err := backend.Settle(b.strictness, ids, pred, err, b.logger)
	if err == nil && raw != "" {
		b.history.Append(backend.Exchange{Request: prompt, Response: raw})
	}
	return settled, err
}

func (b *Backend) complete(ctx context.Context, prompt string) (backend.Prediction, string, error) {
	messages := []oai.ChatCompletionMessageParamUnion{oai.SystemMessage(b.systemPrompt)}
	for _, exchange := range b.history.Entries() {
		messages = append(messages, oai.UserMessage(exchange.Request), oai.AssistantMessage(exchange.Response))
	}
	messages = append(messages, oai.UserMessage(prompt))

	completion, err := b.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(b.model),
		Messages: messages,
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
				JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "post_rating",
					Schema: ratingSchema,
					Strict: oai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Prediction{}, "", ctxErr
		}
		return backend.Prediction{}, "", &backend.BackendError{Backend: name, Err: err}
	}

	if len(completion.Choices) == 0 {
		return backend.Prediction{}, "", &backend.ResponseParseError{Err: errors.New("completion has no choices")}
	}
	message := completion.Choices[0].Message
	if message.Refusal != "" {
		return backend.Prediction{}, "", &backend.ResponseParseError{Raw: message.Refusal, Err: errors.New("model refused the request")}
	}

	pred, err := ParseResponse(message.Content)
	if err != nil {
		return backend.Prediction{}, "", err
	}
	return pred, message.Content, nil
}

// ParseResponse decodes a {"index": [...], "ratings": [...]} document.
func ParseResponse(content string) (backend.Prediction, error) {
	var pred backend.Prediction
	if strings.TrimSpace(content) == "" {
		return pred, &backend.ResponseParseError{Raw: content, Err: errors.New("empty response")}
	}
	if err := json.Unmarshal([]byte(content), &pred); err != nil {
		return backend.Prediction{}, &backend.ResponseParseError{Raw: content, Err: err}
	}
	return pred, nil
}

var ratingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"index": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer"},
		},
		"ratings": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer", "enum": []int{0, 1}},
		},
	},
	"required":             []string{"index", "ratings"},
	"additionalProperties": false,
}
