package claude

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/goosewin/prefsim/internal/backend"
)

const name = "claude"

// Backend rates items by running the claude CLI in print mode.
type Backend struct {
	execPath     string
	model        string
	systemPrompt string
	strictness   backend.Strictness
	history      *backend.History
	logger       zerolog.Logger
}

type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

var (
	_ backend.Backend  = (*Backend)(nil)
	_ backend.Resetter = (*Backend)(nil)
)

func init() {
	if err := backend.Register(name, factory, "claude-sonnet-4-5", "claude-opus-4-5"); err != nil {
		panic(err)
	}
}

func factory(opts backend.Options) (backend.Backend, error) {
	return New(opts), nil
}

func New(opts backend.Options) *Backend {
	execPath := strings.TrimSpace(opts.ExecPath)
	if execPath == "" {
		execPath = "claude"
	}
	b := &Backend{
		execPath:     execPath,
		model:        strings.TrimSpace(opts.Model),
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
	if strings.TrimSpace(b.execPath) == "" {
		return errors.New("claude executable path is empty")
	}
	if _, err := exec.LookPath(b.execPath); err != nil {
		return fmt.Errorf("claude not installed: %w", err)
	}
	return nil
}

func (b *Backend) Reset() {
	b.history.Reset()
}

func (b *Backend) PredictPreferences(ctx context.Context, texts []string, ids []int) (backend.Prediction, error) {
	if len(texts) != len(ids) {
		return backend.Prediction{}, backend.ErrInputMismatch
	}
	if len(texts) == 0 {
		return backend.Prediction{}, nil
	}

	request := backend.BuildPrompt(texts, ids)
	pred, raw, err := b.run(ctx, b.renderPrompt(request))
	settled, err := backend.Settle(b.strictness, ids, pred, err, b.logger)
	if err == nil && raw != "" {
		b.history.Append(backend.Exchange{Request: request, Response: raw})
	}
	return settled, err
}

// renderPrompt prepends retained exchanges, since each CLI invocation starts
// a fresh session.
func (b *Backend) renderPrompt(request string) string {
	var builder strings.Builder
	for _, exchange := range b.history.Entries() {
		builder.WriteString("Previous items:\n")
		builder.WriteString(exchange.Request)
		builder.WriteString("\nPrevious ratings:\n")
		builder.WriteString(exchange.Response)
		builder.WriteString("\n\n")
	}
	builder.WriteString(backend.ResponseInstruction)
	builder.WriteString("\n\n")
	builder.WriteString(request)
	return builder.String()
}

func (b *Backend) run(ctx context.Context, prompt string) (backend.Prediction, string, error) {
	args := []string{"--print", "--output-format", "json"}
	if strings.TrimSpace(b.systemPrompt) != "" {
		args = append(args, "--append-system-prompt", b.systemPrompt)
	}
	if b.model != "" {
		args = append(args, "--model", b.model)
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, b.execPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Prediction{}, "", ctxErr
		}
		if stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return backend.Prediction{}, "", &backend.BackendError{Backend: name, Err: err}
	}

	result, err := parseResult(&stdout)
	if err != nil {
		return backend.Prediction{}, "", err
	}
	pred, err := ParseRatings(result)
	if err != nil {
		return backend.Prediction{}, "", err
	}
	return pred, result, nil
}

// parseResult extracts the final result text from JSON or stream-json
// output. The last result event wins.
func parseResult(reader io.Reader) (string, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var raw strings.Builder
	result := ""
	found := false
	for scanner.Scan() {
		line := scanner.Bytes()
		raw.Write(line)
		raw.WriteByte('\n')

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Type != "result" {
			continue
		}
		if event.IsError {
			return "", &backend.BackendError{Backend: name, Err: fmt.Errorf("claude returned %s: %s", event.Subtype, event.Result)}
		}
		result = event.Result
		found = true
	}
	if err := scanner.Err(); err != nil {
		return "", &backend.ResponseParseError{Raw: raw.String(), Err: fmt.Errorf("read claude output: %w", err)}
	}
	if !found {
		return "", &backend.ResponseParseError{Raw: raw.String(), Err: errors.New("no result event in claude output")}
	}
	return result, nil
}

// ParseRatings decodes the JSON object embedded in a model reply, tolerating
// surrounding prose or code fences.
func ParseRatings(text string) (backend.Prediction, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return backend.Prediction{}, &backend.ResponseParseError{Raw: text, Err: errors.New("no JSON object in reply")}
	}

	var pred backend.Prediction
	if err := json.Unmarshal([]byte(text[start:end+1]), &pred); err != nil {
		return backend.Prediction{}, &backend.ResponseParseError{Raw: text, Err: err}
	}
	return pred, nil
}
