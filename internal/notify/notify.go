package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type WebhookType string

const (
	WebhookDiscord WebhookType = "discord"
	WebhookSlack   WebhookType = "slack"
	WebhookGeneric WebhookType = "generic"
)

// RunSummary describes a finished or failed run.
type RunSummary struct {
	RunID      string
	InputFile  string
	OutputFile string
	Backend    string
	Batches    int
	Degraded   int
	RatedRows  int
	TotalRows  int
	Duration   time.Duration
}

type CompleteOptions struct {
	WebhookURL string
	Summary    RunSummary
	Timeout    time.Duration
}

type FailedOptions struct {
	WebhookURL    string
	Summary       RunSummary
	FailureReason string
	Timeout       time.Duration
}

type field struct {
	name   string
	value  string
	inline bool
}

type message struct {
	event       string
	status      string
	title       string
	description string
	slackText   string
	color       int
	slackColor  string
	fields      []field
	text        string
	summary     RunSummary
	reason      string
}

func DetectWebhookType(url string) WebhookType {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "discord.com/api/webhooks") || strings.Contains(lower, "discordapp.com/api/webhooks") {
		return WebhookDiscord
	}
	if strings.Contains(lower, "hooks.slack.com") {
		return WebhookSlack
	}
	return WebhookGeneric
}

// NotifyComplete reports a run that wrote its output.
func NotifyComplete(ctx context.Context, opts CompleteOptions) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildCompletePayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

// NotifyFailed reports a run that stopped without writing output.
func NotifyFailed(ctx context.Context, opts FailedOptions) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildFailedPayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func SendWebhook(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildCompletePayload(opts CompleteOptions, now time.Time) ([]byte, error) {
	s := opts.Summary
	input := defaultString(s.InputFile, "unknown")
	output := defaultString(s.OutputFile, "unknown")
	rated := fmt.Sprintf("%d/%d", s.RatedRows, s.TotalRows)

	description := "Run **%s** wrote `%s`."
	title := "✅ Preference run complete"
	color, slackColor := 5763719, "#57F287"
	if s.Degraded > 0 {
		description = "Run **%s** wrote `%s` with degraded batches."
		title = "⚠️ Preference run complete with gaps"
		color, slackColor = 16705372, "#FEE75C"
	}
	runID := defaultString(s.RunID, "unknown")

	msg := message{
		event:       "complete",
		status:      "success",
		title:       title,
		description: fmt.Sprintf(description, runID, output),
		slackText:   strings.ReplaceAll(fmt.Sprintf(description, runID, output), "**", "*"),
		color:       color,
		slackColor:  slackColor,
		fields: []field{
			{name: "Input", value: fmt.Sprintf("`%s`", input)},
			{name: "Backend", value: defaultString(s.Backend, "unknown"), inline: true},
			{name: "Batches", value: strconv.Itoa(s.Batches), inline: true},
			{name: "Degraded", value: strconv.Itoa(s.Degraded), inline: true},
			{name: "Rated Rows", value: rated, inline: true},
			{name: "Duration", value: formatDuration(s.Duration), inline: true},
		},
		text: fmt.Sprintf("Preference run '%s' rated %s rows in %s batches (%d degraded, %s)",
			runID, rated, strconv.Itoa(s.Batches), s.Degraded, formatDuration(s.Duration)),
		summary: s,
	}
	return render(DetectWebhookType(opts.WebhookURL), msg, now)
}

func buildFailedPayload(opts FailedOptions, now time.Time) ([]byte, error) {
	s := opts.Summary
	reason := defaultString(opts.FailureReason, "unknown")
	runID := defaultString(s.RunID, "unknown")
	description := fmt.Sprintf("Run **%s** stopped without writing output: %s", runID, reason)

	msg := message{
		event:       "failed",
		status:      "failure",
		title:       "❌ Preference run failed",
		description: description,
		slackText:   strings.ReplaceAll(description, "**", "*"),
		color:       15548997,
		slackColor:  "#ED4245",
		fields: []field{
			{name: "Input", value: fmt.Sprintf("`%s`", defaultString(s.InputFile, "unknown"))},
			{name: "Reason", value: reason, inline: true},
			{name: "Backend", value: defaultString(s.Backend, "unknown"), inline: true},
			{name: "Duration", value: formatDuration(s.Duration), inline: true},
		},
		text:    fmt.Sprintf("Preference run '%s' failed: %s", runID, reason),
		summary: s,
		reason:  reason,
	}
	return render(DetectWebhookType(opts.WebhookURL), msg, now)
}

func render(kind WebhookType, msg message, now time.Time) ([]byte, error) {
	timestamp := now.Format(time.RFC3339)

	switch kind {
	case WebhookDiscord:
		fields := make([]map[string]interface{}, 0, len(msg.fields))
		for _, f := range msg.fields {
			fields = append(fields, map[string]interface{}{"name": f.name, "value": f.value, "inline": f.inline})
		}
		return json.Marshal(map[string]interface{}{
			"embeds": []map[string]interface{}{
				{
					"title":       msg.title,
					"description": msg.description,
					"color":       msg.color,
					"fields":      fields,
					"footer":      map[string]interface{}{"text": "prefsim"},
					"timestamp":   timestamp,
				},
			},
		})
	case WebhookSlack:
		fields := make([]map[string]interface{}, 0, len(msg.fields))
		for _, f := range msg.fields {
			fields = append(fields, map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", f.name, f.value)})
		}
		return json.Marshal(map[string]interface{}{
			"attachments": []map[string]interface{}{
				{
					"color": msg.slackColor,
					"blocks": []map[string]interface{}{
						{
							"type": "header",
							"text": map[string]interface{}{"type": "plain_text", "text": msg.title, "emoji": true},
						},
						{
							"type": "section",
							"text": map[string]interface{}{"type": "mrkdwn", "text": msg.slackText},
						},
						{
							"type":   "section",
							"fields": fields,
						},
						{
							"type": "context",
							"elements": []map[string]interface{}{
								{"type": "mrkdwn", "text": fmt.Sprintf("prefsim • %s", timestamp)},
							},
						},
					},
				},
			},
		})
	default:
		s := msg.summary
		payload := map[string]interface{}{
			"event":       msg.event,
			"status":      msg.status,
			"run_id":      s.RunID,
			"input_file":  s.InputFile,
			"output_file": s.OutputFile,
			"backend":     s.Backend,
			"batches":     s.Batches,
			"degraded":    s.Degraded,
			"rated_rows":  s.RatedRows,
			"total_rows":  s.TotalRows,
			"duration":    formatDuration(s.Duration),
			"timestamp":   timestamp,
			"message":     msg.text,
		}
		if msg.reason != "" {
			payload["reason"] = msg.reason
		}
		return json.Marshal(payload)
	}
}

func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "unknown"
	}
	total := int(duration.Seconds())
	if total <= 0 {
		return "<1s"
	}
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func defaultString(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
