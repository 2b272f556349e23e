package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goosewin/prefsim/internal/backend"
	"github.com/goosewin/prefsim/internal/config"
	"github.com/goosewin/prefsim/internal/core"
	"github.com/goosewin/prefsim/internal/dataset"
	"github.com/goosewin/prefsim/internal/logging"
	"github.com/goosewin/prefsim/internal/metrics"
	"github.com/goosewin/prefsim/internal/notify"
	"github.com/goosewin/prefsim/internal/predictor"
)

var (
	runInput          string
	runOutput         string
	runSamples        int
	runBatchSize      int
	runBackend        string
	runModel          string
	runSystemPrompt   string
	runPersona        string
	runPromptTemplate string
	runStrictness     string
	runMaxAttempts    int
	runRetryInterval  time.Duration
	runMemory         bool
	runMemorySize     int
	runRequestsPerMin int
	runLogLevel       string
	runLogFormat      string
	runMetricsFile    string
	runWebhook        string
	runEnvFile        string
)

// runFlagKeys maps run flags to the config keys they override.
var runFlagKeys = map[string]string{
	"input":               "input_file",
	"output":              "output_file",
	"samples":             "samples",
	"batch-size":          "batch_size",
	"backend":             "backend",
	"model":               "model",
	"system-prompt":       "system_prompt",
	"persona":             "persona_characteristics",
	"prompt-template":     "system_prompt_template",
	"strictness":          "strictness",
	"max-attempts":        "retry.max_attempts",
	"retry-interval":      "retry.interval",
	"memory":              "memory.enabled",
	"memory-size":         "memory.size",
	"requests-per-minute": "rate_limit.requests_per_minute",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
	"metrics-textfile":    "metrics.textfile",
	"webhook":             "notify.webhook",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Rate every post of a table as the configured persona",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runInput, "input", "i", "", "Input table (.csv, .tsv or .xlsx) with a Titles column")
	flags.StringVarP(&runOutput, "output", "o", "", "Output table (.csv, .tsv or .xlsx)")
	flags.IntVarP(&runSamples, "samples", "n", 0, "Rate only the first N rows (0 rates all)")
	flags.IntVar(&runBatchSize, "batch-size", 0, "Rows per backend request")
	flags.StringVarP(&runBackend, "backend", "b", "", "Prediction backend (see 'prefsim backends')")
	flags.StringVarP(&runModel, "model", "m", "", "Model override (backend-specific)")
	flags.StringVar(&runSystemPrompt, "system-prompt", "", "Literal system prompt")
	flags.StringVarP(&runPersona, "persona", "p", "", "Persona characteristics rendered into the prompt template")
	flags.StringVar(&runPromptTemplate, "prompt-template", "", "System prompt template with a {persona_characteristics} placeholder")
	flags.StringVar(&runStrictness, "strictness", "", "Response checking: strict or loose")
	flags.IntVar(&runMaxAttempts, "max-attempts", 0, "Attempts per batch before it is left unrated")
	flags.DurationVar(&runRetryInterval, "retry-interval", 0, "Wait between attempts of a batch")
	flags.BoolVar(&runMemory, "memory", false, "Replay recent exchanges to the backend")
	flags.IntVar(&runMemorySize, "memory-size", 0, "Exchanges kept when memory is enabled (at most 10)")
	flags.IntVar(&runRequestsPerMin, "requests-per-minute", 0, "Backend request rate limit (0 disables)")
	flags.StringVar(&runLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.StringVar(&runLogFormat, "log-format", "", "Log format: console or json")
	flags.StringVar(&runMetricsFile, "metrics-textfile", "", "Write run metrics to this node-exporter textfile")
	flags.StringVar(&runWebhook, "webhook", "", "Notification webhook URL")
	flags.StringVar(&runEnvFile, "env-file", ".env", "Dotenv file with OPENAI_API_KEY")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	if _, err := config.LoadConfig(cwd, configFile); err != nil {
		return err
	}
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	settings, err := config.Load()
	if err != nil {
		return err
	}

	apiKey, err := config.LoadCredentials(runEnvFile)
	if err != nil {
		return err
	}
	strictness, err := backend.ParseStrictness(settings.Strictness)
	if err != nil {
		return err
	}
	systemPrompt, err := core.ResolveSystemPrompt(settings.SystemPrompt, settings.PersonaCharacteristics, settings.SystemPromptTemplate)
	if err != nil {
		return err
	}

	logPath := settings.Logging.File
	if logPath == "" {
		logPath = logging.DefaultFilePath(settings.OutputFile)
	}
	logFile, err := logging.OpenFile(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logCfg := logging.Config{Level: settings.Logging.Level, Format: settings.Logging.Format, Output: cmd.ErrOrStderr()}
	if logFile != nil {
		logCfg.File = logFile
	}
	runID := uuid.NewString()
	logger := logging.New(logCfg).With().Str("run_id", runID).Logger()

	summary := notify.RunSummary{
		RunID:      runID,
		InputFile:  settings.InputFile,
		OutputFile: settings.OutputFile,
		Backend:    settings.Backend,
	}
	started := time.Now()
	fail := func(err error) error {
		summary.Duration = time.Since(started)
		logger.Error().Err(err).Msg("run failed")
		sendFailure(logger, settings.Notify.Webhook, summary, err)
		return err
	}

	memorySize := 0
	if settings.Memory.Enabled {
		memorySize = settings.Memory.Size
	}
	instance, err := backend.New(settings.Backend, backend.Options{
		Model:        settings.Model,
		SystemPrompt: systemPrompt,
		APIKey:       apiKey,
		BaseURL:      settings.BaseURL,
		ExecPath:     settings.ExecPath,
		Strictness:   strictness,
		MemorySize:   memorySize,
		Timeout:      settings.Timeout,
		Logger:       logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := instance.Check(); err != nil {
		return fail(err)
	}
	instance = backend.RateLimited(instance, settings.RateLimit.RequestsPerMinute)
	instance = backend.WithBreaker(instance, settings.Breaker.FailureThreshold, settings.Breaker.Cooldown, logger)

	data, err := dataset.Load(settings.InputFile)
	if err != nil {
		return fail(err)
	}
	summary.TotalRows = data.Len()
	if settings.Samples > 0 && settings.Samples < summary.TotalRows {
		summary.TotalRows = settings.Samples
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := settings.Retry.Interval
	if interval == 0 {
		interval = -1
	}
	recorder := metrics.New()
	out := cmd.OutOrStdout()
	result, err := core.Run(ctx, core.RunOptions{
		RunID:     runID,
		Dataset:   data,
		Samples:   settings.Samples,
		BatchSize: settings.BatchSize,
		Predictor: predictor.New(instance),
		Retry: core.RetryPolicy{
			MaxAttempts: settings.Retry.MaxAttempts,
			Interval:    interval,
			Sleep:       core.SleepContext,
		},
		Logger:  logger,
		Metrics: recorder,
		StateCallback: func(update core.StateUpdate) {
			switch update.Status {
			case core.StatusSucceeded, core.StatusDegraded:
				fmt.Fprintf(out, "[%d/%d] batch %s after %d attempt(s), %d rows done\n",
					update.Batch, update.Batches, update.Status, update.Attempt, update.RowsDone)
			}
		},
	})
	if err != nil {
		return fail(err)
	}

	if err := dataset.Save(settings.OutputFile, result.Dataset); err != nil {
		return fail(fmt.Errorf("write output: %w", err))
	}
	if err := recorder.WriteTextfile(settings.Metrics.Textfile); err != nil {
		logger.Warn().Err(err).Str("path", settings.Metrics.Textfile).Msg("failed to write metrics textfile")
	}

	summary.Batches = result.Batches
	summary.Degraded = len(result.Degraded)
	summary.RatedRows = result.RatedRows
	summary.Duration = time.Since(started)
	sendComplete(logger, settings.Notify.Webhook, summary)

	logger.Info().Str("output", settings.OutputFile).Msg("wrote output")
	fmt.Fprintf(out, "Wrote %d rows to %s (%d rated, %d of %d batches degraded)\n",
		result.Dataset.Len(), settings.OutputFile, result.RatedRows, len(result.Degraded), result.Batches)
	return nil
}

func applyRunFlags(cmd *cobra.Command) error {
	for name, key := range runFlagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := config.Override(key, flag.Value.String()); err != nil {
			return err
		}
	}
	return nil
}

func sendComplete(logger zerolog.Logger, webhook string, summary notify.RunSummary) {
	if webhook == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := notify.NotifyComplete(ctx, notify.CompleteOptions{WebhookURL: webhook, Summary: summary}); err != nil {
		logger.Warn().Err(err).Msg("failed to send completion notification")
	}
}

func sendFailure(logger zerolog.Logger, webhook string, summary notify.RunSummary, cause error) {
	if webhook == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	opts := notify.FailedOptions{WebhookURL: webhook, Summary: summary, FailureReason: cause.Error()}
	if err := notify.NotifyFailed(ctx, opts); err != nil {
		logger.Warn().Err(err).Msg("failed to send failure notification")
	}
}

// apiKeyForListing reads the credential without failing the listing.
func apiKeyForListing() string {
	key, _ := config.LoadCredentials(runEnvFile)
	return key
}
