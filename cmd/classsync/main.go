package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/grading"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/handler"
	appI18n "github.com/syedsabbir-git/ClassSync-sub001/internal/i18n"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/llm"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/metrics"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/quiz"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/store"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/tasks"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/tracing"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "classsync",
		Short: "Practice quizzes for upcoming coursework, generated and graded by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), tasksCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `classsync --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	defaults := llm.DefaultConfig()
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "classsync.db", "SQLite database path")
	f.StringSlice("tasks-file", nil, "Tasks JSON files to import at startup (repeatable)")
	f.StringSlice("resources-file", nil, "Resources JSON files to import at startup (repeatable)")
	f.String("llm-url", defaults.BaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set CLASSSYNC_LLM_KEY)")
	f.String("llm-model", defaults.Model, "LLM model name")
	f.Float32("quiz-temperature", defaults.QuizTemperature, "Sampling temperature for quiz generation")
	f.Float32("grade-temperature", defaults.GradeTemperature, "Sampling temperature for short-answer grading")
	f.Int("quiz-max-tokens", defaults.QuizMaxTokens, "Max output tokens for quiz generation")
	f.Int("grade-max-tokens", defaults.GradeMaxTokens, "Max output tokens for short-answer grading")
	f.Float64("llm-rps", 2, "Max LLM requests per second across all sessions (0 = unlimited)")
	f.StringSlice("groups", nil, "Default group ids for the task list (repeatable)")
	f.Int("fetch-concurrency", tasks.DefaultConcurrency, "Group task fetches in flight at once")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("session-secret", "", "Cookie signing secret, at least 32 bytes (or set CLASSSYNC_SESSION_SECRET)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("session-ttl", 2*time.Hour, "Drop quiz sessions idle for this long")
	f.String("trace", "", "Span exporter: stdout or otlp (empty disables tracing)")
	f.String("otel-endpoint", "", "OTLP/HTTP collector URL for --trace=otlp (default from OTEL_EXPORTER_OTLP_ENDPOINT)")
	f.Float64("trace-sample-ratio", 1, "Fraction of new traces to keep")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tasks and resources from JSON files",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "classsync.db", "SQLite database path")
	f.StringSlice("tasks-file", nil, "Tasks JSON files (repeatable)")
	f.StringSlice("resources-file", nil, "Resources JSON files (repeatable)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Print upcoming tasks for the given groups as JSON",
		RunE:  runTasks,
	}
	f := cmd.Flags()
	f.String("db", "classsync.db", "SQLite database path")
	f.StringSlice("groups", nil, "Group ids (repeatable)")
	f.Bool("all-groups", false, "Use every group that has tasks")
	f.Int("fetch-concurrency", tasks.DefaultConcurrency, "Group task fetches in flight at once")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CLASSSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("classsync")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/classsync")
	v.AddConfigPath("/etc/classsync")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func llmConfig(v *viper.Viper) llm.Config {
	return llm.Config{
		BaseURL:           v.GetString("llm-url"),
		APIKey:            v.GetString("llm-key"),
		Model:             v.GetString("llm-model"),
		QuizTemperature:   float32(v.GetFloat64("quiz-temperature")),
		GradeTemperature:  float32(v.GetFloat64("grade-temperature")),
		QuizMaxTokens:     v.GetInt("quiz-max-tokens"),
		GradeMaxTokens:    v.GetInt("grade-max-tokens"),
		RequestsPerSecond: v.GetFloat64("llm-rps"),
	}
}

func sessionSecret(v *viper.Viper) []byte {
	if s := v.GetString("session-secret"); s != "" {
		return []byte(s)
	}
	slog.Warn("no session secret configured, generating one; quiz sessions will not survive a restart")
	return securecookie.GenerateRandomKey(32)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	metrics.Init()

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: "classsync",
		Exporter:    v.GetString("trace"),
		Endpoint:    v.GetString("otel-endpoint"),
		SampleRatio: v.GetFloat64("trace-sample-ratio"),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importFiles(db, v.GetStringSlice("tasks-file"), v.GetStringSlice("resources-file")); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmCfg := llmConfig(v)
	llmClient := llm.New(llmCfg)
	if llmCfg.APIKey == "" {
		slog.Warn("no LLM API key configured; quiz generation and grading will fail until one is set")
	} else {
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := llmClient.Ping(pingCtx); err != nil {
			slog.Warn("LLM health check failed", "url", llmCfg.BaseURL, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", llmCfg.BaseURL, "model", llmCfg.Model)
		}
		cancel()
	}

	engine := grading.NewEngine(llmClient)
	factory := func() *quiz.Machine {
		return quiz.New(llmClient, engine, db)
	}
	agg := tasks.New(db).WithConcurrency(v.GetInt("fetch-concurrency"))

	h, err := handler.New(db, agg, factory, handler.Config{
		Groups:        v.GetStringSlice("groups"),
		SessionSecret: sessionSecret(v),
		SecureCookies: v.GetBool("secure-cookies"),
		IdleTTL:       v.GetDuration("session-ttl"),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go h.RunSweeper(ctx)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"model", llmCfg.Model,
		"llm_url", llmCfg.BaseURL,
		"lang", lang,
		"groups", v.GetStringSlice("groups"),
		"llm_rps", llmCfg.RequestsPerSecond,
		"trace", v.GetString("trace"),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	taskFiles := v.GetStringSlice("tasks-file")
	resourceFiles := v.GetStringSlice("resources-file")
	if len(taskFiles) == 0 && len(resourceFiles) == 0 {
		return errors.New("nothing to import: pass --tasks-file or --resources-file")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(db, taskFiles, resourceFiles)
}

func runTasks(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	groups := v.GetStringSlice("groups")
	if v.GetBool("all-groups") {
		if groups, err = db.ListGroups(ctx); err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
	}

	agg := tasks.New(db).WithConcurrency(v.GetInt("fetch-concurrency"))
	return writeUpcoming(ctx, agg, groups, time.Now(), v.GetString("output"))
}
