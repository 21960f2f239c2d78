package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/langtest/internal/cache"
	"github.com/pavelanni/langtest/internal/content"
	"github.com/pavelanni/langtest/internal/evaluator"
	"github.com/pavelanni/langtest/internal/handler"
	appI18n "github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
	"github.com/pavelanni/langtest/internal/store"
)

// defaultLanguages seeds the language list of a new database.
var defaultLanguages = []model.Language{
	{Name: "English", CountryCode: "GB", CountryName: "United Kingdom"},
	{Name: "French", CountryCode: "FR", CountryName: "France"},
	{Name: "German", CountryCode: "DE", CountryName: "Germany"},
	{Name: "Italian", CountryCode: "IT", CountryName: "Italy"},
	{Name: "Portuguese", CountryCode: "PT", CountryName: "Portugal"},
	{Name: "Spanish", CountryCode: "ES", CountryName: "Spain"},
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "langtest",
		Short: "Language proficiency tests generated and graded by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `langtest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func llmFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("ui-lang", "en", "Interface language for instructions and feedback (en, fr)")
	f.String("strategy", content.StrategyParallel, "Generation strategy (parallel, fast, safe, simplified)")
	f.String("prompts-dir", "", "Directory overriding the embedded prompt assets")
	f.String("themes-file", "", "YAML file overriding the theme denylist and fallback pool")
	f.Bool("no-delays", false, "Disable every backoff delay (for local mock servers)")
}

func logFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "langtest.db", "SQLite database path")
	f.String("redis-addr", "", "Redis address for the test cache (empty disables it)")
	f.Duration("cache-ttl", 24*time.Hour, "Lifetime of cached tests")
	llmFlags(f)
	logFlags(f)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one test and print it as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.String("language", "", "Target language of the test (required)")
	f.String("level", "", "CEFR level (A1-C2, empty for auto-detection)")
	f.StringP("out", "o", "-", "Output file path (- for stdout)")
	llmFlags(f)
	logFlags(f)

	_ = cmd.MarkFlagRequired("language")

	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate answers to one exercise and print the report as JSON",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.String("exercise", "", "Exercise JSON file (required)")
	f.String("answers", "", "Answers file, one \"Question N: answer\" line per element (required)")
	f.String("language", "", "Language of the exercise (required)")
	f.StringP("out", "o", "-", "Output file path (- for stdout)")
	llmFlags(f)
	logFlags(f)

	_ = cmd.MarkFlagRequired("exercise")
	_ = cmd.MarkFlagRequired("answers")
	_ = cmd.MarkFlagRequired("language")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored tests and evaluations as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "langtest.db", "SQLite database path")
	f.StringP("out", "o", "-", "Output file path (- for stdout)")
	f.String("ui-lang", "en", "Interface language for messages (en, fr)")
	logFlags(f)
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

	v.SetEnvPrefix("LANGTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("langtest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/langtest")
	v.AddConfigPath("/etc/langtest")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// services holds the LLM-backed components shared by the commands.
type services struct {
	client    *llm.Client
	assembler *content.Assembler
	evaluator *evaluator.Evaluator
}

func newServices(v *viper.Viper) (*services, error) {
	uiLang := v.GetString("ui-lang")
	if err := appI18n.Init(uiLang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	lib, err := loadPrompts(v.GetString("prompts-dir"))
	if err != nil {
		return nil, err
	}
	themes, err := loadThemePool(v.GetString("themes-file"), lib.Tables().Themes)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), logger)
	ladder := backoff.NewLadder(backoff.Options{Logger: logger, NoDelay: v.GetBool("no-delays")})

	gen, err := content.New(content.Config{
		Gateway:   client,
		Prompts:   lib,
		Ladder:    ladder,
		Themes:    themes,
		Interface: uiLang,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	strategy, err := content.NewStrategy(strings.ToLower(strings.TrimSpace(v.GetString("strategy"))), gen)
	if err != nil {
		return nil, err
	}

	return &services{
		client:    client,
		assembler: content.NewAssembler(strategy, logger),
		evaluator: evaluator.New(client, lib, ladder, uiLang, logger),
	}, nil
}

func loadPrompts(dir string) (*prompts.Library, error) {
	if dir == "" {
		return prompts.Default()
	}
	lib, err := prompts.Load(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load prompts from %s: %w", dir, err)
	}
	slog.Info("loaded prompt assets", "dir", dir)
	return lib, nil
}

// loadThemePool returns nil when no override file is configured.
func loadThemePool(path string, base prompts.ThemePool) (*prompts.ThemePool, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open themes file: %w", err)
	}
	defer f.Close()
	pool, err := prompts.ReadThemePool(f, base)
	if err != nil {
		return nil, fmt.Errorf("read themes file %s: %w", path, err)
	}
	slog.Info("loaded theme pool", "path", path, "fallback", len(pool.Fallback), "denylist", len(pool.Denylist))
	return &pool, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	seeded, err := db.SeedLanguages(defaultLanguages)
	if err != nil {
		return fmt.Errorf("seed languages: %w", err)
	}
	if seeded {
		slog.Info("seeded language list", "count", len(defaultLanguages))
	}

	svc, err := newServices(v)
	if err != nil {
		return err
	}
	if err := svc.client.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	var redisClient *redis.Client
	if addr := v.GetString("redis-addr"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		defer redisClient.Close()
	}
	tests := cache.New(redisClient, db, v.GetDuration("cache-ttl"), slog.Default())
	if err := tests.Ping(context.Background()); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	h := handler.New(db, tests, svc.assembler, svc.evaluator)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(v.GetString("ui-lang")))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"ui_lang", v.GetString("ui-lang"),
		"strategy", svc.assembler.Strategy(),
		"cache", tests.Enabled(),
		"no_delays", v.GetBool("no-delays"),
	)
	return http.ListenAndServe(addr, r)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, err := newServices(v)
	if err != nil {
		return err
	}
	test := svc.assembler.Generate(cmd.Context(), v.GetString("language"), v.GetString("level"))
	return writeJSON(v.GetString("out"), test)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	data, err := os.ReadFile(v.GetString("exercise"))
	if err != nil {
		return fmt.Errorf("read exercise: %w", err)
	}
	var ex model.Exercise
	if err := json.Unmarshal(data, &ex); err != nil {
		return fmt.Errorf("parse exercise: %w", err)
	}
	answers, err := os.ReadFile(v.GetString("answers"))
	if err != nil {
		return fmt.Errorf("read answers: %w", err)
	}

	svc, err := newServices(v)
	if err != nil {
		return err
	}
	ev := svc.evaluator.Evaluate(cmd.Context(), ex, string(answers), v.GetString("language"))
	return writeJSON(v.GetString("out"), ev)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if err := appI18n.Init(v.GetString("ui-lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportEvaluations()
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}
	if err := writeJSON(v.GetString("out"), export); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, appI18n.Tp(cmd.Context(), "TestsExported", export.NumTests))
	return nil
}

// writeJSON writes v indented to path, or to stdout when path is "-".
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
