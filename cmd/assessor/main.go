package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/assessor/internal/handler"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/progress"
	"github.com/pavelanni/assessor/internal/questions"
	"github.com/pavelanni/assessor/internal/rendezvous"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessor",
		Short: "Test session server for quizzes, timed drills and couple tests",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
	f.Int("log-max-size", 10, "Maximum log file size in megabytes before rotation")
	f.Int("log-max-backups", 3, "Rotated log files to keep")
	f.Int("log-max-age", 7, "Days to keep rotated log files")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP test server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "assessor.db", "SQLite database for shared results, invitations and the question bank")
	f.String("local-db", "assessor-local.db", "SQLite database for this device's local records")
	f.String("catalog", "", "Directory of test definition JSON files (default: built-in catalog)")
	f.StringSliceP("questions", "q", nil, "Question bank JSON files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default language (en, ru)")
	f.String("question-source", "store", "Where bank-backed tests draw questions from (store, llm)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Int("answer-seconds", 0, "Override the answer window of timed tests in seconds (0 = per test)")
	f.Duration("invite-cooldown", 10*time.Minute, "Minimum time between two emails for the same invitation")
	f.Duration("session-retention", session.DefaultFinishedTTL, "How long finished sessions stay reachable after their last request")
	f.Duration("session-idle", session.DefaultIdleTTL, "How long unfinished sessions are kept without requests")
	f.String("base-url", "http://localhost:8080", "Public URL used in email links")
	f.String("admin-user", "admin", "Username for /admin routes")
	f.String("admin-password", "", "Password for /admin routes (or set ASSESSOR_ADMIN_PASSWORD); admin is disabled when empty")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "assessor.db", "SQLite database path")
	f.String("test-id", "", "Only export results of this test")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-questions FILE...",
		Short: "Import question bank JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "assessor.db", "SQLite database path")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
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

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    v.GetInt("log-max-size"),
			MaxBackups: v.GetInt("log-max-backups"),
			MaxAge:     v.GetInt("log-max-age"),
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	local, err := store.New(v.GetString("local-db"))
	if err != nil {
		return fmt.Errorf("open local database: %w", err)
	}
	defer local.Close()

	if err := importFiles(cmd.Context(), db, v.GetStringSlice("questions")); err != nil {
		return err
	}

	catalog, err := loadCatalog(v.GetString("catalog"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	var bank questions.Bank = db
	switch source := strings.ToLower(v.GetString("question-source")); source {
	case "llm":
		bank = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("drawing bank questions from LLM", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	case "store", "":
		checkBank(cmd.Context(), db, catalog, lang)
	default:
		return fmt.Errorf("unknown question source %q (want store or llm)", source)
	}

	cfg := handler.Config{DefaultLang: lang, AdminUser: v.GetString("admin-user")}
	if pw := v.GetString("admin-password"); pw != "" {
		if cfg.AdminPasswordHash, err = handler.HashPassword(pw); err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
	} else {
		slog.Warn("no admin password set, admin routes are disabled")
	}

	res := results.New(local, db)
	notifier := notify.New(notify.LogTransport{}, v.GetString("base-url"), v.GetDuration("invite-cooldown"), nil)
	rdv := rendezvous.New(db, res, local, notifier, catalog, nil)
	sessions := session.NewManager(session.Deps{
		Questions:    questions.NewSource(catalog, bank),
		Progress:     progress.New(local, nil),
		Results:      res,
		Rendezvous:   rdv,
		AnswerWindow: time.Duration(v.GetInt("answer-seconds")) * time.Second,
	}, session.Expiry{
		Finished: v.GetDuration("session-retention"),
		Idle:     v.GetDuration("session-idle"),
	})
	defer sessions.Close()

	h := handler.New(sessions, catalog, res, rdv, db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx, time.Minute)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"question_source", v.GetString("question-source"),
		"tests", len(catalog.List(lang)),
		"base_url", v.GetString("base-url"),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// checkBank warns about bank-backed tests whose kind has no imported
// questions. Those tests fall back to their built-in questions.
func checkBank(ctx context.Context, db *store.Store, catalog *questions.Catalog, lang string) {
	for _, t := range catalog.List(lang) {
		if t.Origin != model.OriginBank {
			continue
		}
		n, err := db.BankQuestionCount(ctx, t.BankKind)
		if err != nil {
			slog.Warn("count bank questions", "test", t.ID, "kind", t.BankKind, "error", err)
			continue
		}
		if n == 0 {
			slog.Warn("question bank is empty, test will use fallback questions", "test", t.ID, "kind", t.BankKind)
			continue
		}
		slog.Debug("question bank", "test", t.ID, "kind", t.BankKind, "questions", n)
	}
}

func loadCatalog(dir string) (*questions.Catalog, error) {
	if dir == "" {
		return questions.DefaultCatalog()
	}
	return questions.LoadCatalog(os.DirFS(dir))
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAll(cmd.Context(), v.GetString("test-id"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(cmd.Context(), db, args)
}

// importFiles loads question bank files. A file already imported with the
// same content is skipped.
func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, skipped, err := db.ImportBankFile(ctx, filepath.Clean(path), data)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if skipped {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		slog.Info("imported questions", "path", path, "count", n)
	}
	return nil
}
