package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/amello/sheetgrader/internal/grading"
	"github.com/amello/sheetgrader/internal/handler"
	"github.com/amello/sheetgrader/internal/model"
	"github.com/amello/sheetgrader/internal/store"
	"github.com/amello/sheetgrader/internal/vision"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetgrader",
		Short: "Answer-sheet grading service with a vision-model reader",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `sheetgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "sheetgrader.db", "SQLite database path")
	f.StringSliceP("tests", "t", nil, "Paths to test definition JSON files (repeatable)")
	f.String("vision-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("vision-key", "ollama", "API key for the vision model")
	f.String("vision-model", "llama3.2-vision", "Vision model name")
	f.String("admin-password", "", "Initial admin password (or set SHEETGRADER_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <sheet-image>",
		Short: "Grade a single answer-sheet photo and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.String("db", "sheetgrader.db", "SQLite database path")
	f.String("vision-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("vision-key", "ollama", "API key for the vision model")
	f.String("vision-model", "llama3.2-vision", "Vision model name")
	f.String("release", "", "Release id; its test binding overrides the sheet's printed test id")
	f.String("test", "", "Test id to grade against, overriding the sheet's printed test id")
	f.String("student", "", "Student id to attach to the saved result")
	f.Bool("save", false, "Persist the result after grading")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all graded results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "sheetgrader.db", "SQLite database path")
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

	v.SetEnvPrefix("SHEETGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("sheetgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/sheetgrader")
	v.AddConfigPath("/etc/sheetgrader")
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
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin account if no graders exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadTests(db, v.GetStringSlice("tests")); err != nil {
		return fmt.Errorf("load tests: %w", err)
	}

	visionClient := vision.New(
		v.GetString("vision-url"),
		v.GetString("vision-key"),
		v.GetString("vision-model"),
	)
	if err := visionClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("vision health check: %w", err)
	}
	slog.Info("vision endpoint OK", "url", v.GetString("vision-url"), "model", v.GetString("vision-model"))

	svc := grading.NewService(db, db, visionClient)
	h := handler.New(db, svc)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"vision_url", v.GetString("vision-url"),
		"vision_model", v.GetString("vision-model"),
	)
	return http.ListenAndServe(addr, r)
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read sheet image: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	visionClient := vision.New(
		v.GetString("vision-url"),
		v.GetString("vision-key"),
		v.GetString("vision-model"),
	)
	svc := grading.NewService(db, db, visionClient)

	grade, err := svc.GradeSheetImage(context.Background(),
		image, v.GetString("release"), v.GetString("test"))
	if err != nil {
		return fmt.Errorf("grade sheet: %w", err)
	}

	if v.GetBool("save") {
		var studentID *string
		if sid := v.GetString("student"); sid != "" {
			studentID = &sid
		}
		result, err := svc.SaveResult(*grade, studentID)
		if err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		slog.Info("saved result", "result_id", result.ID, "score", result.Score)
	}

	data, err := json.MarshalIndent(grade, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAllResults()
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

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadTests imports canonical test definitions from JSON files. A file whose
// content hash matches its last import is skipped; a changed file is skipped
// with a warning, since rewriting a test would orphan already-graded results.
func loadTests(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("tests file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("tests file changed since last import, skipping to avoid breaking existing results",
				"path", path)
			continue
		}

		var imports []model.TestImport
		if err := json.Unmarshal(data, &imports); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, ti := range imports {
			test := buildTest(ti)
			if err := db.CreateTest(test); err != nil {
				return fmt.Errorf("insert test from %s: %w", path, err)
			}
			slog.Info("imported test", "id", test.ID, "title", test.Title, "questions", len(test.Questions))
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
	}

	return nil
}

// buildTest assigns ids and positions to an imported test definition.
func buildTest(ti model.TestImport) model.Test {
	test := model.Test{ID: uuid.NewString(), Title: ti.Title, CreatedAt: time.Now()}
	for i, qi := range ti.Questions {
		q := model.Question{
			ID:       uuid.NewString(),
			TestID:   test.ID,
			Position: i + 1,
			Content:  qi.Content,
		}
		for _, oi := range qi.Options {
			q.Options = append(q.Options, model.Option{
				ID:         uuid.NewString(),
				QuestionID: q.ID,
				Key:        oi.Key,
				IsCorrect:  oi.IsCorrect,
			})
		}
		test.Questions = append(test.Questions, q)
	}
	return test
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.GraderCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or SHEETGRADER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateGrader(model.Grader{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin account: %w", err)
	}

	slog.Info("seeded default admin account", "username", "admin")
	return nil
}
