// Package main is the civicmatch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/civicmatch/internal/cli"
	"github.com/hyperjump/civicmatch/internal/config"
	"github.com/hyperjump/civicmatch/internal/embedding"
	"github.com/hyperjump/civicmatch/internal/indexer"
	"github.com/hyperjump/civicmatch/internal/inference"
	"github.com/hyperjump/civicmatch/internal/language"
	"github.com/hyperjump/civicmatch/internal/models"
	"github.com/hyperjump/civicmatch/internal/profile"
	"github.com/hyperjump/civicmatch/internal/server"
	"github.com/hyperjump/civicmatch/internal/service"
	"github.com/hyperjump/civicmatch/internal/storage"
	"github.com/hyperjump/civicmatch/internal/translate"
	"github.com/hyperjump/civicmatch/internal/vector"
	"github.com/hyperjump/civicmatch/internal/watcher"
	"github.com/hyperjump/civicmatch/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/civicmatch/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "index":
		runIndex()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("civicmatch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger. debugFlag forces debug logging.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (index loads, translation fallbacks, dataset changes)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	history, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open history database", zap.Error(err))
	}
	defer history.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm the corpus so the first chat does not pay for the build. Failures are retried lazily.
	go func() {
		if _, err := components.Service.Init(ctx); err != nil {
			logger.Warn("corpus warm-up failed", zap.Error(err))
		}
	}()

	if cfg.Watch.EnabledOrDefault() {
		w := watcher.NewWatcher(
			cfg.Storage.DatasetPath,
			func(ctx context.Context) {
				if _, swapped, err := components.Service.Reload(ctx); err != nil {
					logger.Warn("dataset reload failed", zap.Error(err))
				} else if swapped {
					logger.Info("dataset reloaded", zap.String("path", cfg.Storage.DatasetPath))
				}
			},
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond),
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			logger.Warn("dataset watcher not started", zap.String("path", cfg.Storage.DatasetPath), zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(components.Service, history, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: civicmatch ask [flags] <grievance text>\n\n")
	fmt.Fprintf(fs.Output(), "The grievance is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  civicmatch ask no water supply in Rajajinagar for three days
  civicmatch ask --output json "garbage not collected"
  civicmatch ask --server "" street light broken   # answer locally without a running server
  civicmatch ask --user-id 42 NOT SOLVED          # escalate (server mode only)
`)
}

// buildQuery joins all positional args with spaces so multi-word grievances
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly from the local index)")
	userID := fs.Int64("user-id", 0, "citizen id recorded in the chat history (server mode)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var result *models.InferenceResult
	if *serverURL != "" {
		resp, err := chatViaHTTP(*serverURL, &models.ChatRequest{UserID: *userID, Message: query})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		result = resp.InferenceResult
		if resp.TicketID != "" && format != cli.OutputJSON {
			fmt.Printf("Ticket: %s\n", resp.TicketID)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		result, err = components.Service.RunInference(context.Background(), query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteInferenceResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func chatViaHTTP(serverURL string, req *models.ChatRequest) (*server.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out server.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.InferenceResult == nil {
		return nil, fmt.Errorf("decode response: empty result")
	}
	return &out, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; when set, asks the running server to reload instead of building locally")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		out, err := reloadViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteJSON(os.Stdout, out)
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	start := time.Now()
	snap, err := components.Service.Init(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	action := "loaded from cache"
	if snap.Rebuilt {
		action = "rebuilt"
	}
	fmt.Printf("Index %s: %d grievance(s), %d department(s) in %s\n",
		action, len(snap.Corpus.Records), len(snap.Corpus.Profiles), time.Since(start).Round(time.Millisecond))
	fmt.Printf("fingerprint: %s\n", snap.Fingerprint)
}

func reloadViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Post(serverURL+"/api/v1/index/reload", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Index service.Status `json:"index"`
	Chats *int64         `json:"chats,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = load the local index)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		if _, err := components.Service.Init(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Index unavailable: %v\n", err)
		}
		status.Index = components.Service.Status()
	}

	switch *outputFormat {
	case "json":
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeStatusText(os.Stdout, &status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func writeStatusText(w io.Writer, status *statusResponse) {
	st := status.Index
	fmt.Fprintf(w, "ready:              %t\n", st.Ready)
	fmt.Fprintf(w, "records:            %d   # grievances in the active snapshot\n", st.Records)
	fmt.Fprintf(w, "index_size:         %d   # vectors in the similarity index\n", st.IndexSize)
	fmt.Fprintf(w, "departments:        %d\n", len(st.Departments))
	if st.IndexType != "" {
		fmt.Fprintf(w, "index_type:         %s\n", st.IndexType)
	}
	if st.Fingerprint != "" {
		fmt.Fprintf(w, "fingerprint:        %s\n", st.Fingerprint)
	}
	if !st.LoadedAt.IsZero() {
		fmt.Fprintf(w, "loaded_at:          %s\n", st.LoadedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "disk_usage_bytes:   %d   # index + metadata + fingerprint\n", st.DiskUsageBytes)
	if status.Chats != nil {
		fmt.Fprintf(w, "chats:              %d\n", *status.Chats)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Store    *indexer.Store
	Engine   *inference.Engine
	Service  *service.Service
}

func (c *Components) Close() {
	if c.Service != nil {
		_ = c.Service.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	indexType := cfg.Vector.IndexType
	if indexType == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not available in this build, falling back to memory index")
		indexType = string(vector.IndexTypeMemory)
	}
	logger.Info("vector index configured",
		zap.String("type", indexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	store := indexer.NewStore(indexer.Paths{
		Dataset:     cfg.Storage.DatasetPath,
		Index:       cfg.Storage.IndexPath,
		Metadata:    cfg.Storage.MetadataPath,
		Fingerprint: cfg.Storage.FingerprintPath,
	}, embedder, indexer.WithLogger(logger), indexer.WithIndexType(indexType))

	translator, err := newTranslator(&cfg.Translation)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize translator: %w", err)
	}
	localizer := translate.NewLocalizer(translator, cfg.Inference.BaseLanguage, cfg.Inference.LocalizeConcurrency, logger)

	engine := inference.NewEngine(embedder, inference.Config{
		TopK:                   cfg.Inference.TopK,
		LowConfidenceThreshold: cfg.Inference.LowConfidenceThreshold,
		BaseLanguage:           cfg.Inference.BaseLanguage,
		SupportedLanguages:     cfg.Inference.SupportedLanguages,
	},
		inference.WithLogger(logger),
		inference.WithDetector(language.NewWhatlangDetector(cfg.Inference.SupportedLanguages)),
		inference.WithLocalizer(localizer),
	)

	svc := service.New(store, profile.NewBuilder(embedder, cfg.Inference.ProfileSampleSize), engine, service.WithLogger(logger))

	return &Components{
		Embedder: embedder,
		Store:    store,
		Engine:   engine,
		Service:  svc,
	}, nil
}

// newTranslator builds the configured translation provider.
func newTranslator(cfg *config.TranslationConfig) (translate.Translator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return translate.Noop{}, nil
	case "libretranslate":
		lt, err := translate.NewLibreTranslate(translate.LibreTranslateConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey(),
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return lt, nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Provider)
	}
}

func printUsage() {
	fmt.Println(`civicmatch - Civic grievance matching and department routing

Usage:
  civicmatch server [flags]         Start the HTTP server
  civicmatch ask [flags] <text>     Match a grievance against past cases
  civicmatch index [flags]          Load or rebuild the grievance index
  civicmatch status [flags]         Show index and history status
  civicmatch version                Show version
  civicmatch help                   Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/civicmatch/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to answer locally.
  --user-id int      Citizen id for the chat history (server mode)
  --output string    Output format: text, compact, or json (default: text)

Index Flags:
  --config string    Config file path
  --server string    Ask a running server to reload instead of building locally

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to load the local index.
  --output string    Output format: text or json (default: text)

Examples:
  civicmatch server
  civicmatch ask no water supply in Rajajinagar
  civicmatch ask --output json "ರಸ್ತೆ ಗುಂಡಿ"
  civicmatch ask --user-id 42 NOT SOLVED
  civicmatch index
  civicmatch status --output json`)
}
