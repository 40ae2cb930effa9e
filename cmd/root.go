package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/llm"
	"github.com/joescharf/cqi/internal/output"
	"github.com/joescharf/cqi/internal/repotree"
	"github.com/joescharf/cqi/internal/reviewer"
	"github.com/joescharf/cqi/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "cqi",
	Short: "Code Quality Intelligence - AI code review for local repositories",
	Long: `cqi analyzes a repository with an AI orchestrator that picks the files
worth reviewing, reviews them, and reports prioritized issues. It can also
answer questions about a codebase in a persistent chat session, and exposes
both workflows over a REST API and an MCP stdio server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/cqi/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "cqi")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CQI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "cqi"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "cqi.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("anthropic.max_tokens", 8192)
	viper.SetDefault("anthropic.temperature", 0.1)
	viper.SetDefault("anthropic.timeout", "120s")
	viper.SetDefault("anthropic.max_retries", 3)
	viper.SetDefault("orchestrator.max_iterations", 10)
	viper.SetDefault("orchestrator.history_messages", 5)
	viper.SetDefault("coordinator.max_parallel", 0)
	viper.SetDefault("reviewer.max_file_bytes", reviewer.DefaultMaxFileBytes)
	viper.SetDefault("reviewer.max_lines", reviewer.DefaultMaxLines)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("repo.max_file_size", repotree.DefaultMaxFileSize)
	viper.SetDefault("repo.include_hidden", false)
	viper.SetDefault("repo.ignore", repotree.DefaultIgnore())
	viper.SetDefault("search.chunk_lines", 60)
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// apiKey reads the Anthropic key from config, falling back to the SDK's
// standard environment variable.
func apiKey() string {
	if key := viper.GetString("anthropic.api_key"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// newLLMClient creates an LLM client from config/env.
func newLLMClient() (*llm.Client, error) {
	key := apiKey()
	if key == "" {
		return nil, fmt.Errorf("no Anthropic API key: set anthropic.api_key, CQI_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY")
	}
	return llm.NewClient(llm.Config{
		APIKey:      key,
		Model:       viper.GetString("anthropic.model"),
		MaxTokens:   viper.GetInt("anthropic.max_tokens"),
		Temperature: viper.GetFloat64("anthropic.temperature"),
		Timeout:     viper.GetDuration("anthropic.timeout"),
		MaxRetries:  viper.GetInt("anthropic.max_retries"),
	}), nil
}

// treeOptions builds repository scan options from config.
func treeOptions() repotree.Options {
	return repotree.Options{
		Ignore:        viper.GetStringSlice("repo.ignore"),
		MaxFileSize:   viper.GetInt64("repo.max_file_size"),
		IncludeHidden: viper.GetBool("repo.include_hidden"),
	}
}

// newService wires the engine from config. The store is optional for
// analysis; without it responses are cached in memory only and chats are
// not persisted.
func newService(requireStore bool) (*engine.Service, store.Store, error) {
	client, err := newLLMClient()
	if err != nil {
		return nil, nil, err
	}

	s, err := getStore()
	if err != nil {
		if requireStore {
			return nil, nil, err
		}
		logger.Warn("running without a store", "error", err)
		s = nil
	}

	var cache reviewer.Cache
	if s != nil {
		cache = s
	}
	rev := reviewer.New(client, cache, reviewer.Config{
		MaxFileBytes: viper.GetInt64("reviewer.max_file_bytes"),
		MaxLines:     viper.GetInt("reviewer.max_lines"),
		CacheTTL:     viper.GetDuration("cache.ttl"),
		DisableCache: !viper.GetBool("cache.enabled"),
		Logger:       logger,
	})

	svc := engine.New(engine.Config{
		Store:           s,
		Completion:      client,
		Reviewer:        rev,
		Querier:         rev,
		Tree:            treeOptions(),
		MaxIterations:   viper.GetInt("orchestrator.max_iterations"),
		HistoryMessages: viper.GetInt("orchestrator.history_messages"),
		MaxParallel:     viper.GetInt("coordinator.max_parallel"),
		ChunkLines:      viper.GetInt("search.chunk_lines"),
		Logger:          logger,
	})
	return svc, s, nil
}
