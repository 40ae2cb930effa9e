package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cqi"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage cqi configuration.

Running bare 'cqi config' is the same as 'cqi config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# cqi configuration
# See: cqi config show (for effective values and sources)

# State/data directory (default: ~/.config/cqi)
# state_dir: {{ .StateDir }}

# SQLite database path for sessions, cache and search index
# db_path: {{ .DBPath }}

anthropic:
  # API key; ANTHROPIC_API_KEY is used when empty
  api_key: ""
  model: "{{ .Model }}"
  max_tokens: {{ .MaxTokens }}
  temperature: {{ .Temperature }}
  timeout: {{ .Timeout }}
  max_retries: {{ .MaxRetries }}

orchestrator:
  # Model calls per run
  max_iterations: {{ .MaxIterations }}
  # Prior chat messages replayed into each chat prompt
  history_messages: {{ .HistoryMessages }}

coordinator:
  # Concurrent file reviews per batch (0 = unlimited)
  max_parallel: {{ .MaxParallel }}

reviewer:
  max_file_bytes: {{ .MaxFileBytes }}
  max_lines: {{ .MaxLines }}

cache:
  enabled: {{ .CacheEnabled }}
  ttl: {{ .CacheTTL }}

repo:
  # Files larger than this are left out of the repository tree
  max_file_size: {{ .MaxFileSize }}
  include_hidden: {{ .IncludeHidden }}
  # Ignore patterns; uncomment to replace the defaults
  # ignore:
{{- range .Ignore }}
  #   - "{{ . }}"
{{- end }}

search:
  chunk_lines: {{ .ChunkLines }}

# REST API port for 'cqi serve'
port: {{ .Port }}
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	Model           string
	MaxTokens       int
	Temperature     float64
	Timeout         string
	MaxRetries      int
	MaxIterations   int
	HistoryMessages int
	MaxParallel     int
	MaxFileBytes    int64
	MaxLines        int
	CacheEnabled    bool
	CacheTTL        string
	MaxFileSize     int64
	IncludeHidden   bool
	Ignore          []string
	ChunkLines      int
	Port            int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		Model:           viper.GetString("anthropic.model"),
		MaxTokens:       viper.GetInt("anthropic.max_tokens"),
		Temperature:     viper.GetFloat64("anthropic.temperature"),
		Timeout:         viper.GetDuration("anthropic.timeout").String(),
		MaxRetries:      viper.GetInt("anthropic.max_retries"),
		MaxIterations:   viper.GetInt("orchestrator.max_iterations"),
		HistoryMessages: viper.GetInt("orchestrator.history_messages"),
		MaxParallel:     viper.GetInt("coordinator.max_parallel"),
		MaxFileBytes:    viper.GetInt64("reviewer.max_file_bytes"),
		MaxLines:        viper.GetInt("reviewer.max_lines"),
		CacheEnabled:    viper.GetBool("cache.enabled"),
		CacheTTL:        viper.GetDuration("cache.ttl").String(),
		MaxFileSize:     viper.GetInt64("repo.max_file_size"),
		IncludeHidden:   viper.GetBool("repo.include_hidden"),
		Ignore:          viper.GetStringSlice("repo.ignore"),
		ChunkLines:      viper.GetInt("search.chunk_lines"),
		Port:            viper.GetInt("port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CQI_STATE_DIR"},
	{Key: "db_path", EnvVar: "CQI_DB_PATH"},
	{Key: "anthropic.model", EnvVar: "CQI_ANTHROPIC_MODEL"},
	{Key: "anthropic.max_tokens", EnvVar: "CQI_ANTHROPIC_MAX_TOKENS"},
	{Key: "anthropic.temperature", EnvVar: "CQI_ANTHROPIC_TEMPERATURE"},
	{Key: "anthropic.timeout", EnvVar: "CQI_ANTHROPIC_TIMEOUT"},
	{Key: "anthropic.max_retries", EnvVar: "CQI_ANTHROPIC_MAX_RETRIES"},
	{Key: "orchestrator.max_iterations", EnvVar: "CQI_ORCHESTRATOR_MAX_ITERATIONS"},
	{Key: "orchestrator.history_messages", EnvVar: "CQI_ORCHESTRATOR_HISTORY_MESSAGES"},
	{Key: "coordinator.max_parallel", EnvVar: "CQI_COORDINATOR_MAX_PARALLEL"},
	{Key: "reviewer.max_file_bytes", EnvVar: "CQI_REVIEWER_MAX_FILE_BYTES"},
	{Key: "reviewer.max_lines", EnvVar: "CQI_REVIEWER_MAX_LINES"},
	{Key: "cache.enabled", EnvVar: "CQI_CACHE_ENABLED"},
	{Key: "cache.ttl", EnvVar: "CQI_CACHE_TTL"},
	{Key: "repo.max_file_size", EnvVar: "CQI_REPO_MAX_FILE_SIZE"},
	{Key: "repo.include_hidden", EnvVar: "CQI_REPO_INCLUDE_HIDDEN"},
	{Key: "search.chunk_lines", EnvVar: "CQI_SEARCH_CHUNK_LINES"},
	{Key: "port", EnvVar: "CQI_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-32s %v  %s\n", k.Key, val, source)
	}

	// The key itself is never printed.
	keySource := "(none)"
	switch {
	case viper.GetString("anthropic.api_key") != "":
		keySource = detectSource("anthropic.api_key", "CQI_ANTHROPIC_API_KEY", fileValues)
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		keySource = "(env: ANTHROPIC_API_KEY)"
	}
	fmt.Fprintf(ui.Out, "  %-32s %s  %s\n", "anthropic.api_key", maskKey(apiKey()), keySource)

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

// maskKey keeps only the last four characters of a secret.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'cqi config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
