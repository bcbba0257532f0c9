package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level uictx config.
	WorkspaceDirName = ".uictx"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the UI context server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Browser   BrowserConfig   `yaml:"browser"`
	MCP       MCPConfig       `yaml:"mcp"`
	Selection SelectionConfig `yaml:"selection"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Mangle    MangleConfig    `yaml:"mangle"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// debug | info | warn | error
	Level string `yaml:"level"`
	// json | console
	Format string `yaml:"format"`
	// Output paths; empty means server.log_file in stdio mode and stderr otherwise.
	Output []string `yaml:"output"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the MCP server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Timeout for one accessibility tree capture (e.g., "20s").
	CaptureTimeout string `yaml:"capture_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// SelectionConfig tunes the context selection engine.
type SelectionConfig struct {
	DefaultBudget    int    `yaml:"default_budget"`
	Policy           string `yaml:"policy"`
	MaxTextLength    int    `yaml:"max_text_length"`
	SiblingWindow    int    `yaml:"sibling_window"`
	MaxAncestorDepth int    `yaml:"max_ancestor_depth"`
	// Cap on visit/skip/prune decisions per selection; 0 means unlimited.
	MaxSteps int `yaml:"max_steps"`
	// heuristic | tiktoken
	Estimator string `yaml:"estimator"`
	// BPE encoding for the tiktoken estimator (e.g., "cl100k_base").
	Encoding string `yaml:"encoding"`
	// Deadline for one selection (e.g., "30s").
	Timeout string       `yaml:"timeout"`
	Scorer  ScorerConfig `yaml:"scorer"`
}

// ScorerConfig holds the weighted scorer parameters.
type ScorerConfig struct {
	AnchorScore      float64 `yaml:"anchor_score"`
	DepthDecay       float64 `yaml:"depth_decay"`
	SiblingDecay     float64 `yaml:"sibling_decay"`
	ParentDecay      float64 `yaml:"parent_decay"`
	OffscreenPenalty float64 `yaml:"offscreen_penalty"`
	InteractiveBoost float64 `yaml:"interactive_boost"`
	TextBoost        float64 `yaml:"text_boost"`
}

// RecorderConfig controls traversal session recording.
type RecorderConfig struct {
	// Record every selection, not only those that ask for it.
	Enable   bool   `yaml:"enable"`
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

// MangleConfig controls the embedded deductive engine used for traversal analysis.
type MangleConfig struct {
	Enable         bool   `yaml:"enable"`
	SchemaPath     string `yaml:"schema_path"`
	DisableBuiltin bool   `yaml:"disable_builtin_rules"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "uicontext-mcp",
			Version: "0.1.0",
			LogFile: "uicontext-mcp.log",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Browser: BrowserConfig{
			AutoStart:                false,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			CaptureTimeout:           "20s",
			SessionStore:             "sessions.json",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Selection: SelectionConfig{
			DefaultBudget:    2000,
			Policy:           "prune",
			MaxTextLength:    2000,
			SiblingWindow:    3,
			MaxAncestorDepth: 2,
			MaxSteps:         0,
			Estimator:        "heuristic",
			Encoding:         "cl100k_base",
			Timeout:          "30s",
			Scorer: ScorerConfig{
				AnchorScore:      1000,
				DepthDecay:       0.8,
				SiblingDecay:     0.7,
				ParentDecay:      0.5,
				OffscreenPenalty: 0.25,
				InteractiveBoost: 1.2,
				TextBoost:        1.1,
			},
		},
		Recorder: RecorderConfig{
			Enable:   false,
			Dir:      "data/traversals",
			MaxFiles: 20,
		},
		Mangle: MangleConfig{
			Enable:     true,
			SchemaPath: "schemas/traversal.mg",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .uictx/config.yaml file.
// Returns the workspace root directory (parent of .uictx/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .uictx/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .uictx/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	// Create directory structure
	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write template config
	templateConfig := `# uictx project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# selection:
#   default_budget: 1500
#   policy: prune        # prune | skip
#   estimator: tiktoken  # heuristic | tiktoken
#   sibling_window: 3

# recorder:
#   enable: true
#   dir: "data/traversals"

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, sessions, traversals) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	return c.Selection.Validate()
}

// Validate checks the selection section.
func (s SelectionConfig) Validate() error {
	if s.DefaultBudget <= 0 {
		return errors.New("selection.default_budget must be positive")
	}
	switch strings.ToLower(s.Policy) {
	case "", "prune", "skip":
	default:
		return fmt.Errorf("selection.policy %q must be prune or skip", s.Policy)
	}
	switch strings.ToLower(s.Estimator) {
	case "", "heuristic", "tiktoken":
	default:
		return fmt.Errorf("selection.estimator %q must be heuristic or tiktoken", s.Estimator)
	}
	if s.MaxSteps < 0 {
		return errors.New("selection.max_steps must not be negative")
	}
	w := s.Scorer
	for name, v := range map[string]float64{
		"anchor_score":      w.AnchorScore,
		"depth_decay":       w.DepthDecay,
		"sibling_decay":     w.SiblingDecay,
		"parent_decay":      w.ParentDecay,
		"offscreen_penalty": w.OffscreenPenalty,
		"interactive_boost": w.InteractiveBoost,
		"text_boost":        w.TextBoost,
	} {
		if v < 0 {
			return fmt.Errorf("selection.scorer.%s must not be negative", name)
		}
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// GetCaptureTimeout returns the parsed accessibility capture timeout with a sane default.
func (b BrowserConfig) GetCaptureTimeout() time.Duration {
	return parseDuration(b.CaptureTimeout, 20*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true // default to headless
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetTimeout returns the parsed selection deadline with a sane default.
func (s SelectionConfig) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, 30*time.Second)
}

// GetMetricsPath returns the HTTP path for the metrics handler.
func (m MetricsConfig) GetMetricsPath() string {
	if m.Path == "" {
		return "/metrics"
	}
	return m.Path
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
