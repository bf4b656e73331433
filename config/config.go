package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mail-triage/runner"
)

// Config captures all options required to run the triage loop. It is read
// once at startup.
type Config struct {
	ConfigPath string `yaml:"-"`

	Provider      string `yaml:"provider"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	PromptPath    string `yaml:"prompt"`
	GuidelinePath string `yaml:"guideline"`

	AlertWebhook string `yaml:"alert_webhook"`
	AlertKind    string `yaml:"alert_kind"`

	IMAPHost           string `yaml:"imap_host"`
	IMAPPort           int    `yaml:"imap_port"`
	SMTPHost           string `yaml:"smtp_host"`
	SMTPPort           int    `yaml:"smtp_port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	UseTLS             bool   `yaml:"use_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Folder             string `yaml:"folder"`
	Label              string `yaml:"label"`

	PollInterval time.Duration `yaml:"poll_interval"`
	Schedule     string        `yaml:"schedule"`
	MaxMessages  int           `yaml:"max_messages"`
	CallTimeout  time.Duration `yaml:"call_timeout"`

	StateDir      string   `yaml:"state_dir"`
	DryRun        bool     `yaml:"dry_run"`
	Once          bool     `yaml:"once"`
	Headless      bool     `yaml:"headless"`
	MboxPath      string   `yaml:"mbox"`
	Outbox        string   `yaml:"outbox"`
	ExcludeSender []string `yaml:"exclude_sender"`
	StatusAddr    string   `yaml:"status_addr"`

	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := DefaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Optional YAML configuration file")
	flags.String("provider", "gemini", "Classifier backend: gemini, anthropic, openai")
	flags.String("api-key", "", "API key of the classifier backend (falls back to GEMINI_API_KEY, ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	flags.String("model", "", "Model name (defaults to the prompt frontmatter, then the provider default)")
	flags.String("prompt", filepath.Join("agents", "email-support-agent.md"), "Prompt template with optional YAML frontmatter")
	flags.String("guideline", filepath.Join("agents", "support_guideline.md"), "Support guideline passed with every message")
	flags.String("alert-webhook", "", "Discord or Slack webhook for manual review alerts (falls back to DISCORD_WEBHOOK_URL)")
	flags.String("alert-kind", "auto", "Alert channel: auto, discord, slack")
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("smtp-host", "smtp.gmail.com", "SMTP server hostname")
	flags.Int("smtp-port", 587, "SMTP server port (587 STARTTLS, 465 implicit TLS)")
	flags.String("user", "", "Mailbox address used for IMAP and SMTP login (falls back to SUPPORT_EMAIL_ADDRESS)")
	flags.String("password", "", "Mailbox app password (falls back to GMAIL_APP_PASSWORD)")
	flags.Bool("use-tls", true, "Use TLS for IMAP and SMTP")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "Mailbox folder to poll")
	flags.String("label", runner.DefaultLabel, "Label applied to auto-replied messages, empty disables tagging")
	flags.Duration("poll-interval", time.Minute, "Time between poll cycles (falls back to POLL_INTERVAL_SECONDS)")
	flags.String("schedule", "", "Cron expression for poll cycles, overrides --poll-interval")
	flags.Int("max-messages", 10, "Maximum unread messages fetched per cycle (falls back to MAX_EMAILS_PER_POLL)")
	flags.Duration("call-timeout", runner.DefaultCallTimeout, "Timeout for every mailbox, model and alert call")
	flags.String("state-dir", defaultStateDir, "Directory for the processed-message ledger")
	flags.Bool("dry-run", false, "Classify without sending, tagging, marking read or alerting; ledger kept in memory")
	flags.Bool("once", false, "Run a single poll cycle and exit")
	flags.Bool("headless", false, "Never wait for operator input, manual reviews are skipped")
	flags.String("mbox", "", "Replay messages from an mbox file instead of IMAP")
	flags.String("outbox", "", "Append replies to this mbox file instead of sending them (requires --mbox)")
	flags.StringArray("exclude-sender", nil, "Regex block-list applied to sender addresses, in addition to the built-in rules")
	flags.String("status-addr", "", "Listen address of the status endpoint, e.g. 127.0.0.1:8080")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files")

	return nil
}

// LoadConfig builds the Config from flag defaults, the optional YAML file,
// environment variables and explicitly set flags, in increasing precedence.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	if err := applyFlags(flags, &cfg, false); err != nil {
		return Config{}, err
	}

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigPath = configPath
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyFlags(flags, &cfg, true); err != nil {
		return Config{}, err
	}
	if err := applyProviderEnv(flags, &cfg); err != nil {
		return Config{}, err
	}

	normalize(&cfg)
	if cfg.StateDir == "" {
		cfg.StateDir, err = DefaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyFlags copies flag values into cfg. With changedOnly set only flags
// given on the command line are copied.
func applyFlags(flags *pflag.FlagSet, cfg *Config, changedOnly bool) error {
	var errs []error
	skip := func(name string) bool {
		return changedOnly && !flags.Changed(name)
	}
	str := func(name string, dst *string) {
		if skip(name) {
			return
		}
		v, err := flags.GetString(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	integer := func(name string, dst *int) {
		if skip(name) {
			return
		}
		v, err := flags.GetInt(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	boolean := func(name string, dst *bool) {
		if skip(name) {
			return
		}
		v, err := flags.GetBool(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	duration := func(name string, dst *time.Duration) {
		if skip(name) {
			return
		}
		v, err := flags.GetDuration(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	strArray := func(name string, dst *[]string) {
		if skip(name) {
			return
		}
		v, err := flags.GetStringArray(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}

	str("provider", &cfg.Provider)
	str("api-key", &cfg.APIKey)
	str("model", &cfg.Model)
	str("prompt", &cfg.PromptPath)
	str("guideline", &cfg.GuidelinePath)
	str("alert-webhook", &cfg.AlertWebhook)
	str("alert-kind", &cfg.AlertKind)
	str("imap-host", &cfg.IMAPHost)
	integer("imap-port", &cfg.IMAPPort)
	str("smtp-host", &cfg.SMTPHost)
	integer("smtp-port", &cfg.SMTPPort)
	str("user", &cfg.User)
	str("password", &cfg.Password)
	boolean("use-tls", &cfg.UseTLS)
	boolean("insecure-skip-verify", &cfg.InsecureSkipVerify)
	str("folder", &cfg.Folder)
	str("label", &cfg.Label)
	duration("poll-interval", &cfg.PollInterval)
	str("schedule", &cfg.Schedule)
	integer("max-messages", &cfg.MaxMessages)
	duration("call-timeout", &cfg.CallTimeout)
	str("state-dir", &cfg.StateDir)
	boolean("dry-run", &cfg.DryRun)
	boolean("once", &cfg.Once)
	boolean("headless", &cfg.Headless)
	str("mbox", &cfg.MboxPath)
	str("outbox", &cfg.Outbox)
	strArray("exclude-sender", &cfg.ExcludeSender)
	str("status-addr", &cfg.StatusAddr)
	str("log-level", &cfg.LogLevel)
	str("log-dir", &cfg.LogDir)

	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	if v := getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.AlertWebhook = v
	}
	if v := getenv("SUPPORT_EMAIL_ADDRESS"); v != "" {
		cfg.User = v
	}
	if v := getenv("GMAIL_APP_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("POLL_INTERVAL_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL_SECONDS: %w", err)
		}
		cfg.PollInterval = time.Duration(seconds) * time.Second
	}
	if v := getenv("MAX_EMAILS_PER_POLL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_EMAILS_PER_POLL: %w", err)
		}
		cfg.MaxMessages = n
	}
	return nil
}

var apiKeyEnv = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// applyProviderEnv resolves the variables that depend on the final provider.
func applyProviderEnv(flags *pflag.FlagSet, cfg *Config) error {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name, ok := apiKeyEnv[provider]; ok && !flags.Changed("api-key") {
		if v := getenv(name); v != "" {
			cfg.APIKey = v
		}
	}
	if provider == "gemini" && !flags.Changed("model") {
		if v := getenv("GEMINI_MODEL"); v != "" {
			cfg.Model = v
		}
	}
	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func normalize(cfg *Config) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.AlertKind = strings.ToLower(strings.TrimSpace(cfg.AlertKind))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.AlertKind == "" {
		cfg.AlertKind = "auto"
	}
}

func validateConfig(cfg Config) error {
	envName := apiKeyEnv[cfg.Provider]
	if envName == "" {
		return fmt.Errorf("invalid --provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key must be provided via --api-key or %s env var", envName)
	}
	if cfg.PromptPath == "" {
		return fmt.Errorf("--prompt is required")
	}
	if cfg.GuidelinePath == "" {
		return fmt.Errorf("--guideline is required")
	}
	if cfg.AlertWebhook == "" && !cfg.DryRun {
		return fmt.Errorf("alert webhook must be provided via --alert-webhook or DISCORD_WEBHOOK_URL env var")
	}
	switch cfg.AlertKind {
	case "auto", "discord", "slack":
	default:
		return fmt.Errorf("invalid --alert-kind: %s", cfg.AlertKind)
	}

	if cfg.MboxPath == "" {
		if cfg.User == "" {
			return fmt.Errorf("mailbox user must be provided via --user or SUPPORT_EMAIL_ADDRESS env var")
		}
		if cfg.Password == "" {
			return fmt.Errorf("mailbox password must be provided via --password or GMAIL_APP_PASSWORD env var")
		}
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.SMTPHost == "" {
			return fmt.Errorf("--smtp-host is required")
		}
	}
	if cfg.Outbox != "" && cfg.MboxPath == "" {
		return fmt.Errorf("--outbox requires --mbox")
	}

	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("--smtp-port must be between 1 and 65535")
	}
	if cfg.PollInterval < time.Second {
		return fmt.Errorf("--poll-interval must be at least 1s")
	}
	if _, err := runner.ParseSchedule(cfg.Schedule, cfg.PollInterval); err != nil {
		return fmt.Errorf("invalid --schedule: %w", err)
	}
	if cfg.MaxMessages <= 0 {
		return fmt.Errorf("--max-messages must be positive")
	}
	if cfg.CallTimeout <= 0 {
		return fmt.Errorf("--call-timeout must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// DefaultStateDir returns ~/.mail-triage/state.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mail-triage", "state"), nil
}
