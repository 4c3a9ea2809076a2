package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultRelevanceTerms anchors the relevance classifier when no terms are configured.
var DefaultRelevanceTerms = []string{
	"Climate Change", "Plants", "Climate", "Technology", "Sustainability",
	"Environmental Volunteering", "Environment", "Climate Tech",
	"Renewable Energy", "Emissions", "Carbon", "Agriculture", "Biodiversity",
	"Environmental Policy", "Climate Awareness", "Climate Advocacy",
	"Reforestation", "Recycling", "Human Centric Design", "Composting", "Wildlife",
	"Earth", "Soil", "Urban Modernization", "Urban Restoration",
	"Forestry", "Ecosystems", "Climate Investments", "Climate Startups",
	"Climate Legislation", "Climate Activism", "Recycled", "Vintage", "Compost",
	"Vegan", "Green", "Sustainable Cities", "Urbanism", "Sustainable Nonprofits",
	"Sustainable Buildings", "Sustainable Design", "Sustainable Architecture",
	"Impact Investing", "Local Produce", "Farmers Market", "Vegan Market", "Vegetables",
	"Plant Based",
}

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch      FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Pipeline   PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Relevance  RelevanceConfig `yaml:"relevance" mapstructure:"relevance"`
	Output     OutputConfig    `yaml:"output" mapstructure:"output"`
	Validation ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Source     SourceConfig    `yaml:"source" mapstructure:"source"`
	Server     ServerConfig    `yaml:"server" mapstructure:"server"`
	Log        LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. The key itself is read from
// the environment variable named by KeyEnv.
type AnthropicConfig struct {
	KeyEnv            string `yaml:"key_env" mapstructure:"key_env"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxPageChars      int    `yaml:"max_page_chars" mapstructure:"max_page_chars"`
}

// APIKey returns the key from the configured environment variable.
func (c AnthropicConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.KeyEnv))
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	TextMode     string `yaml:"text_mode" mapstructure:"text_mode"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Timeout returns the per-request timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PipelineConfig configures the per-URL retry loops.
type PipelineConfig struct {
	FetchAttempts   int `yaml:"fetch_attempts" mapstructure:"fetch_attempts"`
	FetchDelaySecs  int `yaml:"fetch_delay_secs" mapstructure:"fetch_delay_secs"`
	ScrapeAttempts  int `yaml:"scrape_attempts" mapstructure:"scrape_attempts"`
	ExtractAttempts int `yaml:"extract_attempts" mapstructure:"extract_attempts"`
	LLMBackoffSecs  int `yaml:"llm_backoff_secs" mapstructure:"llm_backoff_secs"`
}

// RelevanceConfig configures batch relevance classification.
type RelevanceConfig struct {
	Terms     []string `yaml:"terms" mapstructure:"terms"`
	TermsFile string   `yaml:"terms_file" mapstructure:"terms_file"`
	BatchSize int      `yaml:"batch_size" mapstructure:"batch_size"`
	Attempts  int      `yaml:"attempts" mapstructure:"attempts"`
	DelaySecs int      `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// OutputConfig configures output files.
type OutputConfig struct {
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	ErrorsDir    string   `yaml:"errors_dir" mapstructure:"errors_dir"`
	RatedSources []string `yaml:"rated_sources" mapstructure:"rated_sources"`
	MinRelevance int      `yaml:"min_relevance" mapstructure:"min_relevance"`
}

// ValidateConfig configures field validation.
type ValidateConfig struct {
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// Location resolves the configured timezone.
func (c ValidateConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Timezone)
	}
	return loc, nil
}

// SourceConfig configures input loading.
type SourceConfig struct {
	SchemaPath string `yaml:"schema_path" mapstructure:"schema_path"`
	SkipKnown  bool   `yaml:"skip_known" mapstructure:"skip_known"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EVENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "events.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.key_env", "ANTHROPIC_API_KEY")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("anthropic.max_page_chars", 60000)
	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/50.0.2661.102 Safari/537.36")
	v.SetDefault("fetch.text_mode", "body")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("pipeline.fetch_attempts", 10)
	v.SetDefault("pipeline.fetch_delay_secs", 5)
	v.SetDefault("pipeline.scrape_attempts", 3)
	v.SetDefault("pipeline.extract_attempts", 10)
	v.SetDefault("pipeline.llm_backoff_secs", 30)
	v.SetDefault("relevance.terms", DefaultRelevanceTerms)
	v.SetDefault("relevance.batch_size", 25)
	v.SetDefault("relevance.attempts", 10)
	v.SetDefault("relevance.delay_secs", 2)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.errors_dir", "errors")
	v.SetDefault("output.min_relevance", 1)
	v.SetDefault("validate.timezone", "Local")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: run, serve,
// clean, runs.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "serve":
		if c.Anthropic.APIKey() == "" {
			problems = append(problems, c.Anthropic.KeyEnv+" is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			problems = append(problems, "anthropic.max_tokens must be > 0")
		}
		if c.Relevance.BatchSize < 1 || c.Relevance.BatchSize > 100 {
			problems = append(problems, "relevance.batch_size must be between 1 and 100")
		}
		if c.Pipeline.FetchAttempts < 1 || c.Pipeline.ScrapeAttempts < 1 ||
			c.Pipeline.ExtractAttempts < 1 || c.Relevance.Attempts < 1 {
			problems = append(problems, "attempt counts must be >= 1")
		}
		switch c.Fetch.TextMode {
		case "body", "readability":
		default:
			problems = append(problems, "fetch.text_mode must be body or readability")
		}
		if _, err := c.Validation.Location(); err != nil {
			problems = append(problems, err.Error())
		}
		problems = append(problems, c.storeProblems()...)
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "runs":
		problems = append(problems, c.storeProblems()...)
	case "clean":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
