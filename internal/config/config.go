// Package config loads the immutable settings document shared by both
// pipeline stages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultFile is looked up in the working directory when no override is set.
	DefaultFile = "appsettings.json"
	// PathEnv overrides the settings document location.
	PathEnv = "SPEECH2TEXT_CONFIG"

	envPrefix = "SPEECH2TEXT"
)

// ErrConfigFile is returned when the settings document is missing or unreadable.
var ErrConfigFile = errors.New("configuration file could not be loaded")

// Configuration holds every option group. It is never mutated after Load.
type Configuration struct {
	Locale  string        `mapstructure:"locale"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Prompts PromptsConfig `mapstructure:"prompts"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// SpeechConfig configures the speech-recognition service.
type SpeechConfig struct {
	SubscriptionKey string `mapstructure:"subscriptionkey" validate:"required"`
	Region          string `mapstructure:"region" validate:"required"`
	Language        string `mapstructure:"language" validate:"required"`
	Provider        string `mapstructure:"provider" validate:"omitempty,oneof=google mock"`
	Endpoint        string `mapstructure:"endpoint"`
	AudioEncoding   string `mapstructure:"audioencoding"`
	SampleRateHz    int    `mapstructure:"sampleratehz" validate:"gte=0"`
	MinSpeakers     int    `mapstructure:"minspeakers" validate:"gte=0"`
	MaxSpeakers     int    `mapstructure:"maxspeakers" validate:"omitempty,gtefield=MinSpeakers"`
	// StreamLimit caps the audio sent on one recognition stream. Zero keeps
	// the backend default.
	StreamLimit time.Duration `mapstructure:"streamlimit" validate:"gte=0"`
}

// OpenAIConfig configures the chat completion endpoint.
type OpenAIConfig struct {
	Endpoint       string        `mapstructure:"endpoint" validate:"required"`
	APIKey         string        `mapstructure:"apikey" validate:"required"`
	DeploymentName string        `mapstructure:"deploymentname" validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// PromptsConfig holds the prompt templates sent with the transcript.
type PromptsConfig struct {
	SystemPrompt string `mapstructure:"systemprompt" validate:"required"`
	// UserPromptTemplate carries one {0} slot for the transcript.
	UserPromptTemplate string `mapstructure:"userprompttemplate" validate:"required,placeholder"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"timeformat"`
}

// MetricsConfig configures the Prometheus textfile written on exit.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfilepath"`
}

// TracingConfig configures the OTLP trace exporter. Empty endpoint disables it.
type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"samplerate"`
}

// KafkaConfig configures pipeline event publishing.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	TopicTranscript string   `mapstructure:"topictranscript"`
	TopicAnalysis   string   `mapstructure:"topicanalysis"`
	Principal       string   `mapstructure:"principal"`
}

// legacyKeys maps the nested Azure:* and AI:* settings layout onto the flat
// groups. A legacy value only fills a key the document does not set itself.
var legacyKeys = map[string]string{
	"azure.speechservice.subscriptionkey": "speech.subscriptionkey",
	"azure.speechservice.region":          "speech.region",
	"azure.openai.endpoint":               "openai.endpoint",
	"azure.openai.apikey":                 "openai.apikey",
	"azure.openai.deploymentname":         "openai.deploymentname",
	"ai.prompts.systemprompt":             "prompts.systemprompt",
	"ai.prompts.userprompttemplate":       "prompts.userprompttemplate",
}

// ResolvePath returns the settings document path, honouring SPEECH2TEXT_CONFIG.
func ResolvePath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultFile
}

// Load reads the settings document at path. A missing document is an error;
// missing individual keys are only reported when a stage validates its group.
// A .env file next to the document is loaded first so secrets can live there.
func Load(path string) (*Configuration, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		v.SetConfigType("json")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}
	applyLegacyKeys(v)

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}
	return &cfg, nil
}

// applyLegacyKeys installs legacy values as defaults so the document's own
// keys and environment overrides still take precedence.
func applyLegacyKeys(v *viper.Viper) {
	for legacy, key := range legacyKeys {
		if v.InConfig(legacy) && !v.InConfig(key) {
			v.SetDefault(key, v.Get(legacy))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("locale", "ja")

	v.SetDefault("speech.subscriptionkey", "")
	v.SetDefault("speech.region", "")
	v.SetDefault("speech.language", "ja-JP")
	v.SetDefault("speech.provider", "google")
	v.SetDefault("speech.endpoint", "")
	v.SetDefault("speech.audioencoding", "")
	v.SetDefault("speech.sampleratehz", 0)
	v.SetDefault("speech.minspeakers", 1)
	v.SetDefault("speech.maxspeakers", 6)
	v.SetDefault("speech.streamlimit", 0)

	v.SetDefault("openai.endpoint", "")
	v.SetDefault("openai.apikey", "")
	v.SetDefault("openai.deploymentname", "")
	v.SetDefault("openai.timeout", 100*time.Second)

	v.SetDefault("prompts.systemprompt", "")
	v.SetDefault("prompts.userprompttemplate", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.timeformat", time.RFC3339)

	v.SetDefault("metrics.textfilepath", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.samplerate", 1.0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topictranscript", "speech2text.transcript")
	v.SetDefault("kafka.topicanalysis", "speech2text.analysis")
	v.SetDefault("kafka.principal", "speech2text")
}
