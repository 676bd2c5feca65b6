package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Commander and provider backends.
const (
	CommanderTelegram = "telegram"
	CommanderDummy    = "dummy"
	ProviderOpenAI    = "openai"
	ProviderDummy     = "dummy"
)

// Config is the process-wide configuration. It is loaded once at startup
// and never mutated afterwards.
type Config struct {
	Telegram TelegramConfig
	OpenAI   OpenAIConfig
	Session  SessionConfig
	Features FeaturesConfig
	Bot      BotConfig
	DBPath   string
	Log      LogConfig
}

type TelegramConfig struct {
	Token          string
	APIEndpoint    string
	PollTimeout    int
	SleepSeconds   int
	AllowedUserIDs string
	Debug          bool
}

// RequestTimeout leaves headroom above the long-poll timeout.
func (t TelegramConfig) RequestTimeout() time.Duration {
	return time.Duration(t.PollTimeout+10) * time.Second
}

type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	MaxTokens        int
	Temperature      float32
	NChoices         int
	PresencePenalty  float32
	FrequencyPenalty float32
	RequestTimeout   time.Duration
	ShowUsage        bool
	AssistantPrompt  string
}

type SessionConfig struct {
	MaxHistorySize            int
	MaxConversationAgeMinutes int
	CleanupInterval           time.Duration
}

// MaxAge is the conversation age bound as a duration.
func (s SessionConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxConversationAgeMinutes) * time.Minute
}

type FeaturesConfig struct {
	Completion bool
	Profile    bool
}

type BotConfig struct {
	Commander            string
	Provider             string
	MaxConcurrency       int
	ShutdownGrace        time.Duration
	InstanceID           string
	DummyCommanderScript string
	DummySendScript      string
	DummyProviderScript  string
}

type LogConfig struct {
	Level  string
	Format string
}

// envBindings keeps the plain environment variable names operators already use.
var envBindings = map[string]string{
	"telegram.token":                       "TELEGRAM_BOT_TOKEN",
	"telegram.api_endpoint":                "TELEGRAM_API_ENDPOINT",
	"telegram.poll_timeout":                "TG_TIMEOUT",
	"telegram.sleep_seconds":               "TG_SLEEP_SECONDS",
	"telegram.allowed_user_ids":            "ALLOWED_TELEGRAM_USER_IDS",
	"telegram.debug":                       "TG_DEBUG",
	"openai.api_key":                       "OPENAI_API_KEY",
	"openai.base_url":                      "OPENAI_BASE_URL",
	"openai.model":                         "OPENAI_MODEL",
	"openai.max_tokens":                    "OPENAI_MAX_TOKENS",
	"openai.temperature":                   "OPENAI_TEMPERATURE",
	"openai.n_choices":                     "OPENAI_N_CHOICES",
	"openai.presence_penalty":              "OPENAI_PRESENCE_PENALTY",
	"openai.frequency_penalty":             "OPENAI_FREQUENCY_PENALTY",
	"openai.request_timeout":               "OPENAI_REQUEST_TIMEOUT",
	"openai.show_usage":                    "SHOW_USAGE",
	"openai.assistant_prompt":              "ASSISTANT_PROMPT",
	"session.max_history_size":             "MAX_HISTORY_SIZE",
	"session.max_conversation_age_minutes": "MAX_CONVERSATION_AGE_MINUTES",
	"session.cleanup_interval":             "SESSION_CLEANUP_INTERVAL",
	"features.completion":                  "GPTTG_FEATURE_COMPLETION",
	"features.profile":                     "GPTTG_FEATURE_PROFILE",
	"bot.commander":                        "GPTTG_COMMANDER",
	"bot.provider":                         "GPTTG_MODEL_PROVIDER",
	"bot.max_concurrency":                  "GPTTG_MAX_CONCURRENCY",
	"bot.shutdown_grace":                   "GPTTG_SHUTDOWN_GRACE",
	"bot.instance_id":                      "GPTTG_INSTANCE_ID",
	"bot.dummy_commander_script":           "GPTTG_DUMMY_COMMANDER_SCRIPT",
	"bot.dummy_send_script":                "GPTTG_DUMMY_COMMANDER_SEND_SCRIPT",
	"bot.dummy_provider_script":            "GPTTG_DUMMY_PROVIDER_SCRIPT",
	"db.path":                              "GPTTG_DB_PATH",
	"log.level":                            "GPTTG_LOG_LEVEL",
	"log.format":                           "GPTTG_LOG_FORMAT",
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.sleep_seconds", 1)
	v.SetDefault("telegram.allowed_user_ids", "*")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 1200)
	v.SetDefault("openai.temperature", 1.0)
	v.SetDefault("openai.n_choices", 1)
	v.SetDefault("openai.presence_penalty", 0.0)
	v.SetDefault("openai.frequency_penalty", 0.0)
	v.SetDefault("openai.request_timeout", time.Duration(0))
	v.SetDefault("openai.show_usage", false)
	v.SetDefault("openai.assistant_prompt", "You are a helpful assistant.")

	v.SetDefault("session.max_history_size", 10)
	v.SetDefault("session.max_conversation_age_minutes", 180)
	v.SetDefault("session.cleanup_interval", time.Minute)

	v.SetDefault("features.completion", true)
	v.SetDefault("features.profile", true)

	v.SetDefault("bot.commander", CommanderTelegram)
	v.SetDefault("bot.provider", ProviderOpenAI)
	v.SetDefault("bot.max_concurrency", 4)
	v.SetDefault("bot.shutdown_grace", 10*time.Second)
	v.SetDefault("bot.instance_id", "")
	v.SetDefault("bot.dummy_commander_script", "ok")
	v.SetDefault("bot.dummy_send_script", "ok")
	v.SetDefault("bot.dummy_provider_script", "echo")

	v.SetDefault("db.path", "./gpttg.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// Load reads and validates configuration from v. SetDefaults must have been
// called on v first.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Telegram: TelegramConfig{
			Token:          strings.TrimSpace(v.GetString("telegram.token")),
			APIEndpoint:    strings.TrimSpace(v.GetString("telegram.api_endpoint")),
			PollTimeout:    v.GetInt("telegram.poll_timeout"),
			SleepSeconds:   v.GetInt("telegram.sleep_seconds"),
			AllowedUserIDs: v.GetString("telegram.allowed_user_ids"),
			Debug:          v.GetBool("telegram.debug"),
		},
		OpenAI: OpenAIConfig{
			APIKey:           strings.TrimSpace(v.GetString("openai.api_key")),
			BaseURL:          strings.TrimSpace(v.GetString("openai.base_url")),
			Model:            strings.TrimSpace(v.GetString("openai.model")),
			MaxTokens:        v.GetInt("openai.max_tokens"),
			Temperature:      float32(v.GetFloat64("openai.temperature")),
			NChoices:         v.GetInt("openai.n_choices"),
			PresencePenalty:  float32(v.GetFloat64("openai.presence_penalty")),
			FrequencyPenalty: float32(v.GetFloat64("openai.frequency_penalty")),
			RequestTimeout:   v.GetDuration("openai.request_timeout"),
			ShowUsage:        v.GetBool("openai.show_usage"),
			AssistantPrompt:  v.GetString("openai.assistant_prompt"),
		},
		Session: SessionConfig{
			MaxHistorySize:            v.GetInt("session.max_history_size"),
			MaxConversationAgeMinutes: v.GetInt("session.max_conversation_age_minutes"),
			CleanupInterval:           v.GetDuration("session.cleanup_interval"),
		},
		Features: FeaturesConfig{
			Completion: v.GetBool("features.completion"),
			Profile:    v.GetBool("features.profile"),
		},
		Bot: BotConfig{
			Commander:            strings.ToLower(strings.TrimSpace(v.GetString("bot.commander"))),
			Provider:             strings.ToLower(strings.TrimSpace(v.GetString("bot.provider"))),
			MaxConcurrency:       v.GetInt("bot.max_concurrency"),
			ShutdownGrace:        v.GetDuration("bot.shutdown_grace"),
			InstanceID:           strings.TrimSpace(v.GetString("bot.instance_id")),
			DummyCommanderScript: v.GetString("bot.dummy_commander_script"),
			DummySendScript:      v.GetString("bot.dummy_send_script"),
			DummyProviderScript:  v.GetString("bot.dummy_provider_script"),
		},
		DBPath: strings.TrimSpace(v.GetString("db.path")),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.Bot.InstanceID == "" {
		cfg.Bot.InstanceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required values and bounds.
func (c Config) Validate() error {
	switch c.Bot.Commander {
	case CommanderTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when GPTTG_COMMANDER=telegram")
		}
	case CommanderDummy:
	default:
		return fmt.Errorf("GPTTG_COMMANDER must be %q or %q, got %q", CommanderTelegram, CommanderDummy, c.Bot.Commander)
	}

	if c.Features.Completion {
		switch c.Bot.Provider {
		case ProviderOpenAI:
			if c.OpenAI.APIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required when GPTTG_MODEL_PROVIDER=openai")
			}
		case ProviderDummy:
		default:
			return fmt.Errorf("GPTTG_MODEL_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderDummy, c.Bot.Provider)
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("OPENAI_MODEL must not be empty")
		}
		if c.OpenAI.MaxTokens <= 0 {
			return fmt.Errorf("OPENAI_MAX_TOKENS must be > 0, got %d", c.OpenAI.MaxTokens)
		}
		if c.OpenAI.NChoices <= 0 {
			return fmt.Errorf("OPENAI_N_CHOICES must be > 0, got %d", c.OpenAI.NChoices)
		}
		if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
			return fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2], got %g", c.OpenAI.Temperature)
		}
		if c.OpenAI.RequestTimeout < 0 {
			return fmt.Errorf("OPENAI_REQUEST_TIMEOUT must be >= 0, got %s", c.OpenAI.RequestTimeout)
		}
	}

	if c.Session.MaxHistorySize <= 0 {
		return fmt.Errorf("MAX_HISTORY_SIZE must be > 0, got %d", c.Session.MaxHistorySize)
	}
	if c.Session.MaxConversationAgeMinutes <= 0 {
		return fmt.Errorf("MAX_CONVERSATION_AGE_MINUTES must be > 0, got %d", c.Session.MaxConversationAgeMinutes)
	}
	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", c.Telegram.PollTimeout)
	}
	if c.Telegram.SleepSeconds <= 0 {
		return fmt.Errorf("TG_SLEEP_SECONDS must be > 0, got %d", c.Telegram.SleepSeconds)
	}
	if c.Bot.ShutdownGrace <= 0 {
		return fmt.Errorf("GPTTG_SHUTDOWN_GRACE must be > 0, got %s", c.Bot.ShutdownGrace)
	}
	if c.Bot.MaxConcurrency <= 0 {
		return fmt.Errorf("GPTTG_MAX_CONCURRENCY must be > 0, got %d", c.Bot.MaxConcurrency)
	}
	return nil
}
