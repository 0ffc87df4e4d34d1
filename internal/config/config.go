package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string
	OpsPort   string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration

	TelegramBotToken    string
	TelegramPollTimeout int

	DeepgramAPIKey  string
	DeepgramBaseURL string
	DeepgramTimeout time.Duration

	DialogProvider string

	CozeAPIKey  string
	CozeBotID   string
	CozeBaseURL string
	CozeTimeout time.Duration

	OpenAIAPIKey string
	OpenAIModel  string

	TTSAPIKey       string
	TTSVoiceID      string
	TTSBaseURL      string
	TTSPollInterval time.Duration
	TTSMaxAttempts  int
	TTSTimeout      time.Duration

	FFmpegPath       string
	TranscodeTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		OpsPort:   getEnv("OPS_PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 12*time.Hour),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramPollTimeout: getEnvAsInt("TELEGRAM_POLL_TIMEOUT", 30),

		DeepgramAPIKey:  getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramBaseURL: getEnv("DEEPGRAM_BASE_URL", ""),
		DeepgramTimeout: getEnvAsDuration("DEEPGRAM_TIMEOUT", 30*time.Second),

		DialogProvider: getEnv("DIALOG_PROVIDER", "auto"),

		CozeAPIKey:  getEnv("COZE_API_KEY", ""),
		CozeBotID:   getEnv("COZE_BOT_ID", ""),
		CozeBaseURL: getEnv("COZE_BASE_URL", ""),
		CozeTimeout: getEnvAsDuration("COZE_TIMEOUT", 60*time.Second),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4"),

		TTSAPIKey:       getEnv("VOICE_AI_API_KEY", ""),
		TTSVoiceID:      getEnv("VOICE_ID", ""),
		TTSBaseURL:      getEnv("TTS_BASE_URL", ""),
		TTSPollInterval: getEnvAsDuration("TTS_POLL_INTERVAL", time.Second),
		TTSMaxAttempts:  getEnvAsInt("TTS_MAX_ATTEMPTS", 30),
		TTSTimeout:      getEnvAsDuration("TTS_TIMEOUT", 15*time.Second),

		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		TranscodeTimeout: getEnvAsDuration("TRANSCODE_TIMEOUT", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
