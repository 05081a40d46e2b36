package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultInstructions = `You're a virtual assistant who helps people improve their resumes.

If a user asks you for a question unrelated to your role, respond with something like, "I can't help you with that."

Ask the user to send a job posting and their resume. They can upload this information as files. If the user has submitted both the job posting and resume information, check how well the resume matches the job posting and make suggestions for changes to better align the resume with the job posting. Your job is to make recommendations for improving the resume to meet the requirements of the job posting.

IMPORTANT: Once you have collected ALL the necessary information from the user:
- Full name (NAME SURNAME)
- Email address
- Phone number
- Profile summary (main strengths, MAX 380 characters)
- Work experience (period, company, position, job description, achievements, metrics)
- Education (period, institution, degree)
- Skills (technical tools, languages with levels)
- Projects (if applicable)

You MUST call the generate_resume_pdf function with all the collected data. Do not ask for additional information if you already have all required fields. After the function executes successfully, inform the user that the PDF resume has been generated and sent to them.`

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	DownloadDir string
	ArtifactDir string
	LogLevel    string

	TelegramToken       string
	TelegramAPI         string
	TelegramSecretToken string
	TelegramWebhookURL  string
	TrustedProxyIP      string
	SendRatePerSecond   float64
	SendBurst           int
	SendRetryBackoffMS  int
	DownloadMaxBytes    int64

	AdminChatIDs  []int64
	AdminListFile string

	WebhookAsync     bool
	WorkerCount      int
	WorkerQueueSize  int
	WebhookBodyLimit int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PresenceTTLSeconds      int
	PresenceMaxSeconds      int
	PresenceIntervalSeconds int

	LLMBaseURL         string
	LLMAPIKey          string
	LLMModel           string
	LLMTranslateModel  string
	LLMTemperature     float64
	LLMInstructions    string
	LLMTimeoutSec      int
	LLMHistoryMessages int
	LLMInlineFileBytes int

	AgentMaxFunctionRounds  int
	AgentMaxTurnDurationSec int

	OrderExtensionDays int

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int
	HeartbeatNotifyAdmin bool

	SweepSchedule       string
	TempFileMaxAgeMin   int
	ArtifactMaxAgeHours int
	LogRetentionDays    int
	HistoryRetentionDay int

	OTLPEndpoint string
	ServiceName  string
}

func FromEnv() Config {
	dataDir := stringOrDefault("FIXFOX_DATA_DIR", "/data")
	dbPath := stringOrDefault("FIXFOX_DB_PATH", filepath.Join(dataDir, "fixfox", "meta.sqlite"))

	return Config{
		Environment: stringOrDefault("FIXFOX_ENV", "development"),
		HTTPAddr:    stringOrDefault("FIXFOX_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		DownloadDir: stringOrDefault("FIXFOX_DOWNLOAD_DIR", filepath.Join(dataDir, "downloads")),
		ArtifactDir: stringOrDefault("FIXFOX_ARTIFACT_DIR", filepath.Join(dataDir, "artifacts")),
		LogLevel:    stringOrDefault("FIXFOX_LOG_LEVEL", "info"),

		TelegramToken:       strings.TrimSpace(os.Getenv("FIXFOX_TELEGRAM_TOKEN")),
		TelegramAPI:         stringOrDefault("FIXFOX_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramSecretToken: strings.TrimSpace(os.Getenv("FIXFOX_TELEGRAM_SECRET_TOKEN")),
		TelegramWebhookURL:  strings.TrimSpace(os.Getenv("FIXFOX_TELEGRAM_WEBHOOK_URL")),
		TrustedProxyIP:      strings.TrimSpace(os.Getenv("FIXFOX_TRUSTED_PROXY_IP")),
		SendRatePerSecond:   floatOrDefault("FIXFOX_SEND_RATE_PER_SECOND", 25),
		SendBurst:           intOrDefault("FIXFOX_SEND_BURST", 5),
		SendRetryBackoffMS:  intOrDefault("FIXFOX_SEND_RETRY_BACKOFF_MS", 500),
		DownloadMaxBytes:    int64(intOrDefault("FIXFOX_DOWNLOAD_MAX_BYTES", 20*1024*1024)),

		AdminChatIDs:  int64ListOrDefault("FIXFOX_ADMIN_CHAT_IDS", nil),
		AdminListFile: strings.TrimSpace(os.Getenv("FIXFOX_ADMIN_LIST_FILE")),

		WebhookAsync:     boolOrDefault("FIXFOX_WEBHOOK_ASYNC", true),
		WorkerCount:      intOrDefault("FIXFOX_WORKER_COUNT", 4),
		WorkerQueueSize:  intOrDefault("FIXFOX_WORKER_QUEUE_SIZE", 200),
		WebhookBodyLimit: int64(intOrDefault("FIXFOX_WEBHOOK_BODY_LIMIT_BYTES", 1<<20)),

		RedisAddr:     strings.TrimSpace(os.Getenv("FIXFOX_REDIS_ADDR")),
		RedisPassword: os.Getenv("FIXFOX_REDIS_PASSWORD"),
		RedisDB:       nonNegativeIntOrDefault("FIXFOX_REDIS_DB", 0),

		PresenceTTLSeconds:      intOrDefault("FIXFOX_PRESENCE_TTL_SECONDS", 60),
		PresenceMaxSeconds:      intOrDefault("FIXFOX_PRESENCE_MAX_SECONDS", 60),
		PresenceIntervalSeconds: intOrDefault("FIXFOX_PRESENCE_INTERVAL_SECONDS", 5),

		LLMBaseURL:         stringOrDefault("FIXFOX_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:          strings.TrimSpace(os.Getenv("FIXFOX_LLM_API_KEY")),
		LLMModel:           stringOrDefault("FIXFOX_LLM_MODEL", "gpt-5-mini"),
		LLMTranslateModel:  stringOrDefault("FIXFOX_LLM_TRANSLATE_MODEL", "gpt-4o-mini"),
		LLMTemperature:     floatOrDefault("FIXFOX_LLM_TEMPERATURE", 1.0),
		LLMInstructions:    stringOrDefault("FIXFOX_LLM_INSTRUCTIONS", defaultInstructions),
		LLMTimeoutSec:      intOrDefault("FIXFOX_LLM_TIMEOUT_SECONDS", 90),
		LLMHistoryMessages: intOrDefault("FIXFOX_LLM_HISTORY_MESSAGES", 40),
		LLMInlineFileBytes: intOrDefault("FIXFOX_LLM_INLINE_FILE_BYTES", 64*1024),

		AgentMaxFunctionRounds:  intOrDefault("FIXFOX_AGENT_MAX_FUNCTION_ROUNDS", 6),
		AgentMaxTurnDurationSec: intOrDefault("FIXFOX_AGENT_MAX_TURN_DURATION_SECONDS", 300),

		OrderExtensionDays: intOrDefault("FIXFOX_ORDER_EXTENSION_DAYS", 7),

		HeartbeatEnabled:     boolOrDefault("FIXFOX_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("FIXFOX_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("FIXFOX_HEARTBEAT_STALE_SECONDS", 120),
		HeartbeatNotifyAdmin: boolOrDefault("FIXFOX_HEARTBEAT_NOTIFY_ADMIN", true),

		SweepSchedule:       stringOrDefault("FIXFOX_SWEEP_SCHEDULE", "*/15 * * * *"),
		TempFileMaxAgeMin:   intOrDefault("FIXFOX_TEMP_FILE_MAX_AGE_MINUTES", 60),
		ArtifactMaxAgeHours: intOrDefault("FIXFOX_ARTIFACT_MAX_AGE_HOURS", 168),
		LogRetentionDays:    intOrDefault("FIXFOX_LOG_RETENTION_DAYS", 30),
		HistoryRetentionDay: intOrDefault("FIXFOX_HISTORY_RETENTION_DAYS", 90),

		OTLPEndpoint: strings.TrimSpace(os.Getenv("FIXFOX_OTLP_ENDPOINT")),
		ServiceName:  stringOrDefault("FIXFOX_SERVICE_NAME", "fixfox-bot"),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func nonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// int64ListOrDefault parses a comma separated list of chat ids, skipping junk entries.
func int64ListOrDefault(name string, fallback []int64) []int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return ParseIDList(value)
}

func ParseIDList(value string) []int64 {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	seen := map[int64]struct{}{}
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		parsed, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil || parsed == 0 {
			continue
		}
		if _, ok := seen[parsed]; ok {
			continue
		}
		seen[parsed] = struct{}{}
		ids = append(ids, parsed)
	}
	return ids
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
