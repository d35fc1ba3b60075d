package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by TWINLEDGER_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("TWINLEDGER_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// StorageBackend returns postgres or sqlite. Defaults to postgres.
func StorageBackend() string {
	if os.Getenv("STORAGE_BACKEND") == BackendSQLite {
		return BackendSQLite
	}
	return BackendPostgres
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func SQLitePath() string {
	return stringOr("SQLITE_PATH", "twinledger.db")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, gemini, cerebras, mock
func LLMProvider() string {
	return stringOr("LLM_PROVIDER", "openai")
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	return stringOr("EMBEDDING_PROVIDER", "openai")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingURL overrides the OpenAI embeddings endpoint, for compatible servers.
func EmbeddingURL() string {
	return os.Getenv("EMBEDDING_URL")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	return positiveFloat("RATE_LIMIT_RPS", 100)
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return positiveInt("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return stringOr("LOG_LEVEL", "info")
}

// EscalationThreshold is the confidence below which answers go to the owner.
func EscalationThreshold() float64 {
	v, err := strconv.ParseFloat(os.Getenv("ESCALATION_THRESHOLD"), 64)
	if err != nil || v <= 0 || v > 1 {
		return 0.7
	}
	return v
}

func EscalationPriority() int {
	v, err := strconv.Atoi(os.Getenv("ESCALATION_PRIORITY"))
	if err != nil {
		return 100
	}
	return v
}

func EscalationProposeAnswers() bool {
	return boolOr("ESCALATION_PROPOSE_ANSWERS", true)
}

// Confidence evaluator overrides. Zero means "use the evaluator default".

func ConfidenceTopK() int {
	return positiveInt("CONFIDENCE_TOP_K", 0)
}

func ConfidenceDecay() float64 {
	return positiveFloat("CONFIDENCE_DECAY", 0)
}

func ConfidenceSimilarityFloor() float64 {
	return positiveFloat("CONFIDENCE_SIMILARITY_FLOOR", 0)
}

func ConfidenceMinOverlap() float64 {
	return positiveFloat("CONFIDENCE_MIN_OVERLAP", 0)
}

func ConfidenceSimilarityWeight() float64 {
	return positiveFloat("CONFIDENCE_SIMILARITY_WEIGHT", 0)
}

func ConfidenceCoverageWeight() float64 {
	return positiveFloat("CONFIDENCE_COVERAGE_WEIGHT", 0)
}

func RetrievalTopK() int {
	return positiveInt("RETRIEVAL_TOP_K", 5)
}

func LLMTimeout() time.Duration {
	return durationOr("LLM_TIMEOUT", 30*time.Second)
}

func WorkerConcurrency() int {
	return positiveInt("WORKER_CONCURRENCY", 2)
}

func WorkerPollInterval() time.Duration {
	return durationOr("WORKER_POLL_INTERVAL", time.Second)
}

func JobTimeout() time.Duration {
	return durationOr("JOB_TIMEOUT", 5*time.Minute)
}

func JobStaleAfter() time.Duration {
	return durationOr("JOB_STALE_AFTER", 15*time.Minute)
}

func SweeperInterval() time.Duration {
	return durationOr("SWEEPER_INTERVAL", time.Minute)
}

// JobPolicyFile is an optional YAML file of per-job-type retry policies.
func JobPolicyFile() string {
	return os.Getenv("JOB_POLICY_FILE")
}

// NATSURL enables event publishing when set.
func NATSURL() string {
	return os.Getenv("NATS_URL")
}

func NATSSubjectPrefix() string {
	return stringOr("NATS_SUBJECT_PREFIX", "twinledger")
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func positiveFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func durationOr(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func boolOr(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
