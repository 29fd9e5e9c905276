package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string
	IrisEgress  string // http | ws | auto
	EgressDry   bool

	BotPrefix    string
	AllowedRooms []string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string

	GnubgPath string
	GnubgArgs []string

	WorkerCount    int
	WorkerQueues   []string
	SingleTimeout  time.Duration
	BatchTimeout   time.Duration
	ResultTTL      time.Duration
	AdmissionTTL   time.Duration
	MaxAttempts    int
	PollInterval   time.Duration
	HeartbeatEvery time.Duration
	HeartbeatTTL   time.Duration
	ReapInterval   time.Duration
	MaxImages      int

	EngineCommandTimeout time.Duration
	EngineIdleTimeout    time.Duration
	EngineExitTimeout    time.Duration
	EngineSeed           int64

	SyncAttempts int
	SyncDelay    time.Duration

	InputRoot   string
	OutputDir   string
	MessagesDir string
	MetricsAddr string
}

// loadEnvFile reads ENV_FILE (default .env) when present. Real environment variables win.
func loadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("ENV_FILE %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func defaults() *AppConfig {
	return &AppConfig{
		IrisEgress:     "auto",
		WorkerCount:    2,
		WorkerQueues:   []string{"single", "batch"},
		SingleTimeout:  10 * time.Minute,
		BatchTimeout:   60 * time.Minute,
		ResultTTL:      24 * time.Hour,
		MaxAttempts:    2,
		PollInterval:   2 * time.Second,
		HeartbeatEvery: 5 * time.Second,
		ReapInterval:   30 * time.Second,
		MaxImages:      5,
		GnubgPath:      "gnubg",
		SyncAttempts:   10,
		SyncDelay:      500 * time.Millisecond,
		InputRoot:      "input",
		OutputDir:      "output",
		MetricsAddr:    ":9102",
	}
}

// parse fills every key from the environment. Malformed values are errors.
func parse() (*AppConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	cfg := defaults()
	p := &parser{}

	cfg.IrisBaseURL = env("IRIS_BASE_URL")
	cfg.IrisWSURL = env("IRIS_WS_URL")
	if v := env("IRIS_EGRESS"); v != "" {
		cfg.IrisEgress = strings.ToLower(v)
	}
	p.boolean("IRIS_EGRESS_DRYRUN", &cfg.EgressDry)
	cfg.BotPrefix = env("BOT_PREFIX")
	cfg.AllowedRooms = list(env("ALLOWED_ROOMS"))

	cfg.XUserID = env("X_USER_ID")
	cfg.XUserEmail = env("X_USER_EMAIL")
	cfg.XSessionID = env("X_SESSION_ID")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")

	if v := env("GNUBG_PATH"); v != "" {
		cfg.GnubgPath = v
	}
	cfg.GnubgArgs = strings.Fields(env("GNUBG_ARGS"))

	p.integer("WORKER_COUNT", &cfg.WorkerCount)
	if v := list(env("WORKER_QUEUES")); len(v) > 0 {
		cfg.WorkerQueues = v
	}
	p.duration("JOB_TIMEOUT_SINGLE", &cfg.SingleTimeout)
	p.duration("JOB_TIMEOUT_BATCH", &cfg.BatchTimeout)
	p.duration("RESULT_TTL", &cfg.ResultTTL)
	p.duration("ADMISSION_TTL", &cfg.AdmissionTTL)
	p.integer("JOB_MAX_ATTEMPTS", &cfg.MaxAttempts)
	p.duration("POLL_INTERVAL", &cfg.PollInterval)
	p.duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatEvery)
	p.duration("HEARTBEAT_TTL", &cfg.HeartbeatTTL)
	p.duration("REAP_INTERVAL", &cfg.ReapInterval)
	p.integer("NOTIFY_MAX_IMAGES", &cfg.MaxImages)

	p.duration("ENGINE_COMMAND_TIMEOUT", &cfg.EngineCommandTimeout)
	p.duration("ENGINE_IDLE_TIMEOUT", &cfg.EngineIdleTimeout)
	p.duration("ENGINE_EXIT_TIMEOUT", &cfg.EngineExitTimeout)
	p.int64("ENGINE_SEED", &cfg.EngineSeed)

	p.integer("SYNC_ATTEMPTS", &cfg.SyncAttempts)
	p.duration("SYNC_DELAY", &cfg.SyncDelay)

	if v := env("INPUT_ROOT"); v != "" {
		cfg.InputRoot = v
	}
	if v := env("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	cfg.MessagesDir = env("MESSAGES_DIR")
	if v := env("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 3 * cfg.HeartbeatEvery
	}
	// 배치 타임아웃보다 길어야 정상 작업의 슬롯이 먼저 만료되지 않는다
	if cfg.AdmissionTTL <= 0 {
		cfg.AdmissionTTL = cfg.BatchTimeout + 10*time.Minute
	}
	return cfg, nil
}

// Load is the chat bot's configuration.
func Load() (*AppConfig, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if cfg.IrisBaseURL == "" {
		return nil, errors.New("IRIS_BASE_URL is required")
	}
	if cfg.IrisWSURL == "" {
		return nil, errors.New("IRIS_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.IrisEgress {
	case "http", "ws", "auto":
	default:
		return nil, fmt.Errorf("IRIS_EGRESS must be http, ws or auto: %q", cfg.IrisEgress)
	}
	return cfg, nil
}

// LoadWorker is the analysis worker's configuration.
func LoadWorker() (*AppConfig, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.WorkerCount <= 0 {
		return nil, errors.New("WORKER_COUNT must be positive")
	}
	return cfg, nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func list(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parser keeps the first malformed key.
type parser struct{ err error }

func (p *parser) fail(k, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", k, v, err)
	}
}

func (p *parser) integer(k string, dst *int) {
	v := env(k)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = n
}

func (p *parser) int64(k string, dst *int64) {
	v := env(k)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = n
}

func (p *parser) boolean(k string, dst *bool) {
	v := env(k)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = b
}

func (p *parser) duration(k string, dst *time.Duration) {
	v := env(k)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = d
}

// IrisHeaders returns the X-User-* handshake and request headers that are set.
func (c *AppConfig) IrisHeaders() map[string]string {
	h := map[string]string{}
	if c.XUserID != "" {
		h["X-User-Id"] = c.XUserID
	}
	if c.XUserEmail != "" {
		h["X-User-Email"] = c.XUserEmail
	}
	if c.XSessionID != "" {
		h["X-Session-Id"] = c.XSessionID
	}
	return h
}
