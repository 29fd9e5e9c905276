package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 전역 로거. 초기화 전에는 Nop.
var globalLogger = zap.NewNop()

func L() *zap.Logger { return globalLogger }

// Options 는 LOG_* 환경변수에서 읽는다.
type Options struct {
	Level   zapcore.Level
	Console bool
	File    string // empty disables file output
	Caller  bool
	Format  string // legacy | json | console
}

func OptionsFromEnv(defaultFile string) Options {
	o := Options{
		Level:   parseLevel(getenvDefault("LOG_LEVEL", "info")),
		Console: parseBool(getenvDefault("LOG_TO_CONSOLE", "true")),
		Caller:  parseBool(getenvDefault("LOG_CALLER", "false")),
		Format:  strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy"))),
	}
	if parseBool(getenvDefault("LOG_TO_FILE", "true")) {
		o.File = strings.TrimSpace(getenvDefault("LOG_FILE", defaultFile))
	}
	switch o.Format {
	case "legacy", "json", "console":
	default:
		o.Format = "legacy"
	}
	return o
}

// InitFromEnv 는 바이너리 이름으로 기본 로그 파일(logs/<service>.log)을 정하고 전역 로거를 설정한다.
func InitFromEnv(service string) (*zap.Logger, error) {
	return Init(OptionsFromEnv(filepath.Join("logs", service+".log")), service)
}

// Init builds the tee of console and file cores and installs it globally.
func Init(o Options, service string) (*zap.Logger, error) {
	var cores []zapcore.Core
	if o.Console {
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(os.Stdout), o.Level))
	}
	if o.File != "" {
		w, err := openFile(o.File)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(w), o.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(os.Stdout), o.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	// legacy 포맷은 호출 위치를 항상 찍는다
	if o.Caller || o.Format == "legacy" {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	globalLogger = logger
	return logger, nil
}

// NewForWriter is a single-core logger for tests and tools.
func NewForWriter(w io.Writer, format string, level zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(encoder(format), zapcore.AddSync(w), level))
}

func encoder(format string) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func openFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		if strings.EqualFold(strings.TrimSpace(s), "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return lvl
}

func parseBool(s string) bool { return strings.EqualFold(strings.TrimSpace(s), "true") }

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
