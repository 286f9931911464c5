package logging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kuryecini/kuryecini-edge/internal/config"
	"github.com/kuryecini/kuryecini-edge/internal/version"
)

const (
	serviceName = "kuryecini-edge"
	redacted    = "REDACTED"
)

// InitLogger 按全局配置构建 JSON 日志。日志文件不可写时退回 stdout，
// 并在退回后的输出里记一条 logger_fallback。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	out, fallbackErr := openOutput(cfg)
	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
	}

	logger := &logrus.Logger{
		Out:       out,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	logger.AddHook(serviceHook{cacheName: version.CacheName()})
	logger.AddHook(redactHook{})

	// 第三方库直接使用 logrus 标准 logger，保持同样的格式与输出。
	std := logrus.StandardLogger()
	std.SetFormatter(logger.Formatter)
	std.SetOutput(out)
	std.SetLevel(level)

	if fallbackErr != nil {
		logger.WithError(fallbackErr).WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn("logger_fallback")
	}
	return logger, nil
}

// ApplyLevel 在配置热加载后调整日志级别；输出目标只在启动时决定。
func ApplyLevel(logger *logrus.Logger, cfg config.GlobalConfig) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("无法解析日志级别: %w", err)
	}
	if logger.GetLevel() == level {
		return nil
	}
	logger.SetLevel(level)
	logrus.SetLevel(level)
	logger.WithFields(logrus.Fields{
		"action": "reload",
		"level":  level.String(),
	}).Info("log_level_changed")
	return nil
}

// openOutput 返回 stdout 或按大小滚动的日志文件。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// serviceHook 给每条日志补上服务名、构建版本与构建期缓存名。
type serviceHook struct {
	cacheName string
}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	setDefault(entry.Data, "service", serviceName)
	setDefault(entry.Data, "build", version.Version)
	setDefault(entry.Data, "build_cache", h.cacheName)
	return nil
}

func setDefault(data logrus.Fields, key string, value interface{}) {
	if _, ok := data[key]; !ok {
		data[key] = value
	}
}

// urlFields 是可能带凭据的 URL 字段。
var urlFields = []string{"url", "upstream"}

// secretParams 中的查询参数值不写入日志，比较时忽略大小写。
var secretParams = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"api_key":      {},
	"apikey":       {},
	"key":          {},
	"password":     {},
	"secret":       {},
	"signature":    {},
	"session":      {},
}

// redactHook 抹掉 URL 中的 userinfo 与敏感查询参数，以及直接记录的凭据头。
type redactHook struct{}

func (redactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (redactHook) Fire(entry *logrus.Entry) error {
	for _, key := range urlFields {
		if raw, ok := entry.Data[key].(string); ok {
			entry.Data[key] = RedactURL(raw)
		}
	}
	for _, key := range []string{"authorization", "cookie", "set_cookie"} {
		if _, ok := entry.Data[key]; ok {
			entry.Data[key] = redacted
		}
	}
	return nil
}

// RedactURL 返回可安全写入日志的 URL；无法解析时原样返回。
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	changed := false
	if u.User != nil {
		u.User = url.User(redacted)
		changed = true
	}
	if u.RawQuery != "" {
		query := u.Query()
		masked := false
		for name := range query {
			if _, secret := secretParams[strings.ToLower(name)]; secret {
				query[name] = []string{redacted}
				masked = true
			}
		}
		if masked {
			u.RawQuery = query.Encode()
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return u.String()
}
