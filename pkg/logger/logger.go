package logger

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Logger
}

var logger *Logger

func Init() *Logger {
	if logger != nil {
		return logger
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := strings.Split(f.File, "/")
			return fmt.Sprintf("%s:%d", filename[len(filename)-1], f.Line), ""
		},
	})

	log.SetReportCaller(true)
	log.SetLevel(logrus.InfoLevel)

	logger = &Logger{log}
	return logger
}

func Get() *Logger {
	if logger == nil {
		return Init()
	}
	return logger
}

func SetLevel(level string) {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Get().SetLevel(logLevel)
}

// ctxFields 从 context 中提取通用字段（request_id / session_id）
func ctxFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}
	if rid, ok := ctx.Value("request_id").(string); ok && rid != "" {
		fields["request_id"] = rid
	}
	if sid, ok := ctx.Value("session_id").(string); ok && sid != "" {
		fields["session_id"] = sid
	}
	return fields
}

// WithFieldsCtx 合并 context 字段与调用方字段
func WithFieldsCtx(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	merged := ctxFields(ctx)
	for k, v := range fields {
		merged[k] = v
	}
	return Get().Logger.WithFields(merged)
}

// kvFields 将变长 key/value 对转换为 logrus.Fields
func kvFields(kv ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields[fmt.Sprintf("%v", kv[len(kv)-1])] = ""
	}
	return fields
}

func Debug(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv...)).Debug(msg)
}

func Info(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv...)).Info(msg)
}

func Warn(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv...)).Warn(msg)
}

func Error(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv...)).Error(msg)
}

func Fatal(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv...)).Fatal(msg)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().Logger.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return Get().Logger.WithError(err)
}
