// Package logger provides the package-level structured logger used across
// the buffer pool and its supporting components.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// Config controls where and how loudly the logger writes.
type Config struct {
	OutputPath string // empty means stdout
	Level      string // debug|info|warn|error
}

type callerFormatter struct{}

func (callerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := fmt.Sprintf("[%s] [%s] (%s) %s\n",
		entry.Time.Format("15:04:05.000"), level, caller(), entry.Message)
	return []byte(msg), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "/logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init configures the package-level logger. Safe to call more than once;
// the last call wins.
func Init(cfg Config) error {
	l := logrus.New()
	l.SetFormatter(callerFormatter{})
	l.SetLevel(parseLevel(cfg.Level))

	if cfg.OutputPath == "" {
		l.SetOutput(os.Stdout)
		Log = l
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.SetOutput(os.Stdout)
		l.Warnf("failed to open log file %s, falling back to stdout: %v", cfg.OutputPath, err)
		Log = l
		return nil
	}
	l.SetOutput(io.MultiWriter(os.Stdout, f))
	Log = l
	return nil
}

func init() {
	l := logrus.New()
	l.SetFormatter(callerFormatter{})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	Log = l
}

func Debugf(format string, args ...interface{}) { Log.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Log.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Log.Errorf(format, args...) }
