package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志配置（与 config.Log 一一对应）
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	loggers   = make(map[string]*logrus.Logger)
	loggersMu sync.Mutex

	opts = Options{Level: "info", Format: "text"}
	out  io.Writer = os.Stdout
)

// Init 根据配置初始化日志输出；已创建的 logger 同步更新
func Init(o Options) error {
	level, err := logrus.ParseLevel(strings.ToLower(o.Level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", o.Level, err)
	}

	var w io.Writer = os.Stdout
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   true,
		})
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	opts = o
	out = w
	for _, l := range loggers {
		configure(l, level)
	}
	return nil
}

// Get 返回指定组件的 logger，每个组件带 component 字段
func Get(name string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	l, ok := loggers[name]
	if !ok {
		l = logrus.New()
		level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			level = logrus.InfoLevel
		}
		configure(l, level)
		loggers[name] = l
	}
	return l.WithField("component", name)
}

func configure(l *logrus.Logger, level logrus.Level) {
	l.SetOutput(out)
	l.SetLevel(level)
	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
}
