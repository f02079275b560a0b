package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New 按配置构造服务统一使用的 logger。format 为 text 时便于本地调试。
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Discard 测试用，丢弃所有输出。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
