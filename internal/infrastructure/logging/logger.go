package logging

import (
	"fmt"
	"io"
	"os"

	"riplimit/internal/config"

	log "github.com/sirupsen/logrus"
)

// Setup 按配置设置全局 logrus 的级别和格式
func Setup(cfg *config.LogConfig) error {
	return configure(log.StandardLogger(), cfg, os.Stdout)
}

func configure(logger *log.Logger, cfg *config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	formatters := map[string]log.Formatter{
		"json": &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"},
		"text": &log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"},
	}
	formatter, ok := formatters[cfg.Format]
	if !ok {
		formatter = formatters["text"]
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	return nil
}
