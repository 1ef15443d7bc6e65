package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level and optional rotating file output.
type Config struct {
	Level      string
	OutputFile string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logrus logger. When OutputFile is set, output goes to
// both stdout and a size-rotated file.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	})

	if cfg.OutputFile != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	}

	return log
}
