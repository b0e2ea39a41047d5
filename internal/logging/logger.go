package logging

import (
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const timeFormat = "15:04:05"

// New builds the console logger used before a run directory exists.
func New(level string) arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       timeFormat,
		TextOutput:       true,
		DisableTimestamp: false,
	}).WithLevelFromString(level)
}

// WithRunFile adds a file writer inside the run directory.
func WithRunFile(logger arbor.ILogger, runDir string) arbor.ILogger {
	return logger.WithFileWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeFile,
		FileName:         filepath.Join(runDir, "ui-qa.log"),
		TimeFormat:       timeFormat,
		MaxSize:          20 * 1024 * 1024,
		MaxBackups:       1,
		TextOutput:       true,
		DisableTimestamp: false,
	})
}

// Discard returns a logger with no writers, for tests.
func Discard() arbor.ILogger {
	return arbor.NewLogger()
}
