// Package logging configures the daemon and CLI's structured logger: a
// logrus.Logger writing a full-timestamp TextFormatter to stderr, plus an
// optional hook mirroring the same records to a log file. Rotation is
// handled externally (spec.md §1 explicitly excludes it from core scope),
// matching the original's loguru rotation= parameter, which this port does
// not reimplement.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stderr at the given level, with an
// additional hook appending the same records to logFile when non-empty.
func New(levelName, logFile string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(parseLevel(levelName))

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		logger.AddHook(&fileHook{writer: f, formatter: &logrus.TextFormatter{FullTimestamp: true}})
	}

	return logger, nil
}

// parseLevel maps the wire-level names (DEBUG/INFO/WARNING/ERROR) to logrus
// levels, aliasing WARNING to logrus.WarnLevel.
func parseLevel(name string) logrus.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARNING", "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fileHook is a minimal logrus.Hook writing every record's formatted bytes
// to an open file, independent of the stderr output.
type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
