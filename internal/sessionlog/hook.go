package sessionlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// levelFileHook duplicates entries at or above a minimum level into a
// second writer, independent of the logger's primary output.
type levelFileHook struct {
	writer   io.Writer
	minLevel logrus.Level
}

func (h *levelFileHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0)
	for _, lvl := range logrus.AllLevels {
		if lvl <= h.minLevel {
			levels = append(levels, lvl)
		}
	}
	return levels
}

func (h *levelFileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

// ConfigureLogger points log at this session's main.log (all levels,
// alongside stderr) and adds a hook duplicating Warn-and-above entries into
// errors.log. It returns the opened files so the caller can close them on
// shutdown.
func (s *Session) ConfigureLogger(log *logrus.Logger) (mainFile, errorFile *os.File, err error) {
	mainFile, err = os.OpenFile(s.MainLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	errorFile, err = os.OpenFile(s.ErrorLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		mainFile.Close()
		return nil, nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stderr, mainFile))
	log.AddHook(&levelFileHook{writer: errorFile, minLevel: logrus.WarnLevel})
	return mainFile, errorFile, nil
}
