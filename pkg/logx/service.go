package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./tasker.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

func (c Config) filePath() string {
	if !c.File.Enabled {
		return ""
	}
	if p := strings.TrimSpace(c.File.Path); p != "" {
		return p
	}
	return defaultFilePath
}

// Service owns the log sinks and rebuilds them when the logging section is
// reloaded. Loggers handed out by it pick up the new sinks immediately.
type Service struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	console  io.Writer

	root atomic.Pointer[zerolog.Logger]
}

// New builds the sinks for cfg. A log file that can't be opened is reported
// through the returned logger and output falls back to the console.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{console: os.Stdout}
	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Error("log file unavailable", Err(err))
	}
	return s, log
}

// Apply switches level and sinks. An open log file is kept when its path is
// unchanged, so reloading only the level doesn't reopen it.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	path := cfg.filePath()
	if path != s.filePath {
		s.closeFileLocked()
		if path != "" {
			f, oerr := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if oerr != nil {
				err = fmt.Errorf("open %s: %w", path, oerr)
			} else {
				s.file, s.filePath = f, path
			}
		}
	}

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleSink(s.console))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(levelOf(cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	return err
}

// Close releases the log file. Later events go to the console only.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	zl := s.root.Load().Output(consoleSink(s.console))
	s.root.Store(&zl)
	return s.closeFileLocked()
}

func (s *Service) closeFileLocked() error {
	f := s.file
	s.file, s.filePath = nil, ""
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleSink(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
