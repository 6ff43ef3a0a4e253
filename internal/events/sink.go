package events

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives installer log lines. Implementations must be safe for
// concurrent use because stdout and stderr are read on separate goroutines.
type Sink interface {
	Log(level Level, lines ...string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(level Level, lines ...string)

func (f SinkFunc) Log(level Level, lines ...string) { f(level, lines...) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Level, ...string) {})

// SinkConfig wires a DualSink. ConsolePath may be empty to skip the file.
type SinkConfig struct {
	ConsolePath     string
	ConsoleMaxBytes int64
	Hub             *Hub
}

// DualSink writes every line to the console log file and publishes it to
// the hub, mirroring what the UI shows.
type DualSink struct {
	mu      sync.Mutex
	console zerolog.Logger
	file    io.WriteCloser
	hub     *Hub
	closed  bool
}

func NewDualSink(cfg SinkConfig) (*DualSink, error) {
	s := &DualSink{hub: cfg.Hub, console: zerolog.Nop()}
	if cfg.ConsolePath != "" {
		file, err := OpenConsoleFile(cfg.ConsolePath, cfg.ConsoleMaxBytes)
		if err != nil {
			return nil, err
		}
		s.file = file
		s.console = newConsoleLogger(file)
	}
	return s, nil
}

// newConsoleLogger formats lines as "[time] LVL message", the layout
// operators already tail on the board.
func newConsoleLogger(out io.Writer) zerolog.Logger {
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: time.DateTime,
		FormatTimestamp: func(i any) string {
			return "[" + formatTimestamp(i) + "]"
		},
	}
	return zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

func formatTimestamp(i any) string {
	s, ok := i.(string)
	if !ok {
		return ""
	}
	t, err := time.Parse(zerolog.TimeFieldFormat, s)
	if err != nil {
		return s
	}
	return t.Local().Format(time.DateTime)
}

func (s *DualSink) Log(level Level, lines ...string) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	closed := s.closed
	if !closed {
		for _, line := range lines {
			s.console.WithLevel(level.Zerolog()).Msg(line)
		}
	}
	s.mu.Unlock()
	if closed {
		return
	}
	if s.hub != nil {
		s.hub.Publish(NewLogMessage(level, lines))
	}
}

// Close flushes and closes the console file. Later Log calls are dropped.
func (s *DualSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
