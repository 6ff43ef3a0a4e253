package events

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Level is a numeric severity understood by the UI.
type Level int

const (
	LevelDebug   Level = 10
	LevelInfo    Level = 20
	LevelWarning Level = 30
	LevelError   Level = 40
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Zerolog maps l onto the nearest zerolog level.
func (l Level) Zerolog() zerolog.Level {
	switch {
	case l >= LevelError:
		return zerolog.ErrorLevel
	case l >= LevelWarning:
		return zerolog.WarnLevel
	case l >= LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
