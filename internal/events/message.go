package events

import "time"

const (
	TypeLog = "log"
	TypeJob = "job"
)

// Message is one pushed UI update.
type Message struct {
	Type    string    `json:"type"`
	Content any       `json:"content"`
	Time    time.Time `json:"time"`
}

// LogEntry is the content of a TypeLog message.
type LogEntry struct {
	Level   Level    `json:"level"`
	Message []string `json:"message"`
}

func NewLogMessage(level Level, lines []string) Message {
	return Message{
		Type:    TypeLog,
		Content: LogEntry{Level: level, Message: append([]string(nil), lines...)},
		Time:    time.Now().UTC(),
	}
}
