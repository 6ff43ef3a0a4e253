package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/camctl/internal/streamer"
)

var (
	ErrUnknownCommand = streamer.ErrUnknownCommand
	ErrInvalidPayload = errors.New("jobs: invalid command payload")
)

// requiredFields lists the payload fields each API command must carry.
var requiredFields = map[string][]string{
	string(streamer.OpInstallDependencies): {"password"},
	string(streamer.OpInstallStreamer):     {"password"},
	string(streamer.OpDownloadSource):      {},
	string(streamer.OpUninstallStreamer):   {"password"},
}

// Commands returns the accepted command names with their required fields.
func Commands() map[string][]string {
	out := make(map[string][]string, len(requiredFields))
	for name, fields := range requiredFields {
		out[name] = append([]string{}, fields...)
	}
	return out
}

// CommandNames returns the accepted command names, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(requiredFields))
	for name := range requiredFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type payload struct {
	Password  *string `json:"password"`
	Overwrite bool    `json:"overwrite"`
}

// Decode maps an API command name and its JSON payload onto a streamer
// command. Extra fields, including "command" itself, are ignored.
func Decode(name string, raw json.RawMessage) (streamer.Command, error) {
	name = strings.TrimSpace(name)
	fields, ok := requiredFields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	var p payload
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	for _, field := range fields {
		if field == "password" && p.Password == nil {
			return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidPayload, name, field)
		}
	}

	password := ""
	if p.Password != nil {
		password = *p.Password
	}
	switch streamer.Operation(name) {
	case streamer.OpInstallDependencies:
		return streamer.InstallDependencies{Password: password}, nil
	case streamer.OpInstallStreamer:
		return streamer.InstallStreamer{Password: password}, nil
	case streamer.OpDownloadSource:
		return streamer.DownloadSource{Overwrite: p.Overwrite}, nil
	case streamer.OpUninstallStreamer:
		return streamer.UninstallStreamer{Password: password}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
