// Package inventory answers which required OS packages are missing on the host.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/camctl/internal/tools"
	"github.com/rs/zerolog/log"
)

var ErrCommandFailed = errors.New("inventory: package query failed")

// requirements is what camera-streamer needs to build on Raspberry Pi OS.
var requirements = []string{
	"libavformat-dev",
	"libcamera-dev",
	"liblivemedia-dev",
	"libjpeg-dev",
	"cmake",
	"libboost-program-options-dev",
	"libdrm-dev",
	"libexif-dev",
}

// Requirements returns a copy of the fixed requirement list.
func Requirements() []string {
	return append([]string(nil), requirements...)
}

// DefaultQuery lists installed package names, one per line.
var DefaultQuery = tools.Command{
	Name: "dpkg-query",
	Args: []string{"-f", "${Package}\n", "-W"},
}

// Missing is the outcome of an inventory check. Known is false when the
// package database could not be queried; Packages is then meaningless.
type Missing struct {
	Packages []string
	Known    bool
}

// Unknown is the sentinel for a failed inventory query.
func Unknown() Missing {
	return Missing{}
}

// None reports a known, empty result.
func (m Missing) None() bool {
	return m.Known && len(m.Packages) == 0
}

// MarshalJSON renders unknown as null and known-empty as [].
func (m Missing) MarshalJSON() ([]byte, error) {
	if !m.Known {
		return []byte("null"), nil
	}
	pkgs := m.Packages
	if pkgs == nil {
		pkgs = []string{}
	}
	return json.Marshal(pkgs)
}

func (m *Missing) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*m = Unknown()
		return nil
	}
	var pkgs []string
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return err
	}
	if pkgs == nil {
		pkgs = []string{}
	}
	*m = Missing{Packages: pkgs, Known: true}
	return nil
}

// Inventory queries the package database through a Runner.
type Inventory struct {
	runner       tools.Runner
	query        tools.Command
	requirements []string
}

// Config wires an Inventory. Zero values fall back to dpkg-query and the
// built-in requirement list.
type Config struct {
	Runner       tools.Runner
	Query        tools.Command
	Requirements []string
}

func New(cfg Config) *Inventory {
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	query := cfg.Query
	if strings.TrimSpace(query.Name) == "" {
		query = DefaultQuery
	}
	reqs := normalize(cfg.Requirements)
	if len(reqs) == 0 {
		reqs = Requirements()
	}
	return &Inventory{
		runner:       runner,
		query:        query,
		requirements: reqs,
	}
}

// Requirements returns the list this inventory checks against.
func (inv *Inventory) Requirements() []string {
	return append([]string(nil), inv.requirements...)
}

// ListInstalled returns one trimmed package name per output line.
func (inv *Inventory) ListInstalled(ctx context.Context) ([]string, error) {
	res, err := tools.Exec(ctx, inv.runner, inv.query, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	installed := make([]string, 0, len(res.Stdout))
	for _, line := range res.Stdout {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		installed = append(installed, name)
	}
	return installed, nil
}

// Missing composes ListInstalled and ComputeMissing. A failed query is logged
// and reported as Unknown, never as an empty list.
func (inv *Inventory) Missing(ctx context.Context) Missing {
	installed, err := inv.ListInstalled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("unable to get package list")
		return Unknown()
	}
	missing := ComputeMissing(inv.requirements, installed)
	log.Debug().Strs("missing", missing).Msg("identified missing packages")
	return Missing{Packages: missing, Known: true}
}

// ComputeMissing returns every element of requirements absent from
// installed, in requirement order. The result is never nil.
func ComputeMissing(requirements, installed []string) []string {
	have := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		have[name] = struct{}{}
	}
	missing := make([]string, 0)
	for _, pkg := range requirements {
		if _, ok := have[pkg]; !ok {
			missing = append(missing, pkg)
		}
	}
	return missing
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
