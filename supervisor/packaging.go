package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Default backend resolution values, matching the shipped backend script.
var (
	defaultInterpreters = []string{"python3", "python"}

	// defaultReadyMarkers match the backend's startup output: its own
	// banner plus the uvicorn readiness lines.
	defaultReadyMarkers = []string{
		"Starting server on port",
		"Uvicorn running on",
		"Application startup complete",
	}
)

// DefaultVersionConstraint gates the interpreter version when the manifest
// does not name one.
const DefaultVersionConstraint = ">= 3.9"

// Manifest describes how to locate and launch the backend. It is read from
// a backend.yaml next to the script.
type Manifest struct {
	// Script is the backend entry point, relative to the manifest when not
	// absolute.
	Script string `yaml:"script"`

	// Interpreters are candidate interpreter names tried in order.
	Interpreters []string `yaml:"interpreters"`

	// Version constrains the interpreter version, semver syntax.
	Version string `yaml:"version"`

	ReadyMarkers []string `yaml:"ready_markers"`
	Port         int      `yaml:"port"`
}

// Backend is a resolved, launchable backend.
type Backend struct {
	Command      string
	Args         []string
	Dir          string
	ReadyMarkers []string
	Port         int
}

// LoadManifest reads and validates a backend manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Script == "" {
		return nil, fmt.Errorf("manifest %s does not name a script", path)
	}

	if len(m.Interpreters) == 0 {
		m.Interpreters = defaultInterpreters
	}
	if m.Version == "" {
		m.Version = DefaultVersionConstraint
	}
	if len(m.ReadyMarkers) == 0 {
		m.ReadyMarkers = defaultReadyMarkers
	}
	return &m, nil
}

// versionRe extracts the numeric version from interpreter --version output,
// e.g. "Python 3.11.4" or "Python 3.13.0rc1".
var versionRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// ResolveBackend locates a usable interpreter for the manifest and returns
// the launchable backend. Every failure is a *SpawnError: resolution
// problems are launch problems as far as callers are concerned.
func ResolveBackend(m *Manifest, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(m.Script); err != nil {
		return nil, &SpawnError{Path: m.Script, Err: err}
	}

	constraint, err := semver.NewConstraint(m.Version)
	if err != nil {
		return nil, &SpawnError{Path: m.Script, Err: fmt.Errorf("invalid version constraint %q: %w", m.Version, err)}
	}

	var lastErr error
	for _, name := range m.Interpreters {
		path, err := exec.LookPath(name)
		if err != nil {
			lastErr = err
			continue
		}

		ver, err := interpreterVersion(path)
		if err != nil {
			logger.Debug("skipping interpreter", "path", path, "error", err)
			lastErr = err
			continue
		}

		if !constraint.Check(ver) {
			logger.Debug("interpreter version rejected",
				"path", path,
				"version", ver.String(),
				"constraint", m.Version)
			lastErr = fmt.Errorf("interpreter %s version %s does not satisfy %q", path, ver, m.Version)
			continue
		}

		logger.Debug("resolved backend interpreter", "path", path, "version", ver.String())
		return &Backend{
			Command:      path,
			Args:         []string{m.Script},
			ReadyMarkers: m.ReadyMarkers,
			Port:         m.Port,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no interpreter candidates configured")
	}
	return nil, &SpawnError{Path: m.Script, Err: fmt.Errorf("no usable interpreter: %w", lastErr)}
}

// interpreterVersion runs `path --version` and parses the reported version.
func interpreterVersion(path string) (*semver.Version, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s --version: %w", path, err)
	}

	match := versionRe.FindString(strings.TrimSpace(string(out)))
	if match == "" {
		return nil, fmt.Errorf("unrecognized version output %q", strings.TrimSpace(string(out)))
	}

	v, err := semver.NewVersion(match)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version %q: %w", match, err)
	}
	return v, nil
}
