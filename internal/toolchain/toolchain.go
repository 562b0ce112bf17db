// Package toolchain reports the os/arch pair a Go toolchain targets.
package toolchain

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidPlatform is returned for a malformed "os/arch" string.
var ErrInvalidPlatform = errors.New("invalid platform")

// Platform is a target operating system and architecture.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Native returns the platform this binary runs on.
func Native() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// ParsePlatform parses "os/arch".
func ParsePlatform(s string) (Platform, error) {
	osName, arch, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || osName == "" || arch == "" || strings.ContainsAny(arch, "/ \t") || strings.ContainsAny(osName, " \t") {
		return Platform{}, fmt.Errorf("%w: %q, want os/arch", ErrInvalidPlatform, s)
	}
	return Platform{OS: osName, Arch: arch}, nil
}

// Toolchain queries the go command for its target platform.
type Toolchain struct {
	goBin  string
	lookup func(string) (string, bool)
	log    zerolog.Logger
}

// New creates a toolchain query. lookup reads environment variables; GOOS and
// GOARCH found there are treated as cross-compilation targets.
func New(goBin string, lookup func(string) (string, bool), log zerolog.Logger) *Toolchain {
	if goBin == "" {
		goBin = "go"
	}
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Toolchain{goBin: goBin, lookup: lookup, log: log}
}

// Platform returns the build host as "os/arch". An explicit target wins,
// then GOOS/GOARCH from the environment, then `go env`, then the native
// platform.
func (tc *Toolchain) Platform(target string) (string, error) {
	if target != "" {
		p, err := ParsePlatform(target)
		if err != nil {
			return "", err
		}
		return p.String(), nil
	}

	p, err := tc.goEnv()
	if err != nil {
		tc.log.Warn().Err(err).Msg("go env unavailable, using native platform")
		p = Native()
	}

	if goos, ok := tc.lookup("GOOS"); ok && goos != "" {
		p.OS = goos
	}
	if goarch, ok := tc.lookup("GOARCH"); ok && goarch != "" {
		p.Arch = goarch
	}

	tc.log.Debug().Str("platform", p.String()).Msg("resolved build host")
	return p.String(), nil
}

func (tc *Toolchain) goEnv() (Platform, error) {
	cmd := exec.Command(tc.goBin, "env", "GOOS", "GOARCH")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Platform{}, fmt.Errorf("running %s env: %w: %s", tc.goBin, err, strings.TrimSpace(stderr.String()))
	}
	return parseGoEnv(stdout.String())
}

func parseGoEnv(out string) (Platform, error) {
	lines := strings.Fields(out)
	if len(lines) != 2 {
		return Platform{}, fmt.Errorf("%w: unexpected go env output %q", ErrInvalidPlatform, out)
	}
	return Platform{OS: lines[0], Arch: lines[1]}, nil
}
