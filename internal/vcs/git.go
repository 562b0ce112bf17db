// Package vcs queries commit information from a git checkout.
package vcs

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrRefNotFound is returned when a ref does not name a commit in history.
var ErrRefNotFound = errors.New("ref not found")

// RefError reports a ref that git could not resolve.
type RefError struct {
	Ref    string
	Stderr string
}

func (e *RefError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ref %s not found: %s", e.Ref, e.Stderr)
	}
	return fmt.Sprintf("ref %s not found", e.Ref)
}

func (e *RefError) Unwrap() error {
	return ErrRefNotFound
}

// Git runs git commands against a repository directory.
type Git struct {
	dir string
	bin string
}

// NewGit creates a git source for dir. An empty bin uses "git" from PATH.
func NewGit(dir, bin string) *Git {
	if bin == "" {
		bin = "git"
	}
	return &Git{dir: dir, bin: bin}
}

// CommitTime returns the committer date of ref in strict ISO-8601 with the
// commit's original offset.
func (g *Git) CommitTime(ref string) (string, error) {
	if err := g.verify(ref); err != nil {
		return "", err
	}
	out, err := g.run("log", "-1", "--format=%cI", commitish(ref), "--")
	if err != nil {
		return "", fmt.Errorf("reading commit time of %s: %w", ref, err)
	}
	if out == "" {
		return "", &RefError{Ref: ref}
	}
	return out, nil
}

// ShortHash returns the 8-character abbreviated hash of ref.
func (g *Git) ShortHash(ref string) (string, error) {
	if err := g.verify(ref); err != nil {
		return "", err
	}
	out, err := g.run("rev-parse", "--short=8", "--verify", commitish(ref))
	if err != nil {
		return "", fmt.Errorf("reading short hash of %s: %w", ref, err)
	}
	return out, nil
}

// verify checks that ref resolves to a commit before any history query.
func (g *Git) verify(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return &RefError{Ref: ref, Stderr: "invalid ref"}
	}
	_, err := g.run("rev-parse", "--verify", "--quiet", commitish(ref))
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &RefError{Ref: ref, Stderr: stderrOf(err)}
	}
	return err
}

func (g *Git) run(args ...string) (string, error) {
	if g.dir != "" {
		args = append([]string{"-C", g.dir}, args...)
	}
	cmd := exec.Command(g.bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &commandError{args: args, stderr: strings.TrimSpace(stderr.String()), err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func commitish(ref string) string {
	return ref + "^{commit}"
}

type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	if e.stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, e.stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.err)
}

func (e *commandError) Unwrap() error {
	return e.err
}

func stderrOf(err error) string {
	var ce *commandError
	if errors.As(err, &ce) {
		return ce.stderr
	}
	return ""
}
