package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func git(t *testing.T, dir string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_NOSYSTEM=1",
		"HOME="+dir,
	)
	cmd.Env = append(cmd.Env, env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupProject creates a repository with a tagged release commit and a
// recipe pinning it. It returns the repo dir, recipe path and full revision.
func setupProject(t *testing.T) (string, string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	dir := t.TempDir()
	git(t, dir, nil, "init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	git(t, dir, nil, "add", "main.go")
	git(t, dir, []string{
		"GIT_AUTHOR_DATE=2025-08-01T09:00:00+02:00",
		"GIT_COMMITTER_DATE=2025-08-05T10:00:00-04:00",
	}, "commit", "-q", "-m", "release")
	git(t, dir, nil, "tag", "v0.20250805.0")
	rev := git(t, dir, nil, "rev-parse", "HEAD")

	recipe := `name: demo
license: MIT
stable:
  url: https://example.com/demo.git
  tag: v0.20250805.0
  revision: ` + rev + `
head:
  url: https://example.com/demo.git
  branch: main
build:
  command: [sh, -c, 'echo "$BUILD_ID $BUILD_TIME $BUILD_HOST $1" > stamp.txt', sh, "{{.Version}}"]
`
	recipePath := filepath.Join(t.TempDir(), "demo.yml")
	if err := os.WriteFile(recipePath, []byte(recipe), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, recipePath, rev
}

func TestResolve_Release(t *testing.T) {
	dir, recipePath, _ := setupProject(t)

	// Act
	stdout, stderr, err := execute(t, "resolve", "-C", dir, "-r", recipePath, "--target", "linux/arm64")

	// Assert
	if err != nil {
		t.Fatalf("resolve error = %v\n%s", err, stderr)
	}
	want := "BUILD_ID=0.20250805.0\nBUILD_TIME=2025-08-05T14:00:00Z\nBUILD_HOST=linux/arm64\n"
	if stdout != want {
		t.Errorf("resolve output =\n%s\nwant:\n%s", stdout, want)
	}

	again, _, err := execute(t, "resolve", "-C", dir, "-r", recipePath, "--target", "linux/arm64")
	if err != nil {
		t.Fatalf("second resolve error = %v", err)
	}
	if again != stdout {
		t.Errorf("release metadata not reproducible:\n%s\nvs\n%s", again, stdout)
	}
}

func TestResolve_ReleaseIgnoresNewCommits(t *testing.T) {
	dir, recipePath, _ := setupProject(t)
	git(t, dir, []string{"GIT_COMMITTER_DATE=2026-02-01T12:00:00Z"}, "commit", "-q", "--allow-empty", "-m", "later")

	stdout, stderr, err := execute(t, "resolve", "-C", dir, "-r", recipePath, "--target", "linux/amd64", "-f", "make")
	if err != nil {
		t.Fatalf("resolve error = %v\n%s", err, stderr)
	}
	want := "BUILD_ID=0.20250805.0 BUILD_TIME=2025-08-05T14:00:00Z BUILD_HOST=linux/amd64\n"
	if stdout != want {
		t.Errorf("resolve output = %q, want %q", stdout, want)
	}
}

func TestResolve_Head(t *testing.T) {
	dir, recipePath, rev := setupProject(t)

	stdout, stderr, err := execute(t, "resolve", "--head", "-C", dir, "-r", recipePath, "--target", "darwin/arm64", "-f", "json")
	if err != nil {
		t.Fatalf("resolve error = %v\n%s", err, stderr)
	}
	for _, want := range []string{
		`"build_id": "` + rev[:8] + `"`,
		`"build_time": "2025-08-05T14:00:00Z"`,
		`"build_host": "darwin/arm64"`,
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("resolve output %s missing %s", stdout, want)
		}
	}
}

func TestResolve_WithoutRecipe(t *testing.T) {
	dir, _, _ := setupProject(t)

	stdout, stderr, err := execute(t, "resolve", "-C", dir, "--tag", "v0.20250805.0", "--target", "linux/amd64", "-f", "ldflags", "--ldflags-pkg", "example.com/demo/version")
	if err != nil {
		t.Fatalf("resolve error = %v\n%s", err, stderr)
	}
	want := "-X example.com/demo/version.buildID=0.20250805.0 -X example.com/demo/version.buildTime=2025-08-05T14:00:00Z -X example.com/demo/version.buildHost=linux/amd64\n"
	if stdout != want {
		t.Errorf("resolve output = %q, want %q", stdout, want)
	}
}

func TestResolve_UnknownBranchFails(t *testing.T) {
	dir, _, _ := setupProject(t)

	stdout, _, err := execute(t, "resolve", "--head", "--branch", "gone", "-C", dir, "--target", "linux/amd64")

	if !errors.Is(err, buildmeta.ErrMetadataUnavailable) {
		t.Fatalf("resolve error = %v, want ErrMetadataUnavailable", err)
	}
	if stdout != "" {
		t.Errorf("resolve printed %q on failure", stdout)
	}
}

func TestResolve_InvalidFormat(t *testing.T) {
	_, stderr, err := execute(t, "resolve", "-f", "toml")
	if err == nil {
		t.Fatal("resolve should reject an unknown format")
	}
	if !strings.Contains(stderr, "toml") {
		t.Errorf("stderr = %q, want the bad format named", stderr)
	}
}

func TestBuild(t *testing.T) {
	dir, recipePath, _ := setupProject(t)

	_, stderr, err := execute(t, "build", "-C", dir, "-r", recipePath, "--target", "linux/amd64")
	if err != nil {
		t.Fatalf("build error = %v\n%s", err, stderr)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stamp.txt"))
	if err != nil {
		t.Fatalf("reading build output: %v", err)
	}
	want := "0.20250805.0 2025-08-05T14:00:00Z linux/amd64 0.20250805.0\n"
	if string(data) != want {
		t.Errorf("build saw %q, want %q", data, want)
	}
}

func TestBuild_DryRun(t *testing.T) {
	dir, recipePath, _ := setupProject(t)

	if _, stderr, err := execute(t, "build", "-n", "-C", dir, "-r", recipePath, "--target", "linux/amd64"); err != nil {
		t.Fatalf("build error = %v\n%s", err, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "stamp.txt")); !os.IsNotExist(err) {
		t.Error("dry run executed the build")
	}
}

func TestBuild_RequiresRecipe(t *testing.T) {
	if _, _, err := execute(t, "build"); err == nil {
		t.Error("build without --recipe should fail")
	}
}

func TestVerify(t *testing.T) {
	dir, recipePath, _ := setupProject(t)
	recordDir := t.TempDir()

	match := filepath.Join(recordDir, "match.env")
	if err := os.WriteFile(match, []byte("BUILD_ID=0.20250805.0\nBUILD_TIME=2025-08-05T14:00:00Z\nBUILD_HOST=linux/amd64\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stdout, stderr, err := execute(t, "verify", "-C", dir, "-r", recipePath, "--target", "linux/amd64", "--against", match)
	if err != nil {
		t.Fatalf("verify error = %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "matches") {
		t.Errorf("verify output = %q", stdout)
	}

	drift := filepath.Join(recordDir, "drift.env")
	if err := os.WriteFile(drift, []byte("BUILD_ID=0.20250805.0\nBUILD_TIME=2025-08-05T10:00:00Z\nBUILD_HOST=linux/amd64\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, stderr, err = execute(t, "verify", "-C", dir, "-r", recipePath, "--target", "linux/amd64", "--against", drift)
	if err == nil {
		t.Fatal("verify should fail on drift")
	}
	if !strings.Contains(stderr, "BUILD_TIME") {
		t.Errorf("stderr = %q, want the differing field", stderr)
	}
}

func TestVerify_RejectsHead(t *testing.T) {
	dir, recipePath, _ := setupProject(t)
	record := filepath.Join(t.TempDir(), "x.env")
	if err := os.WriteFile(record, []byte("BUILD_ID=a\nBUILD_TIME=b\nBUILD_HOST=c\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := execute(t, "verify", "--head", "-C", dir, "-r", recipePath, "--against", record); err == nil {
		t.Error("verify --head should fail")
	}
}

func TestCompare(t *testing.T) {
	a := &buildmeta.Metadata{BuildID: "1", BuildTime: "t", BuildHost: "linux/amd64"}
	b := &buildmeta.Metadata{BuildID: "1", BuildTime: "t", BuildHost: "linux/arm64"}

	if diffs := Compare(a, a); len(diffs) != 0 {
		t.Errorf("Compare(a, a) = %v, want none", diffs)
	}
	diffs := Compare(a, b)
	if len(diffs) != 1 || !strings.HasPrefix(diffs[0], "BUILD_HOST") {
		t.Errorf("Compare(a, b) = %v, want one BUILD_HOST diff", diffs)
	}
}
