// Package builder runs the external build command with build metadata.
package builder

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
)

// Step is one external build invocation.
type Step struct {
	Command []string
	Env     map[string]string
	Dir     string
}

// Vars are the values available to argument templates.
type Vars struct {
	BuildID   string
	BuildTime string
	BuildHost string
	Version   string
}

// Runner executes build steps.
type Runner struct {
	stdout io.Writer
	stderr io.Writer
	dryRun bool
	log    zerolog.Logger
}

// NewRunner creates a new build runner. When dryRun is set, commands are
// logged but not executed.
func NewRunner(stdout, stderr io.Writer, dryRun bool, log zerolog.Logger) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, dryRun: dryRun, log: log}
}

// Run expands the step's arguments against meta and runs it with
// BUILD_ID, BUILD_TIME and BUILD_HOST in its environment.
func (r *Runner) Run(step Step, meta *buildmeta.Metadata, version string) error {
	if len(step.Command) == 0 {
		return fmt.Errorf("empty build command")
	}

	vars := Vars{
		BuildID:   meta.BuildID,
		BuildTime: meta.BuildTime,
		BuildHost: meta.BuildHost,
		Version:   version,
	}
	args, err := Expand(step.Command, vars)
	if err != nil {
		return err
	}
	env := Environ(os.Environ(), step.Env, meta)

	r.log.Info().
		Str("cmd", strings.Join(args, " ")).
		Str("dir", step.Dir).
		Bool("dry_run", r.dryRun).
		Msg("running build")

	if r.dryRun {
		return nil
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = step.Dir
	cmd.Env = env
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", args[0], err)
	}
	return nil
}

// Expand renders each argument as a text/template against vars.
func Expand(command []string, vars Vars) ([]string, error) {
	out := make([]string, 0, len(command))
	for i, arg := range command {
		if !strings.Contains(arg, "{{") {
			out = append(out, arg)
			continue
		}
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parsing argument %q: %w", arg, err)
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, vars); err != nil {
			return nil, fmt.Errorf("expanding argument %q: %w", arg, err)
		}
		out = append(out, sb.String())
	}
	return out, nil
}

// Environ returns base plus the step env and the metadata variables.
// Later entries override earlier ones with the same key.
func Environ(base []string, extra map[string]string, meta *buildmeta.Metadata) []string {
	merged := make(map[string]string, len(base)+len(extra)+3)
	var order []string
	set := func(kv string) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return
		}
		if _, exists := merged[key]; !exists {
			order = append(order, key)
		}
		merged[key] = value
	}

	for _, kv := range base {
		set(kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k + "=" + extra[k])
	}
	for _, kv := range meta.Env() {
		set(kv)
	}

	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+merged[k])
	}
	return env
}
