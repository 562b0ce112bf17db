package emit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Format selects how metadata is written.
type Format string

const (
	FormatEnv     Format = "env"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatLDFlags Format = "ldflags"
	FormatMake    Format = "make"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatEnv, FormatJSON, FormatYAML, FormatLDFlags, FormatMake}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Emitter writes build metadata.
type Emitter struct {
	w      io.Writer
	format Format
	pkg    string // Go package path for ldflags -X targets
}

// NewEmitter creates a new metadata emitter. pkg is only used by the
// ldflags format and defaults to "main".
func NewEmitter(w io.Writer, format Format, pkg string) *Emitter {
	if pkg == "" {
		pkg = "main"
	}
	return &Emitter{w: w, format: format, pkg: pkg}
}

// Emit writes meta in the emitter's format.
func (e *Emitter) Emit(meta *buildmeta.Metadata) error {
	switch e.format {
	case FormatEnv:
		return e.emitEnv(meta)
	case FormatJSON:
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	case FormatYAML:
		enc := yaml.NewEncoder(e.w)
		enc.SetIndent(2)
		if err := enc.Encode(meta); err != nil {
			return err
		}
		return enc.Close()
	case FormatLDFlags:
		_, err := fmt.Fprintln(e.w, LDFlags(e.pkg, meta))
		return err
	case FormatMake:
		_, err := fmt.Fprintln(e.w, strings.Join(meta.Env(), " "))
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, e.format)
}

func (e *Emitter) emitEnv(meta *buildmeta.Metadata) error {
	for _, kv := range meta.Env() {
		key, value, _ := strings.Cut(kv, "=")
		if _, err := fmt.Fprintf(e.w, "%s=%s\n", key, quoteEnv(value)); err != nil {
			return err
		}
	}
	return nil
}

// LDFlags returns -X assignments for buildID, buildTime and buildHost in pkg.
func LDFlags(pkg string, meta *buildmeta.Metadata) string {
	return fmt.Sprintf("-X %s.buildID=%s -X %s.buildTime=%s -X %s.buildHost=%s",
		pkg, meta.BuildID, pkg, meta.BuildTime, pkg, meta.BuildHost)
}

// quoteEnv quotes values that a shell would split.
func quoteEnv(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"'$`\\#") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`").Replace(v) + `"`
	}
	return v
}
