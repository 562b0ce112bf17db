package emit

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
)

var envLineRe = regexp.MustCompile(`^(?:export\s+)?([A-Z_][A-Z0-9_]*)=(.*)$`)

// ParseEnv reads metadata written in the env format.
func ParseEnv(r io.Reader) (*buildmeta.Metadata, error) {
	meta := &buildmeta.Metadata{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		matches := envLineRe.FindStringSubmatch(line)
		if matches == nil {
			return nil, fmt.Errorf("line %d: malformed entry %q", lineNo, line)
		}
		key := matches[1]
		value, err := unquoteEnv(matches[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		switch key {
		case "BUILD_ID":
			meta.BuildID = value
		case "BUILD_TIME":
			meta.BuildTime = value
		case "BUILD_HOST":
			meta.BuildHost = value
		default:
			return nil, fmt.Errorf("line %d: unknown key %s", lineNo, key)
		}
		seen[key] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	for _, key := range []string{"BUILD_ID", "BUILD_TIME", "BUILD_HOST"} {
		if !seen[key] {
			return nil, fmt.Errorf("missing %s", key)
		}
	}

	return meta, nil
}

func unquoteEnv(v string) (string, error) {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		// Shell-style escapes: \$ and \` are not valid Go escapes.
		inner := strings.NewReplacer(`\$`, `$`, "\\`", "`").Replace(v)
		s, err := strconv.Unquote(inner)
		if err != nil {
			return "", fmt.Errorf("bad quoted value %s: %w", v, err)
		}
		return s, nil
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1], nil
	}
	return v, nil
}
