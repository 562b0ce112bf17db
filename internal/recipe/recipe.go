package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
)

// ErrInvalidRecipe is returned when a recipe fails validation.
var ErrInvalidRecipe = errors.New("invalid recipe")

// Recipe is a declarative build definition.
type Recipe struct {
	Name     string  `yaml:"name"`
	Desc     string  `yaml:"desc"`
	Homepage string  `yaml:"homepage"`
	License  string  `yaml:"license"`
	Stable   *Stable `yaml:"stable"`
	Head     *Head   `yaml:"head"`
	Build    Build   `yaml:"build"`
}

// Stable pins a release to a tag and revision.
type Stable struct {
	URL          string `yaml:"url"`
	Tag          string `yaml:"tag"`
	Revision     string `yaml:"revision"`
	Version      string `yaml:"version"`       // overrides the version derived from the tag
	VersionRegex string `yaml:"version_regex"` // one capture group applied to the tag
}

// Head tracks a development branch.
type Head struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch"`
}

// Build is the external command that consumes the metadata.
type Build struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
}

var revisionRe = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// Load reads and validates a recipe file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a recipe.
func Parse(r io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rc Recipe
	if err := dec.Decode(&rc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty recipe", ErrInvalidRecipe)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Validate checks the recipe for required fields.
func (rc *Recipe) Validate() error {
	var errs []error
	if strings.TrimSpace(rc.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if rc.Stable == nil && rc.Head == nil {
		errs = append(errs, errors.New("stable or head is required"))
	}
	if rc.Stable != nil {
		if rc.Stable.Tag == "" {
			errs = append(errs, errors.New("stable.tag is required"))
		}
		if rc.Stable.Revision != "" && !revisionRe.MatchString(rc.Stable.Revision) {
			errs = append(errs, fmt.Errorf("stable.revision %q is not a commit hash", rc.Stable.Revision))
		}
		if rc.Stable.VersionRegex != "" {
			re, err := regexp.Compile(rc.Stable.VersionRegex)
			if err != nil {
				errs = append(errs, fmt.Errorf("stable.version_regex: %v", err))
			} else if re.NumSubexp() != 1 {
				errs = append(errs, errors.New("stable.version_regex needs exactly one capture group"))
			}
		}
	}
	if len(rc.Build.Command) == 0 {
		errs = append(errs, errors.New("build.command is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecipe, errors.Join(errs...))
	}
	return nil
}

// Version returns the release version: the explicit version if set, else
// the version regex capture from the tag, else the tag without "v".
func (rc *Recipe) Version() string {
	if rc.Stable == nil {
		return ""
	}
	if rc.Stable.Version != "" {
		return rc.Stable.Version
	}
	if rc.Stable.VersionRegex != "" {
		re, err := regexp.Compile(rc.Stable.VersionRegex)
		if err == nil {
			if m := re.FindStringSubmatch(rc.Stable.Tag); len(m) == 2 {
				return m[1]
			}
		}
	}
	return buildmeta.ReleaseID(rc.Stable.Tag)
}

// Request builds a metadata request for mode.
func (rc *Recipe) Request(mode buildmeta.Mode, target string) (buildmeta.Request, error) {
	req := buildmeta.Request{Mode: mode, Target: target}
	switch mode {
	case buildmeta.ModeRelease:
		if rc.Stable == nil {
			return req, fmt.Errorf("%w: %s has no stable source", buildmeta.ErrInvalidRequest, rc.Name)
		}
		req.Tag = rc.Stable.Tag
		req.Revision = rc.Stable.Revision
	case buildmeta.ModeDevelopment:
		if rc.Head == nil {
			return req, fmt.Errorf("%w: %s has no head source", buildmeta.ErrInvalidRequest, rc.Name)
		}
		req.Branch = rc.Head.Branch
	default:
		return req, fmt.Errorf("%w: unknown mode %q", buildmeta.ErrInvalidRequest, mode)
	}
	return req, nil
}
