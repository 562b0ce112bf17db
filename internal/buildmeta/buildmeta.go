package buildmeta

import (
	"errors"
	"fmt"
)

// TimeLayout is the UTC layout used for BuildTime.
const TimeLayout = "2006-01-02T15:04:05Z"

// DevelopmentID is used as the build id when a development commit has no short hash.
const DevelopmentID = "head"

// Mode selects how the target commit is chosen.
type Mode string

const (
	ModeRelease     Mode = "release"
	ModeDevelopment Mode = "development"
)

// ParseMode maps a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRelease, ModeDevelopment:
		return Mode(s), nil
	case "head", "dev":
		return ModeDevelopment, nil
	case "stable", "":
		return ModeRelease, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

// Metadata holds the values passed to an external build.
type Metadata struct {
	BuildID   string `json:"build_id" yaml:"build_id"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	BuildHost string `json:"build_host" yaml:"build_host"`
}

// Env returns the metadata as KEY=value pairs in a fixed order.
func (m Metadata) Env() []string {
	return []string{
		"BUILD_ID=" + m.BuildID,
		"BUILD_TIME=" + m.BuildTime,
		"BUILD_HOST=" + m.BuildHost,
	}
}

// Request describes what to resolve.
type Request struct {
	Mode     Mode
	Tag      string // release tag, e.g. "v0.15.0"
	Revision string // pinned commit for release builds
	Branch   string // tracked branch for development builds; empty means HEAD
	Target   string // explicit "os/arch" cross target, optional
}

var (
	// ErrMetadataUnavailable means the commit timestamp could not be resolved.
	ErrMetadataUnavailable = errors.New("build metadata unavailable")
	// ErrInvalidRequest means the request cannot be resolved as given.
	ErrInvalidRequest = errors.New("invalid build request")
)

// UnavailableError wraps the failure that made metadata unavailable.
type UnavailableError struct {
	Ref string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("build metadata unavailable for %s: %v", e.Ref, e.Err)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrMetadataUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
