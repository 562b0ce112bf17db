package buildmeta

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CommitSource answers version-control queries for a ref.
type CommitSource interface {
	// CommitTime returns the committer timestamp of ref in strict ISO-8601,
	// keeping the commit's own offset.
	CommitTime(ref string) (string, error)
	// ShortHash returns the abbreviated commit hash of ref.
	ShortHash(ref string) (string, error)
}

// PlatformSource reports the os/arch pair the toolchain builds for.
type PlatformSource interface {
	Platform(target string) (string, error)
}

// Resolver derives build metadata from repository and toolchain state.
type Resolver struct {
	commits  CommitSource
	platform PlatformSource
	log      zerolog.Logger
}

// NewResolver creates a new metadata resolver.
func NewResolver(commits CommitSource, platform PlatformSource, log zerolog.Logger) *Resolver {
	return &Resolver{
		commits:  commits,
		platform: platform,
		log:      log,
	}
}

// Resolve derives metadata for req. The commit timestamp is mandatory: when it
// cannot be read the error matches ErrMetadataUnavailable and no wall-clock
// value is substituted.
func (r *Resolver) Resolve(req Request) (*Metadata, error) {
	ref, err := targetRef(req)
	if err != nil {
		return nil, err
	}

	r.log.Debug().Str("mode", string(req.Mode)).Str("ref", ref).Msg("resolving build metadata")

	raw, err := r.commits.CommitTime(ref)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}
	buildTime, err := NormalizeTime(raw)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}

	var buildID string
	switch req.Mode {
	case ModeRelease:
		buildID = ReleaseID(req.Tag)
	case ModeDevelopment:
		buildID = r.developmentID(ref)
	}

	host, err := r.platform.Platform(req.Target)
	if err != nil {
		return nil, fmt.Errorf("resolving build host: %w", err)
	}

	meta := &Metadata{
		BuildID:   buildID,
		BuildTime: buildTime,
		BuildHost: host,
	}
	r.log.Debug().
		Str("build_id", meta.BuildID).
		Str("build_time", meta.BuildTime).
		Str("build_host", meta.BuildHost).
		Msg("resolved build metadata")

	return meta, nil
}

func (r *Resolver) developmentID(ref string) string {
	hash, err := r.commits.ShortHash(ref)
	hash = strings.TrimSpace(hash)
	if err != nil || hash == "" {
		r.log.Warn().Err(err).Str("ref", ref).Msg("short hash unavailable, using placeholder")
		return DevelopmentID
	}
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return hash
}

func targetRef(req Request) (string, error) {
	switch req.Mode {
	case ModeRelease:
		if req.Tag == "" {
			return "", fmt.Errorf("%w: release build needs a tag", ErrInvalidRequest)
		}
		if req.Revision != "" {
			return req.Revision, nil
		}
		return req.Tag, nil
	case ModeDevelopment:
		if req.Branch != "" {
			return req.Branch, nil
		}
		return "HEAD", nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
}

// ReleaseID strips a leading "v" from a release tag.
func ReleaseID(tag string) string {
	return strings.TrimPrefix(tag, "v")
}

// NormalizeTime parses an ISO-8601 timestamp with any offset and formats it
// in UTC with a trailing "Z".
func NormalizeTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty commit timestamp")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", fmt.Errorf("parsing commit timestamp %q: %w", raw, err)
	}
	return t.UTC().Format(TimeLayout), nil
}
