package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform identifies a supported code-hosting platform
type Platform int

const (
	PlatformGitHub Platform = iota
	PlatformGitLab
)

// String returns the string representation of Platform
func (p Platform) String() string {
	switch p {
	case PlatformGitHub:
		return "github"
	case PlatformGitLab:
		return "gitlab"
	default:
		return "unknown"
	}
}

// Host returns the public web host of the platform
func (p Platform) Host() string {
	switch p {
	case PlatformGitHub:
		return "github.com"
	case PlatformGitLab:
		return "gitlab.com"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Platform) MarshalText() ([]byte, error) {
	if p != PlatformGitHub && p != PlatformGitLab {
		return nil, fmt.Errorf("unknown platform %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Platform) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "github":
		*p = PlatformGitHub
	case "gitlab":
		*p = PlatformGitLab
	default:
		return fmt.Errorf("unknown platform %q", string(text))
	}
	return nil
}

// RepositoryReference is the normalized identity of a hosted repository
type RepositoryReference struct {
	Platform Platform `json:"platform"`
	Owner    string   `json:"owner"`
	Name     string   `json:"name"`
}

// String returns the canonical web URL of the repository
func (r RepositoryReference) String() string {
	return fmt.Sprintf("https://%s/%s/%s", r.Platform.Host(), r.Owner, r.Name)
}

// Slug returns "owner/name"
func (r RepositoryReference) Slug() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the reference is unset
func (r RepositoryReference) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

var platformHosts = map[string]Platform{
	"github.com":     PlatformGitHub,
	"www.github.com": PlatformGitHub,
	"gitlab.com":     PlatformGitLab,
	"www.gitlab.com": PlatformGitLab,
}

// ParseReference parses a repository URL into a RepositoryReference.
// Only github.com and gitlab.com URLs with at least owner and name path
// segments are accepted; extra segments are ignored.
func ParseReference(raw string) (RepositoryReference, error) {
	invalid := func(reason string) (RepositoryReference, error) {
		return RepositoryReference{}, NewError(ErrInvalidReference, raw, fmt.Errorf("%s", reason))
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return invalid("empty reference")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return invalid(fmt.Sprintf("malformed url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url must use http or https")
	}

	platform, ok := platformHosts[strings.ToLower(u.Hostname())]
	if !ok {
		return invalid(fmt.Sprintf("unsupported host %q", u.Hostname()))
	}
	if u.Port() != "" {
		return invalid(fmt.Sprintf("unsupported host %q", u.Host))
	}

	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return invalid("url must include owner and repository name")
	}

	name := strings.TrimSuffix(segments[1], ".git")
	if name == "" || segments[0] == "-" {
		return invalid("url must include owner and repository name")
	}

	return RepositoryReference{
		Platform: platform,
		Owner:    segments[0],
		Name:     name,
	}, nil
}
