package models

import (
	"fmt"
	"strings"
	"time"
)

// DiscoveryTier identifies which resolution strategy produced an artifact
type DiscoveryTier int

const (
	TierReleaseAsset DiscoveryTier = iota
	TierReleaseArchiveFallback
	TierTag
	TierBranchHead
	TierWebScrape
)

// String returns the string representation of DiscoveryTier
func (t DiscoveryTier) String() string {
	switch t {
	case TierReleaseAsset:
		return "release-asset"
	case TierReleaseArchiveFallback:
		return "release-archive"
	case TierTag:
		return "tag"
	case TierBranchHead:
		return "branch-head"
	case TierWebScrape:
		return "web-scrape"
	default:
		return "unknown"
	}
}

// PlaceholderVersion is the version a redirect yields when it never resolved
// to a concrete release.
const PlaceholderVersion = "latest"

// ReleaseArtifact is a downloadable archive resolved for a repository
type ReleaseArtifact struct {
	VersionID   string
	DownloadURL string
	Tier        DiscoveryTier
	PublishedAt *time.Time
	SizeBytes   *int64
	AssetName   string
}

// Validate checks that the artifact is usable as a final resolution result
func (a ReleaseArtifact) Validate() error {
	v := strings.TrimSpace(a.VersionID)
	if v == "" {
		return fmt.Errorf("artifact has no version")
	}
	if strings.EqualFold(v, PlaceholderVersion) {
		return fmt.Errorf("artifact version %q is an unresolved placeholder", a.VersionID)
	}
	if strings.TrimSpace(a.DownloadURL) == "" {
		return fmt.Errorf("artifact %s has no download url", a.VersionID)
	}
	return nil
}

// DownloadPriority tells the resolver which discovery tiers to prefer
type DownloadPriority int

const (
	PreferReleases DownloadPriority = iota
	PreferCode
)

// String returns the string representation of DownloadPriority
func (p DownloadPriority) String() string {
	if p == PreferCode {
		return "code"
	}
	return "releases"
}

// MarshalText implements encoding.TextMarshaler
func (p DownloadPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *DownloadPriority) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "releases":
		*p = PreferReleases
	case "code":
		*p = PreferCode
	default:
		return fmt.Errorf("unknown download priority %q", string(text))
	}
	return nil
}
