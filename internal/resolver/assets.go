package resolver

import (
	"fmt"
	"strings"
	"time"
)

// ArchiveExtension is the extension of installable release assets
const ArchiveExtension = ".zip"

type asset struct {
	name string
	url  string
	size int64
}

// pickAsset returns the preferred asset (case-insensitive name match) or,
// without a preference, the first archive asset.
func pickAsset(assets []asset, preference string) (asset, bool) {
	preference = strings.TrimSpace(preference)
	if preference != "" {
		for _, a := range assets {
			if strings.EqualFold(a.name, preference) && a.url != "" {
				return a, true
			}
		}
		return asset{}, false
	}
	for _, a := range assets {
		if strings.HasSuffix(strings.ToLower(a.name), ArchiveExtension) && a.url != "" {
			return a, true
		}
	}
	return asset{}, false
}

// dateCommitVersion builds the YYYY-MM-DD-abcdef1 pseudo-version of a commit
func dateCommitVersion(committed time.Time, sha string) (string, error) {
	if committed.IsZero() {
		return "", fmt.Errorf("commit has no date")
	}
	if len(sha) < 7 {
		return "", fmt.Errorf("commit hash %q too short", sha)
	}
	return fmt.Sprintf("%s-%s", committed.UTC().Format("2006-01-02"), strings.ToLower(sha[:7])), nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func sizePtr(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}
