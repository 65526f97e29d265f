// Package version decides whether an installed version identifier should be
// replaced by the latest one. Identifiers come from different discovery tiers
// (release tags, commit snapshots, branch names), so they are classified
// before they are compared.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ralt/addonsync/internal/models"
)

// Class is the shape of a version identifier
type Class int

const (
	ClassMissing Class = iota
	ClassDateCommit
	ClassSemantic
	ClassBranchLike
	ClassOpaque
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassMissing:
		return "missing"
	case ClassDateCommit:
		return "date-commit"
	case ClassSemantic:
		return "semantic"
	case ClassBranchLike:
		return "branch"
	default:
		return "opaque"
	}
}

var (
	dateCommitPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-([0-9a-fA-F]{7})$`)
	semanticPattern   = regexp.MustCompile(`^[vV]?\d+\.\d+(\.\d+)?`)
	leadingDigits     = regexp.MustCompile(`^\d+`)
)

// branchNames are always BranchLike regardless of length
var branchNames = map[string]bool{
	"main":        true,
	"master":      true,
	"develop":     true,
	"development": true,
	"dev":         true,
}

// branchSynonyms maps equivalent branch names onto one canonical name
var branchSynonyms = map[string]string{
	"main":        "main",
	"master":      "main",
	"develop":     "develop",
	"development": "develop",
	"dev":         "develop",
}

// maxBranchLength is the length below which an unclassified string is
// assumed to be a branch label
const maxBranchLength = 20

func isMissing(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == models.Unknown
}

// Classify returns the class of a version identifier
func Classify(v string) Class {
	v = strings.TrimSpace(v)
	switch {
	case isMissing(v):
		return ClassMissing
	case dateCommitPattern.MatchString(v):
		return ClassDateCommit
	case semanticPattern.MatchString(v):
		return ClassSemantic
	case branchNames[strings.ToLower(v)] || len(v) < maxBranchLength:
		return ClassBranchLike
	default:
		return ClassOpaque
	}
}

// NeedsUpdate reports whether latest should replace current
func NeedsUpdate(current, latest string) bool {
	current = strings.TrimSpace(current)
	latest = strings.TrimSpace(latest)
	cc, lc := Classify(current), Classify(latest)

	switch {
	case cc == ClassMissing:
		return lc != ClassMissing
	case lc == ClassMissing:
		return false

	case cc == ClassDateCommit && lc == ClassDateCommit:
		cm := dateCommitPattern.FindStringSubmatch(current)
		lm := dateCommitPattern.FindStringSubmatch(latest)
		if cm[1] != lm[1] {
			return cm[1] < lm[1]
		}
		// Same day, different commit
		return !strings.EqualFold(cm[2], lm[2])

	// A tagged release supersedes a commit snapshot, never the reverse
	case cc == ClassDateCommit && lc == ClassSemantic:
		return true
	case cc == ClassSemantic && lc == ClassDateCommit:
		return false

	case cc == ClassBranchLike && lc == ClassDateCommit:
		return true
	case cc == ClassDateCommit && lc == ClassBranchLike:
		return false
	case cc == ClassSemantic && lc == ClassBranchLike:
		return false

	case cc == ClassBranchLike && lc == ClassBranchLike:
		return !sameBranch(current, latest)

	case cc == ClassSemantic && lc == ClassSemantic:
		return CompareSemantic(current, latest) < 0

	case cc == ClassBranchLike && lc == ClassSemantic:
		return true
	}

	return stripV(current) != stripV(latest)
}

func sameBranch(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	ca, okA := branchSynonyms[a]
	cb, okB := branchSynonyms[b]
	return okA && okB && ca == cb
}

func stripV(v string) string {
	if len(v) > 0 && (v[0] == 'v' || v[0] == 'V') {
		return v[1:]
	}
	return v
}

// CompareSemantic compares two Semantic identifiers, returning -1, 0 or 1.
// Strict semver is compared with precedence rules; anything else falls back
// to a component-wise integer comparison with missing components as 0.
func CompareSemantic(a, b string) int {
	va, errA := semver.StrictNewVersion(stripV(a))
	vb, errB := semver.StrictNewVersion(stripV(b))
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareComponents(stripV(a), stripV(b))
}

func compareComponents(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		x, y := component(pa, i), component(pb, i)
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	digits := leadingDigits.FindString(parts[i])
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
