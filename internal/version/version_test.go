package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Class
	}{
		{"", ClassMissing},
		{"  ", ClassMissing},
		{"Unknown", ClassMissing},
		{"2025-01-01-abc1234", ClassDateCommit},
		{"2025-01-01-ABC1234", ClassDateCommit},
		{"2025-01-01-abc12345", ClassBranchLike},
		{"1.2", ClassSemantic},
		{"v1.2.3", ClassSemantic},
		{"10.0.2-beta1", ClassSemantic},
		{"1.2.3.4", ClassSemantic},
		{"main", ClassBranchLike},
		{"development", ClassBranchLike},
		{"r42", ClassBranchLike},
		{"release-candidate-build-2025", ClassOpaque},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.in), "Classify(%q)", tt.in)
	}
}

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		// Missing values
		{"", "1.0.0", true},
		{"Unknown", "main", true},
		{"1.0.0", "", false},
		{"", "", false},

		// Semantic
		{"1.2.3", "1.2.4", true},
		{"v1.2.3", "1.2.3", false},
		{"1.3.0", "1.2.9", false},
		{"1.2", "1.2.0", false},
		{"1.2", "1.2.1", true},
		{"v2.0.0-beta.1", "v2.0.0", true},
		{"1.2.3.4", "1.2.3.5", true},
		{"1.2.3.4", "1.2.3", false},
		{"9.2.0", "10.0.0", true},

		// Branches
		{"main", "master", false},
		{"master", "main", false},
		{"dev", "development", false},
		{"main", "develop", true},
		{"feature-x", "feature-x", false},
		{"feature-x", "feature-y", true},

		// Date-commit snapshots
		{"2025-01-01-abc1234", "2025-01-01-abc1234", false},
		{"2025-01-01-abc1234", "2025-01-02-def5678", true},
		{"2025-01-02-def5678", "2025-01-01-abc1234", false},
		{"2025-01-01-abc1234", "2025-01-01-fff9999", true},

		// Cross-tier transitions that must not flap
		{"2025-01-01-abc1234", "1.0.0", true},
		{"1.0.0", "2025-01-01-abc1234", false},
		{"main", "2025-01-01-abc1234", true},
		{"2025-01-01-abc1234", "main", false},
		{"1.0.0", "main", false},
		{"main", "1.0.0", true},

		// Opaque fallback
		{"release-candidate-build-2025", "vrelease-candidate-build-2025", false},
		{"release-candidate-build-2025", "release-candidate-build-2026", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeedsUpdate(tt.current, tt.latest), "NeedsUpdate(%q, %q)", tt.current, tt.latest)
	}
}

func TestNeedsUpdateIsReflexive(t *testing.T) {
	for _, v := range []string{
		"1.0", "v3.2.1", "1.2.3.4", "main", "feature", "2025-06-30-0a1b2c3",
		"some-very-long-opaque-version-string", "",
	} {
		assert.False(t, NeedsUpdate(v, v), "NeedsUpdate(%q, %q)", v, v)
	}
}

func TestCompareSemantic(t *testing.T) {
	assert.Equal(t, 0, CompareSemantic("v1.0.0", "1.0.0"))
	assert.Equal(t, -1, CompareSemantic("1.0.0", "1.0.1"))
	assert.Equal(t, 1, CompareSemantic("2.0", "1.99.99"))
	assert.Equal(t, 0, CompareSemantic("1.0", "1.0.0.0"))
}
