package scanner

import (
	"sort"
	"strings"

	"github.com/ralt/addonsync/internal/models"
)

// RelationRule decides whether two folder names belong to one addon
type RelationRule struct {
	Name    string
	Related func(a, b string) bool
}

// DefaultRules are evaluated in order; the first match wins
var DefaultRules = []RelationRule{
	{Name: "exact", Related: exactName},
	{Name: "separator-suffix", Related: separatorSuffix},
	{Name: "component-suffix", Related: componentSuffix},
	{Name: "shared-words", Related: sharedWords},
}

// separators join the words of a folder name
const separators = "_- "

// minCommonPrefix is the shortest shared prefix componentSuffix accepts
const minCommonPrefix = 4

// componentWords are suffixes that name a part of a larger addon
var componentWords = map[string]bool{
	"core":     true,
	"options":  true,
	"config":   true,
	"locale":   true,
	"locales":  true,
	"merchant": true,
	"data":     true,
	"media":    true,
	"libs":     true,
	"plugins":  true,
	"settings": true,
}

// variantTokens name game-client flavors. Folders differing only by one of
// these are competing builds of one addon, not components of it.
var variantTokens = map[string]bool{
	"classic":  true,
	"vanilla":  true,
	"era":      true,
	"sod":      true,
	"tbc":      true,
	"bcc":      true,
	"wrath":    true,
	"wotlk":    true,
	"wotlkc":   true,
	"cata":     true,
	"mists":    true,
	"mop":      true,
	"mainline": true,
	"retail":   true,
}

func isSeparator(r rune) bool {
	return strings.ContainsRune(separators, r)
}

func words(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), isSeparator)
}

// isVariant reports whether every word of s is a variant token
func isVariant(s string) bool {
	ws := words(s)
	if len(ws) == 0 {
		return false
	}
	for _, w := range ws {
		if !variantTokens[w] {
			return false
		}
	}
	return true
}

func exactName(a, b string) bool {
	return strings.EqualFold(a, b)
}

// separatorSuffix matches "Foo" with "Foo_Options", "Foo-Merchant" or
// "Foo Data"
func separatorSuffix(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(long) < len(short)+2 || !strings.EqualFold(long[:len(short)], short) {
		return false
	}
	if !isSeparator(rune(long[len(short)])) {
		return false
	}
	suffix := strings.TrimLeft(long[len(short):], separators)
	return suffix != "" && !isVariant(suffix)
}

// componentSuffix matches names sharing a prefix of at least four
// characters whose remainders are both component words, e.g.
// "BigWigs_Core" and "BigWigs_Options"
func componentSuffix(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	common := 0
	for common < len(la) && common < len(lb) && la[common] == lb[common] {
		common++
	}

	for n := common; n >= minCommonPrefix; n-- {
		sa := strings.TrimLeft(la[n:], separators)
		sb := strings.TrimLeft(lb[n:], separators)
		if sa == sb {
			continue
		}
		if isVariant(sa) || isVariant(sb) {
			return false
		}
		if isComponent(sa) && isComponent(sb) {
			return true
		}
	}
	return false
}

// isComponent accepts a component word; the empty remainder is the base name
func isComponent(s string) bool {
	return s == "" || componentWords[s]
}

// sharedWords matches multi-word names sharing at least two meaningful words
// or all but one word, unless a word they differ by is a variant token
func sharedWords(a, b string) bool {
	wa, wb := words(a), words(b)
	if len(wa) < 2 || len(wb) < 2 {
		return false
	}

	inA := make(map[string]bool, len(wa))
	for _, w := range wa {
		inA[w] = true
	}
	inB := make(map[string]bool, len(wb))
	for _, w := range wb {
		inB[w] = true
	}

	shared, meaningful, distinctive := 0, 0, 0
	for w := range inA {
		if inB[w] {
			shared++
			if len(w) > 2 {
				meaningful++
			}
			if !componentWords[w] {
				distinctive++
			}
		}
	}
	for w := range inA {
		if !inB[w] && variantTokens[w] {
			return false
		}
	}
	for w := range inB {
		if !inA[w] && variantTokens[w] {
			return false
		}
	}

	largest := len(inA)
	if len(inB) > largest {
		largest = len(inB)
	}
	// A lone shared component word ("Config") says nothing about identity
	return meaningful >= 2 || (distinctive > 0 && shared >= largest-1)
}

// Related reports whether two folder names belong to one addon under rules
func Related(rules []RelationRule, a, b string) bool {
	for _, rule := range rules {
		if rule.Related(a, b) {
			return true
		}
	}
	return false
}

// Group merges entries that are components of one addon into a single
// grouped entry represented by the shortest folder name. The result is
// sorted by display title.
func Group(entries []models.ExistingEntry) []models.ExistingEntry {
	return GroupWith(DefaultRules, entries)
}

// GroupWith is Group with a custom rule list
func GroupWith(rules []RelationRule, entries []models.ExistingEntry) []models.ExistingEntry {
	sorted := make([]models.ExistingEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].FolderName) != len(sorted[j].FolderName) {
			return len(sorted[i].FolderName) < len(sorted[j].FolderName)
		}
		return sorted[i].FolderName < sorted[j].FolderName
	})

	grouped := make([]bool, len(sorted))
	var out []models.ExistingEntry
	for i := range sorted {
		if grouped[i] {
			continue
		}
		grouped[i] = true

		members := []int{i}
		for j := i + 1; j < len(sorted); j++ {
			if !grouped[j] && Related(rules, sorted[i].FolderName, sorted[j].FolderName) {
				grouped[j] = true
				members = append(members, j)
			}
		}

		if len(members) == 1 {
			out = append(out, sorted[i])
			continue
		}
		out = append(out, merge(sorted, members))
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := strings.ToLower(out[i].DisplayTitle()), strings.ToLower(out[j].DisplayTitle())
		if ti != tj {
			return ti < tj
		}
		return out[i].FolderName < out[j].FolderName
	})
	return out
}

func merge(entries []models.ExistingEntry, members []int) models.ExistingEntry {
	rep := entries[members[0]]
	merged := models.ExistingEntry{
		FolderName: rep.FolderName,
		Manifest:   rep.Manifest,
		ModTime:    rep.ModTime,
		IsGrouped:  true,
	}

	seen := make(map[models.RepositoryReference]bool)
	for _, idx := range members {
		e := entries[idx]
		merged.RelatedFolders = append(merged.RelatedFolders, e.FolderName)
		if e.ModTime.After(merged.ModTime) {
			merged.ModTime = e.ModTime
		}
		for _, ref := range e.SuggestedReferences {
			if !seen[ref] {
				seen[ref] = true
				merged.SuggestedReferences = append(merged.SuggestedReferences, ref)
			}
		}
	}
	return merged
}
