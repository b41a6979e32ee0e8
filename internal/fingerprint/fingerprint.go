// Package fingerprint canonicalizes a search-criteria tuple into a stable
// cache key. Two semantically equal criteria sets hash identically no matter
// how their inputs were ordered, cased or accented.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"jobscout/match-service/internal/model"
)

var knownLevels = map[string]bool{
	model.LevelStudent: true,
	model.LevelEntry:   true,
	model.LevelMid:     true,
	model.LevelSenior:  true,
	model.LevelLead:    true,
}

var employmentAliases = map[string]string{
	"fulltime":   model.EmploymentFullTime,
	"full-time":  model.EmploymentFullTime,
	"full time":  model.EmploymentFullTime,
	"parttime":   model.EmploymentPartTime,
	"part-time":  model.EmploymentPartTime,
	"part time":  model.EmploymentPartTime,
	"contract":   model.EmploymentContract,
	"contractor": model.EmploymentContract,
	"internship": model.EmploymentInternship,
	"intern":     model.EmploymentInternship,
}

// foldMarks strips combining marks after NFD decomposition, so "Café" and
// "cafe" normalize to the same token.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// New returns the hex-encoded SHA-256 fingerprint of the canonical form of
// the given criteria. Pure and total: malformed input is coerced into the
// canonical empty/"unspecified" form, never rejected.
func New(criteria model.SearchCriteria) string {
	c := Canonical(criteria)

	var b strings.Builder
	b.WriteString(strings.Join(c.Skills, ","))
	b.WriteByte('|')
	b.WriteString(c.ExperienceLevel)
	b.WriteByte('|')
	b.WriteString(c.Location)
	b.WriteByte('|')
	b.WriteString(c.EmploymentType)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the normalized form of the criteria: skill tokens
// lowercased, diacritic-folded, deduplicated and sorted; experience level
// and employment type mapped to their canonical buckets; location lowercased
// with collapsed whitespace.
func Canonical(criteria model.SearchCriteria) model.SearchCriteria {
	seen := make(map[string]bool, len(criteria.Skills))
	skills := make([]string, 0, len(criteria.Skills))
	for _, s := range criteria.Skills {
		tok := normalizeToken(s)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		skills = append(skills, tok)
	}
	sort.Strings(skills)

	return model.SearchCriteria{
		Skills:          skills,
		ExperienceLevel: canonicalLevel(criteria.ExperienceLevel),
		Location:        normalizeToken(criteria.Location),
		EmploymentType:  canonicalEmployment(criteria.EmploymentType),
	}
}

func canonicalLevel(level string) string {
	l := normalizeToken(level)
	if !knownLevels[l] {
		return model.LevelUnspecified
	}
	return l
}

func canonicalEmployment(et string) string {
	t := normalizeToken(et)
	if canonical, ok := employmentAliases[t]; ok {
		return canonical
	}
	return model.EmploymentUnspecified
}

// normalizeToken lowercases, folds diacritics and collapses whitespace.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(s), " ")
}
