package match

import (
	"strings"

	"jobscout/match-service/internal/model"
)

// dropRedFlagged removes postings containing any of the candidate's
// exclusion terms (case-insensitive) in title, company or description.
func dropRedFlagged(jobs []model.Job, redFlags []string) []model.Job {
	terms := make([]string, 0, len(redFlags))
	for _, flag := range redFlags {
		if f := strings.ToLower(strings.TrimSpace(flag)); f != "" {
			terms = append(terms, f)
		}
	}
	if len(terms) == 0 {
		return jobs
	}

	kept := jobs[:0:0]
	for _, j := range jobs {
		if !matchesAnyTerm(j, terms) {
			kept = append(kept, j)
		}
	}
	return kept
}

// matchesAnyTerm expects terms already lowercased and non-empty.
func matchesAnyTerm(j model.Job, terms []string) bool {
	for _, field := range []string{j.Title, j.Company, j.Description} {
		haystack := strings.ToLower(field)
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				return true
			}
		}
	}
	return false
}
