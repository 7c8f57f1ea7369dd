// Package pickup implements the point-of-sale pickup sub-workflow:
// patient matching, scan verification, signature and ID capture,
// counseling and payment gating.
package pickup

import (
	"sort"
	"strings"
	"time"
)

// Patient is a candidate record from the patient store.
type Patient struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	DOB       time.Time `json:"dob"`
	Phone     string    `json:"phone,omitempty"`
}

// SearchCriteria is a retail pickup search. Prefixes shorter than two
// characters require the explicit short-name override.
type SearchCriteria struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	DOB            *time.Time `json:"dob,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	AllowShortName bool       `json:"allow_short_name"`
}

// ValidateRetailSearch returns the list of input problems with a search.
// An empty list means the search may run.
func ValidateRetailSearch(c SearchCriteria) []string {
	var errs []string

	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)

	if first == "" && last == "" && c.Phone == "" {
		errs = append(errs, "Enter a patient name or phone number to search")
	}
	if !c.AllowShortName {
		if len(first) == 1 {
			errs = append(errs, "First name search requires at least 2 characters")
		}
		if len(last) == 1 {
			errs = append(errs, "Last name search requires at least 2 characters")
		}
	}
	if c.DOB == nil && first != "" && last != "" {
		errs = append(errs, "Date of birth is required for a name search")
	}

	return errs
}

// Match is a scored search hit.
type Match struct {
	Patient Patient `json:"patient"`
	Score   int     `json:"score"`
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}

// MatchPatients filters candidates by first/last-name prefix and exact
// date-of-birth, then scores hits: 50 base for the DOB match, 10 per
// supplied prefix character, 15 bonus per exact full-name match and 20
// for a phone substring match. A search without a DOB is anchored by
// the phone instead, so a phone-only lookup still finds the patient.
// Results sort by score descending.
func MatchPatients(c SearchCriteria, candidates []Patient) []Match {
	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)

	var matches []Match
	for _, p := range candidates {
		if c.DOB != nil {
			if !sameDate(p.DOB, *c.DOB) {
				continue
			}
		} else if c.Phone == "" || !strings.Contains(p.Phone, c.Phone) {
			continue
		}
		if first != "" && !hasPrefixFold(p.FirstName, first) {
			continue
		}
		if last != "" && !hasPrefixFold(p.LastName, last) {
			continue
		}

		score := 0
		if c.DOB != nil {
			score += 50
		}
		score += 10 * len(first)
		score += 10 * len(last)
		if first != "" && strings.EqualFold(p.FirstName, first) {
			score += 15
		}
		if last != "" && strings.EqualFold(p.LastName, last) {
			score += 15
		}
		if c.Phone != "" && strings.Contains(p.Phone, c.Phone) {
			score += 20
		}

		matches = append(matches, Match{Patient: p, Score: score})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	return matches
}
