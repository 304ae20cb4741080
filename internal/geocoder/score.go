package geocoder

import (
	"strings"

	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// Score weights for candidate matching. A formatted-address hit dominates a
// postal-code hit, which dominates a locality hit; list position only breaks
// ties between otherwise identical candidates.
const (
	scoreLocalityMatch = 100
	scoreZipMatch      = 1000
	scoreAddressMatch  = 10000
)

// bestMatch picks the highest-scoring candidate for the snapshot. Candidates
// are bucketed by score; by default a later candidate with the same score
// displaces an earlier one, which mirrors the behavior the stored accuracy
// data was built on. keepFirst switches collisions to first-wins.
func bestMatch(candidates []geocode.Candidate, snap model.Snapshot, keepFirst bool) geocode.Candidate {
	if len(candidates) == 0 {
		return geocode.Candidate{}
	}

	wantZip := model.NormalizeZip(snap.ZipCode)
	wantAddr := stripNonAlnum(snap.AddressLine)

	byScore := make(map[int]geocode.Candidate, len(candidates))
	best := 0
	first := true
	for i, c := range candidates {
		score := -i
		if snap.City != "" && strings.EqualFold(c.Locality, snap.City) {
			score += scoreLocalityMatch
		}
		if wantZip != "" && model.NormalizeZip(c.PostalCode) == wantZip {
			score += scoreZipMatch
		}
		if wantAddr != "" && strings.Contains(stripNonAlnum(c.FormattedAddress), wantAddr) {
			score += scoreAddressMatch
		}

		if _, taken := byScore[score]; taken && keepFirst {
			continue
		}
		byScore[score] = c

		if first || score > best {
			best = score
			first = false
		}
	}

	return byScore[best]
}

// stripNonAlnum lowercases s and removes everything that is not a letter or
// digit, so "123 Main St." and "123 MAIN ST" compare equal.
func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
