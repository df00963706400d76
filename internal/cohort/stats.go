package cohort

import (
	"math"
	"strings"
)

// Stats is the display aggregation over a cohort's member profiles. All
// percentage buckets round independently; they are not renormalized to 100.
type Stats struct {
	TotalMembers    int            `json:"total_members"`
	AvgAge          int            `json:"avg_age"`
	MinAge          int            `json:"min_age"`
	MaxAge          int            `json:"max_age"`
	GeoMix          map[string]int `json:"geo_mix"`
	GenderMix       map[string]int `json:"gender_mix"`
	ProfessionMix   map[string]int `json:"profession_mix"`
	LookingForMix   map[string]int `json:"looking_for_mix"`
	AvailableForMix map[string]int `json:"available_for_mix"`
}

const (
	genderNotSpecified = "Not Specified"
	unknownCountry     = "Unknown"

	geoLocal  = "local"
	geoAbroad = "abroad"
)

// ComputeStats aggregates member profiles for a viewer's country context.
// Members with a missing age are excluded from the age figures entirely, not
// treated as zero.
func ComputeStats(members []MemberProfile, viewerCountry string) Stats {
	s := Stats{
		TotalMembers:    len(members),
		GeoMix:          map[string]int{},
		GenderMix:       map[string]int{},
		ProfessionMix:   map[string]int{},
		LookingForMix:   map[string]int{},
		AvailableForMix: map[string]int{},
	}
	if len(members) == 0 {
		return s
	}

	// Age.
	var (
		ageSum, aged int
		minAge       = math.MaxInt
		maxAge       = math.MinInt
	)
	for _, m := range members {
		if m.Age == nil {
			continue
		}
		aged++
		ageSum += *m.Age
		if *m.Age < minAge {
			minAge = *m.Age
		}
		if *m.Age > maxAge {
			maxAge = *m.Age
		}
	}
	if aged > 0 {
		s.AvgAge = roundPct(float64(ageSum), float64(aged))
		s.MinAge = minAge
		s.MaxAge = maxAge
	}

	// Geographic mix over members with a known country.
	var local, known int
	for _, m := range members {
		c := strings.TrimSpace(m.Country)
		if c == "" || c == unknownCountry {
			continue
		}
		known++
		if c == viewerCountry {
			local++
		}
	}
	if known > 0 {
		abroad := known - local
		if local > 0 {
			s.GeoMix[geoLocal] = pct(local, known)
			// The viewer's country is in the pool, so the abroad bucket is
			// reported even when it rounds to 0.
			s.GeoMix[geoAbroad] = pct(abroad, known)
		} else {
			s.GeoMix[geoAbroad] = pct(abroad, known)
		}
	}

	// Gender mix over all members; missing values bucket together.
	genders := map[string]int{}
	for _, m := range members {
		g := strings.TrimSpace(m.Gender)
		if g == "" {
			g = genderNotSpecified
		}
		genders[g]++
	}
	for g, n := range genders {
		s.GenderMix[g] = pct(n, len(members))
	}

	// Profession mix: only members who opted in; denominator is that subset.
	professions := map[string]int{}
	var shown int
	for _, m := range members {
		if !m.DisplayProfession {
			continue
		}
		p := strings.TrimSpace(m.Profession)
		if p == "" {
			continue
		}
		shown++
		professions[p]++
	}
	for p, n := range professions {
		s.ProfessionMix[p] = pct(n, shown)
	}

	s.LookingForMix = entryMix(members, func(m MemberProfile) []string { return m.LookingFor })
	s.AvailableForMix = entryMix(members, func(m MemberProfile) []string { return m.AvailableFor })
	return s
}

// entryMix flattens a list-of-strings field across the cohort and computes
// per-value shares of the total entry count.
func entryMix(members []MemberProfile, field func(MemberProfile) []string) map[string]int {
	counts := map[string]int{}
	total := 0
	for _, m := range members {
		for _, raw := range field(m) {
			v := strings.TrimSpace(raw)
			if v == "" {
				continue
			}
			counts[v]++
			total++
		}
	}
	mix := map[string]int{}
	for v, n := range counts {
		mix[v] = pct(n, total)
	}
	return mix
}

func pct(n, total int) int {
	return roundPct(float64(n)*100, float64(total))
}

func roundPct(num, den float64) int {
	if den == 0 {
		return 0
	}
	return int(math.Round(num / den))
}
