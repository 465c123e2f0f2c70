package scrape

import "strings"

// primaryProviderToken identifies the host's first-party CDN; candidates
// served from it are preferred over third-party mirrors.
const primaryProviderToken = "kwik"

// Select picks one candidate. AV1 sources are dropped unless nothing else
// remains (downstream tooling handles them poorly); audio and resolution
// preferences restrict the set only when at least one candidate matches. The
// site orders qualities ascending, so ties resolve to the last survivor,
// preferring the last one hosted by the primary provider.
func Select(candidates []Candidate, audio, resolution string) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.AV1 {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		filtered = candidates
	}

	filtered = restrict(filtered, func(c Candidate) bool { return c.Audio == audio }, audio)
	filtered = restrict(filtered, func(c Candidate) bool { return c.Resolution == resolution }, resolution)

	for i := len(filtered) - 1; i >= 0; i-- {
		if strings.Contains(filtered[i].Src, primaryProviderToken) {
			return filtered[i], true
		}
	}
	return filtered[len(filtered)-1], true
}

// restrict narrows candidates to those matching the predicate, keeping the
// original set when the preference is empty or nothing matches.
func restrict(candidates []Candidate, match func(Candidate) bool, pref string) []Candidate {
	if pref == "" {
		return candidates
	}
	matched := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if match(c) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return candidates
	}
	return matched
}
