package nlu

import (
	"regexp"
	"sort"
)

// Built-in entity types.
const (
	EntityEmail  = "email"
	EntityURL    = "url"
	EntityNumber = "number"
)

var builtinExtractors = []struct {
	kind string
	re   *regexp.Regexp
}{
	// Order matters: numbers inside emails and URLs are not reported.
	{EntityEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{EntityURL, regexp.MustCompile(`https?://[^\s]+`)},
	{EntityNumber, regexp.MustCompile(`\b\d+(?:[.,]\d+)?\b`)},
}

func extractEntities(utterance string) []Entity {
	var found []Entity
	for _, ex := range builtinExtractors {
		for _, loc := range ex.re.FindAllStringIndex(utterance, -1) {
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, Entity{
				Type:  ex.kind,
				Value: utterance[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	return found
}

func overlaps(entities []Entity, start, end int) bool {
	for _, e := range entities {
		if start < e.End && e.Start < end {
			return true
		}
	}
	return false
}
