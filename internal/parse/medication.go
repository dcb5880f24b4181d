package parse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/jhaensel/migralog/internal/phonetic"
)

// KnownMedication is one entry of the caller-supplied known-medication list.
type KnownMedication struct {
	ID   string
	Name string
}

// defaultFuzzyThreshold is the JaroWinkler score a known-medication match
// must clear. Tunable; validated against transcript corpora rather than
// derived.
const defaultFuzzyThreshold = 0.82

// Medication mention patterns. Names are letter runs of at least three
// characters so that stray particles don't qualify.
var (
	// "eine halbe Tablette Sumatriptan"
	doseTabletRe = regexp.MustCompile(`(?i)\b(?:eine?n?\s+)?(ganze|halbe|viertel|dreiviertel|drei\s+viertel)\s+tabletten?\s+([\p{L}][\p{L}-]{2,})`)

	// "2 Tabletten Ibuprofen"
	countTabletRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+tabletten?\s+([\p{L}][\p{L}-]{2,})`)

	// "Ibuprofen 400 mg"
	nameUnitRe = regexp.MustCompile(`(?i)\b([\p{L}][\p{L}-]{2,})\s+(\d+(?:[.,]\d+)?)\s*(mg|ml|µg|ug|einheiten)\b`)

	// "400 mg Ibuprofen"
	unitNameRe = regexp.MustCompile(`(?i)\b(\d+(?:[.,]\d+)?)\s*(mg|ml|µg|ug|einheiten)\s+([\p{L}][\p{L}-]{2,})\b`)

	// Free-standing candidate tokens for the known-list scan.
	tokenRe = regexp.MustCompile(`[\p{L}][\p{L}-]{3,}`)
)

// doseVocab converts spoken fractional doses into quarter-tablet units.
var doseVocab = map[string]int{
	"ganze":        4,
	"dreiviertel":  3,
	"drei viertel": 3,
	"halbe":        2,
	"viertel":      1,
}

// medStopwords are tokens that sit next to dose units in normal speech but
// are never medication names.
var medStopwords = map[string]struct{}{
	"ich": {}, "habe": {}, "hab": {}, "hatte": {}, "dann": {}, "noch": {},
	"eine": {}, "einen": {}, "einem": {}, "einer": {}, "genommen": {},
	"nehme": {}, "nahm": {}, "davon": {}, "dazu": {}, "heute": {},
	"gestern": {}, "und": {}, "mit": {}, "von": {}, "etwa": {}, "circa": {},
	"uhr": {}, "minuten": {}, "stunden": {}, "tablette": {}, "tabletten": {},
	"schmerzen": {}, "kopfschmerzen": {}, "migrane": {}, "wieder": {},
}

// extractMedications scans text for medication mentions, fuzzy-matches them
// against the known list, and returns the mentions plus the residual text.
// Below-threshold names are retained with a nil match ID and flagged for
// review instead of being dropped.
func extractMedications(text string, known []KnownMedication, threshold float64, matcher *phonetic.Matcher) ([]Medication, string) {
	if threshold <= 0 {
		threshold = defaultFuzzyThreshold
	}

	var meds []Medication
	var offsets []int
	seen := map[string]struct{}{}

	add := func(name, evidence string, doseQuarters, offset int) {
		key := foldKey(name)
		if _, dup := seen[key]; dup {
			return
		}
		m := resolveMedication(name, known, threshold, matcher)
		m.Evidence = []string{strings.TrimSpace(evidence)}
		if doseQuarters > 0 {
			m.DoseQuarters = doseQuarters
		}
		seen[key] = struct{}{}
		seen[foldKey(m.Name)] = struct{}{}
		meds = append(meds, m)
		offsets = append(offsets, offset)
	}

	// Dose-word tablet mentions: "eine halbe Tablette Sumatriptan".
	text = scanPattern(text, doseTabletRe, func(groups []string, evidence string, offset int) bool {
		dose := doseVocab[collapseSpaces(strings.ToLower(groups[0]))]
		name := groups[1]
		if isMedStopword(name) {
			return false
		}
		add(name, evidence, dose, offset)
		return true
	})

	// Counted tablet mentions: "2 Tabletten Ibuprofen".
	text = scanPattern(text, countTabletRe, func(groups []string, evidence string, offset int) bool {
		count, err := strconv.Atoi(groups[0])
		name := groups[1]
		if err != nil || count <= 0 || isMedStopword(name) {
			return false
		}
		add(name, evidence, count*4, offset)
		return true
	})

	// Unit-adjacent mentions, both orders.
	text = scanPattern(text, nameUnitRe, func(groups []string, evidence string, offset int) bool {
		name := groups[0]
		if isMedStopword(name) {
			return false
		}
		add(name, evidence, 0, offset)
		return true
	})
	text = scanPattern(text, unitNameRe, func(groups []string, evidence string, offset int) bool {
		name := groups[2]
		if isMedStopword(name) {
			return false
		}
		add(name, evidence, 0, offset)
		return true
	})

	// Known-list scan over the remaining tokens.
	for _, loc := range tokenRe.FindAllStringIndex(text, -1) {
		token := text[loc[0]:loc[1]]
		if isMedStopword(token) {
			continue
		}
		if _, dup := seen[foldKey(token)]; dup {
			text = consume(text, loc[0], loc[1]-loc[0])
			continue
		}
		if _, score, _ := bestKnownMatch(token, known); score >= threshold {
			add(token, token, 0, loc[0])
			text = consume(text, loc[0], loc[1]-loc[0])
		}
	}

	// Consuming a span blanks it without shifting indices, so offsets from
	// different passes share one coordinate space. Sort by them to restore
	// spoken order regardless of which pattern matched each mention.
	order := make([]int, len(meds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return offsets[order[i]] < offsets[order[j]]
	})
	sorted := make([]Medication, len(meds))
	for i, idx := range order {
		sorted[i] = meds[idx]
	}
	return sorted, text
}

// scanPattern repeatedly applies re to text, invoking fn with the submatch
// strings and the match's start offset. When fn accepts the match, the whole
// span is consumed.
func scanPattern(text string, re *regexp.Regexp, fn func(groups []string, evidence string, offset int) bool) string {
	from := 0
	for {
		loc := re.FindStringSubmatchIndex(text[from:])
		if loc == nil {
			return text
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += from
			}
		}
		groups := make([]string, 0, len(loc)/2-1)
		for i := 2; i < len(loc); i += 2 {
			if loc[i] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, text[loc[i]:loc[i+1]])
		}
		accepted := fn(groups, text[loc[0]:loc[1]], loc[0])
		if accepted {
			text = consume(text, loc[0], loc[1]-loc[0])
			from = loc[0] + (loc[1] - loc[0])
		} else {
			from = loc[1]
		}
		if from >= len(text) {
			return text
		}
	}
}

// resolveMedication fuzzy-matches a spoken name against the known list.
// Names the plain string comparison can't place get a second chance through
// the phonetic matcher, which tolerates the consonant swaps and word splits
// speech recognizers produce.
func resolveMedication(name string, known []KnownMedication, threshold float64, matcher *phonetic.Matcher) Medication {
	id, score, canonical := bestKnownMatch(name, known)
	if score >= threshold {
		matchedID := id
		return Medication{
			Name:                    canonical,
			Confidence:              score,
			MatchedUserMedicationID: &matchedID,
		}
	}

	if matcher != nil && len(known) > 0 {
		names := make([]string, len(known))
		for i, k := range known {
			names[i] = k.Name
		}
		if corrected, conf, ok := matcher.Match(name, names); ok {
			for _, k := range known {
				if k.Name != corrected {
					continue
				}
				matchedID := k.ID
				return Medication{
					Name:                    k.Name,
					Confidence:              conf,
					MatchedUserMedicationID: &matchedID,
				}
			}
		}
	}

	return Medication{
		Name:        name,
		Confidence:  confidenceUnmatchedMedication,
		NeedsReview: true,
	}
}

// bestKnownMatch returns the highest-scoring known medication for name.
// Scoring is JaroWinkler over case- and diacritic-folded strings; an exact
// folded match scores 1.0.
func bestKnownMatch(name string, known []KnownMedication) (id string, score float64, canonical string) {
	key := foldKey(name)
	for _, k := range known {
		kKey := foldKey(k.Name)
		var s float64
		if key == kKey {
			s = 1.0
		} else {
			s = matchr.JaroWinkler(key, kKey, false)
		}
		if s > score {
			id, score, canonical = k.ID, s, k.Name
		}
	}
	return id, score, canonical
}

func isMedStopword(token string) bool {
	_, ok := medStopwords[foldKey(token)]
	return ok
}
