package parse

import (
	"regexp"
	"strconv"
)

// Explicit numeric scale mentions: "8 von 10", "8/10", "acht von zehn" is
// out of scope (digits only), "Stärke 8".
var (
	numericScaleRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:von|auf|/)\s*(?:10|zehn)\b`)
	strengthRe     = regexp.MustCompile(`(?i)(stärke|intensität)\s*(\d{1,2})\b`)
)

// descriptorLadder maps qualitative German pain words onto the fixed numeric
// ladder. Ordered by priority: "sehr stark" must win over a bare "stark".
// The optional suffix group absorbs adjective inflection ("starke",
// "starken").
var descriptorLadder = []struct {
	re    *regexp.Regexp
	value int
}{
	{regexp.MustCompile(`(?i)\bsehr\s+stark(?:e[nmrs]?)?\b`), 9},
	{regexp.MustCompile(`(?i)\bsehr\s+schlimm(?:e[nmrs]?)?\b`), 9},
	{regexp.MustCompile(`(?i)\bstark(?:e[nmrs]?)?\b`), 7},
	{regexp.MustCompile(`(?i)\bschlimm(?:e[nmrs]?)?\b`), 7},
	{regexp.MustCompile(`(?i)\bmittelstark(?:e[nmrs]?)?\b`), 5},
	{regexp.MustCompile(`(?i)\bmittel\b`), 5},
	{regexp.MustCompile(`(?i)\bmäßig(?:e[nmrs]?)?\b`), 5},
	{regexp.MustCompile(`(?i)\bleicht(?:e[nmrs]?)?\b`), 2},
	{regexp.MustCompile(`(?i)\bschwach(?:e[nmrs]?)?\b`), 2},
}

// extractIntensity resolves the pain intensity from text and returns the
// field plus the residual text with the matched span consumed.
//
// Resolution order: explicit numeric scale (high confidence), qualitative
// descriptor (medium confidence, FromDescriptor), else the caller-supplied
// default flagged for review.
func extractIntensity(text string, defaultPain int) (PainIntensity, string) {
	if loc := numericScaleRe.FindStringSubmatchIndex(text); loc != nil {
		value, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err == nil && value >= 0 && value <= 10 {
			evidence := text[loc[0]:loc[1]]
			return PainIntensity{
				Value:      value,
				Confidence: confidenceExplicit,
				Evidence:   []string{evidence},
			}, consume(text, loc[0], loc[1]-loc[0])
		}
	}

	if loc := strengthRe.FindStringSubmatchIndex(text); loc != nil {
		value, err := strconv.Atoi(text[loc[4]:loc[5]])
		if err == nil && value >= 0 && value <= 10 {
			evidence := text[loc[0]:loc[1]]
			return PainIntensity{
				Value:      value,
				Confidence: confidenceExplicit,
				Evidence:   []string{evidence},
			}, consume(text, loc[0], loc[1]-loc[0])
		}
	}

	for _, d := range descriptorLadder {
		loc := d.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		evidence := text[loc[0]:loc[1]]
		return PainIntensity{
			Value:          d.value,
			Confidence:     confidenceDescriptor,
			Evidence:       []string{evidence},
			FromDescriptor: true,
		}, consume(text, loc[0], loc[1]-loc[0])
	}

	return PainIntensity{
		Value:       defaultPain,
		Confidence:  confidenceDefault,
		NeedsReview: true,
	}, text
}
