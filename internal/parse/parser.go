package parse

import (
	"strings"
	"time"

	"github.com/jhaensel/migralog/internal/phonetic"
)

// Option is a functional option for configuring a [Parser].
type Option func(*Parser)

// WithKnownMedications supplies the user's known-medication list used for
// fuzzy matching. Default: empty (every spoken medication stays unmatched
// and review-flagged).
func WithKnownMedications(meds []KnownMedication) Option {
	return func(p *Parser) {
		p.known = append([]KnownMedication(nil), meds...)
	}
}

// WithDefaultPain sets the intensity value used when the transcript contains
// no explicit or qualitative pain mention. Default: 5.
func WithDefaultPain(value int) Option {
	return func(p *Parser) {
		p.defaultPain = value
	}
}

// WithFuzzyThreshold overrides the JaroWinkler acceptance threshold for
// medication matching. Default: 0.82.
func WithFuzzyThreshold(threshold float64) Option {
	return func(p *Parser) {
		p.fuzzyThreshold = threshold
	}
}

// WithReviewPolicy overrides the review thresholds.
func WithReviewPolicy(pol ReviewPolicy) Option {
	return func(p *Parser) {
		p.review = pol
	}
}

// Parser is the extraction engine. It is read-only after construction and
// safe for concurrent use; parsing the same inputs twice yields identical
// results.
type Parser struct {
	known          []KnownMedication
	defaultPain    int
	fuzzyThreshold float64
	review         ReviewPolicy
	phonetics      *phonetic.Matcher
}

// New constructs a [Parser] with the supplied options.
func New(opts ...Option) *Parser {
	p := &Parser{
		defaultPain:    5,
		fuzzyThreshold: defaultFuzzyThreshold,
		review:         DefaultReviewPolicy(),
		phonetics:      phonetic.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse extracts a structured entry draft from transcript.
//
// sttConfidence is the optional recognizer confidence in (0,1]; zero means
// "not reported". now anchors relative and day-word time expressions; the
// zero value means [time.Now].
//
// Parse never fails: a malformed or empty transcript degrades to a
// review-flagged voice note carrying the raw text.
func (p *Parser) Parse(transcript string, sttConfidence float64, now time.Time) *Result {
	if now.IsZero() {
		now = time.Now()
	}

	r := &Result{RawText: transcript}

	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		r.EntryType = EntryVoiceNote
		r.PainIntensity = PainIntensity{
			Value:       p.defaultPain,
			Confidence:  confidenceDefault,
			NeedsReview: true,
		}
		r.Time = TimeRef{
			Kind:        TimeNow,
			IsNow:       true,
			DisplayText: "jetzt",
			Confidence:  confidenceTimeNow,
		}
		r.combine()
		p.review.apply(r)
		return r
	}

	r.EntryType = classifyEntry(trimmed, p.known)

	residual := trimmed
	r.PainIntensity, residual = extractIntensity(residual, p.defaultPain)
	r.Time, residual = resolveTime(residual, now)
	r.Medications, residual = extractMedications(residual, p.known, p.fuzzyThreshold, p.phonetics)

	// A transcript classified as a plain note can still turn out to carry
	// medication mentions; those make it a pain event after all.
	if r.EntryType == EntryVoiceNote && len(r.Medications) > 0 {
		r.EntryType = EntryPainEvent
	}

	if note := collapseSpaces(residual); note != "" {
		r.Note = &note
	}

	r.combine()
	if sttConfidence > 0 && sttConfidence < r.Confidence {
		r.Confidence = sttConfidence
	}
	p.review.apply(r)
	return r
}
