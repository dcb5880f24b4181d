// Package parse implements the extraction core of the voice diary pipeline:
// it turns a raw speech transcript into a typed, confidence-annotated entry
// draft with per-field evidence spans and review flags.
//
// Parsing is a fixed, ordered pipeline (entry classification → pain
// intensity → time → medications → note residual); each stage consumes the
// text spans it matched so later stages only see the residual. The engine
// never fails for data-quality problems — uncertainty is encoded in
// confidences and needsReview flags, not rejected.
package parse

// EntryType is the diary entry variant a transcript is classified as. It
// drives which remaining fields are meaningful.
type EntryType string

const (
	EntryPainEvent     EntryType = "pain-event"
	EntryLifestyleNote EntryType = "lifestyle-note"
	EntryVoiceNote     EntryType = "voice-note"
)

// Confidence tiers assigned by the extraction stages. An explicit numeric
// scale mention always outranks a qualitative descriptor, which outranks the
// caller-supplied default.
const (
	confidenceExplicit   = 0.95
	confidenceDescriptor = 0.75
	confidenceDefault    = 0.3

	confidenceTimeAbsolute = 0.9
	confidenceTimeRelative = 0.85
	confidenceTimeNow      = 0.6

	confidenceUnmatchedMedication = 0.4
)

// PainIntensity is the extracted pain score on the 0–10 scale.
type PainIntensity struct {
	Value      int     `json:"value"`
	Confidence float64 `json:"confidence"`

	// Evidence holds the literal transcript substrings that justified the
	// value, in match order.
	Evidence []string `json:"evidence,omitempty"`

	NeedsReview bool `json:"needsReview"`

	// FromDescriptor marks a value inferred from a qualitative word
	// ("stark") rather than an explicit number.
	FromDescriptor bool `json:"fromDescriptor"`
}

// TimeKind tags which payload shape of a [TimeRef] is populated.
type TimeKind string

const (
	TimeRelative TimeKind = "relative"
	TimeAbsolute TimeKind = "absolute"
	TimeNow      TimeKind = "now"
)

// TimeRef is the resolved event time. Exactly one payload shape is populated
// per Kind: RelativeMinutes for relative, Date/Time for absolute, IsNow for
// now.
type TimeRef struct {
	Kind TimeKind `json:"kind"`

	// RelativeMinutes is how many minutes before "now" the event happened.
	RelativeMinutes int `json:"relativeMinutes,omitempty"`

	// Date is the ISO calendar date (2006-01-02) for absolute references.
	Date string `json:"date,omitempty"`

	// Time is the wall-clock time (15:04) for absolute references. May be
	// empty when only a date was spoken.
	Time string `json:"time,omitempty"`

	IsNow bool `json:"isNow"`

	// DisplayText is a human-readable rendering for confirmation prompts,
	// computed once at parse time.
	DisplayText string `json:"displayText"`

	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Medication is one spoken medication mention. Unmatched names are retained
// with a nil MatchedUserMedicationID rather than dropped — silently losing
// spoken data is forbidden.
type Medication struct {
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needsReview"`

	// DoseQuarters is the dose in quarter-tablet units (half a tablet = 2).
	// Zero means no parseable dose was spoken.
	DoseQuarters int `json:"doseQuarters,omitempty"`

	// MatchedUserMedicationID references the user's known-medication list
	// entry this mention was matched against. Nil when no match cleared the
	// fuzzy threshold.
	MatchedUserMedicationID *string `json:"matchedUserMedicationId"`

	Evidence []string `json:"evidence,omitempty"`
}

// Result is the structured diary entry draft produced by [Parser.Parse].
type Result struct {
	EntryType     EntryType     `json:"entryType"`
	PainIntensity PainIntensity `json:"painIntensity"`
	Time          TimeRef       `json:"time"`
	Medications   []Medication  `json:"medications"`

	// Note is the residual free text after field extraction. Nil when
	// nothing remained.
	Note *string `json:"note"`

	// RawText is the untouched input transcript, always retained for audit.
	RawText string `json:"rawText"`

	// Confidence is the minimum of the constituent field confidences: one
	// badly-recognized critical field taints the whole draft.
	Confidence float64 `json:"confidence"`

	// NeedsReview is the OR of all per-field review flags.
	NeedsReview bool `json:"needsReview"`
}

// combine computes the overall confidence and review flag from the
// constituent fields and stores them on r.
func (r *Result) combine() {
	conf := r.PainIntensity.Confidence
	if r.Time.Confidence < conf {
		conf = r.Time.Confidence
	}
	for _, m := range r.Medications {
		if m.Confidence < conf {
			conf = m.Confidence
		}
	}
	r.Confidence = conf

	review := r.PainIntensity.NeedsReview
	for _, m := range r.Medications {
		review = review || m.NeedsReview
	}
	r.NeedsReview = review
}
