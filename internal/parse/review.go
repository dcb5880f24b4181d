package parse

// ReviewPolicy converts per-field confidences and flags into the final
// needsReview decision surfaced to the caller. Thresholds are tunable via
// configuration; the defaults are starting points meant to be validated
// against a labeled transcript corpus.
type ReviewPolicy struct {
	// MinFieldConfidence flags the draft when any extracted field scored
	// below this value, even if the field itself did not self-flag.
	MinFieldConfidence float64 `yaml:"min_field_confidence"`

	// MinOverallConfidence flags the draft when the combined confidence
	// falls below this value.
	MinOverallConfidence float64 `yaml:"min_overall_confidence"`
}

// DefaultReviewPolicy returns the default thresholds.
func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{
		MinFieldConfidence:   0.5,
		MinOverallConfidence: 0.55,
	}
}

// apply raises the draft's review flag according to the policy. Flags are
// monotone: apply never clears a flag a field already set.
func (p ReviewPolicy) apply(r *Result) {
	if r.PainIntensity.Confidence < p.MinFieldConfidence {
		r.NeedsReview = true
	}
	if r.Time.Confidence < p.MinFieldConfidence {
		r.NeedsReview = true
	}
	for _, m := range r.Medications {
		if m.Confidence < p.MinFieldConfidence {
			r.NeedsReview = true
		}
	}
	if r.Confidence < p.MinOverallConfidence {
		r.NeedsReview = true
	}
}
