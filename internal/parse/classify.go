package parse

import "strings"

// Lexical cue sets for entry-type classification. Matching runs on the
// case- and diacritic-folded transcript, so "Migräne" and "migraene" both
// hit the pain cues.
var (
	painCues = []string{
		"schmerz", "migrane", "weh", "aura", "pochen", "stechen",
		"hammern", "attacke",
	}
	medicationCues = []string{
		"tablette", "medikament", "ibuprofen", "mg ", "milligramm",
		"einheiten", "tropfen", "spritze",
	}
	lifestyleCues = []string{
		"geschlafen", "schlaf", "sport", "kaffee", "alkohol", "wein",
		"stress", "wetter", "periode", "zyklus", "gegessen", "trigger",
	}
)

// classifyEntry partitions the transcript into an entry type. Pain or
// medication vocabulary wins over lifestyle cues; a transcript matching
// neither is a plain voice note.
func classifyEntry(text string, known []KnownMedication) EntryType {
	folded := foldKey(text)

	if containsAny(folded, painCues) || containsAny(folded, medicationCues) || mentionsKnown(folded, known) {
		return EntryPainEvent
	}
	if containsAny(folded, lifestyleCues) {
		return EntryLifestyleNote
	}
	return EntryVoiceNote
}

func containsAny(folded string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(folded, cue) {
			return true
		}
	}
	return false
}

// mentionsKnown reports whether any known medication name appears verbatim
// (folded) in the transcript.
func mentionsKnown(folded string, known []KnownMedication) bool {
	for _, k := range known {
		if name := foldKey(k.Name); name != "" && strings.Contains(folded, name) {
			return true
		}
	}
	return false
}
