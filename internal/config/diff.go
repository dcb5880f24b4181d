package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the parser and
// review tunables can be swapped between pipeline runs, while server and
// transcription changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ParserChanged bool
	ReviewChanged bool

	MedicationsChanged bool
	MedicationChanges  []MedicationDiff
}

// MedicationDiff describes what changed for a single known medication.
type MedicationDiff struct {
	Name    string
	Added   bool
	Removed bool
	Renamed bool
}

// HotReloadable reports whether the diff contains any change the running
// service can apply without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.ParserChanged || d.ReviewChanged || d.MedicationsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Parser.DefaultPain != new.Parser.DefaultPain ||
		old.Parser.FuzzyThreshold != new.Parser.FuzzyThreshold {
		d.ParserChanged = true
	}
	if old.Review != new.Review {
		d.ReviewChanged = true
	}

	// Medication lists are keyed by ID so renames are distinguishable from
	// remove+add pairs.
	oldMeds := make(map[string]MedicationConfig, len(old.Parser.Medications))
	for _, m := range old.Parser.Medications {
		oldMeds[m.ID] = m
	}
	newMeds := make(map[string]MedicationConfig, len(new.Parser.Medications))
	for _, m := range new.Parser.Medications {
		newMeds[m.ID] = m
	}

	for _, m := range old.Parser.Medications {
		after, exists := newMeds[m.ID]
		if !exists {
			d.MedicationChanges = append(d.MedicationChanges, MedicationDiff{Name: m.Name, Removed: true})
			d.MedicationsChanged = true
			continue
		}
		if after.Name != m.Name {
			d.MedicationChanges = append(d.MedicationChanges, MedicationDiff{Name: after.Name, Renamed: true})
			d.MedicationsChanged = true
		}
	}
	for _, m := range new.Parser.Medications {
		if _, exists := oldMeds[m.ID]; !exists {
			d.MedicationChanges = append(d.MedicationChanges, MedicationDiff{Name: m.Name, Added: true})
			d.MedicationsChanged = true
		}
	}

	return d
}
