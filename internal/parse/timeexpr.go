package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// clockRe matches spoken clock times: "um 14:30", "um 14 Uhr 30",
	// "14:30 Uhr", "um 14 Uhr".
	clockRe = regexp.MustCompile(`(?i)\b(?:um\s+)?(\d{1,2})(?::(\d{2}))\b(?:\s*uhr)?|\b(?:um\s+)?(\d{1,2})\s*uhr(?:\s+(\d{1,2})\b)?`)

	// dateRe matches numeric dates: "am 12.03.", "12.03.2026".
	dateRe = regexp.MustCompile(`(?i)\b(?:am\s+)?(\d{1,2})\.(\d{1,2})\.(\d{4})?`)

	// relativeRe matches "vor 20 Minuten", "vor zwei Stunden".
	relativeRe = regexp.MustCompile(`(?i)\bvor\s+(\d+|[a-zäöüß]+)\s+(minuten?|stunden?)\b`)

	// halfHourRe matches the idiomatic "vor einer halben Stunde".
	halfHourRe = regexp.MustCompile(`(?i)\bvor\s+einer\s+halben\s+stunde\b`)
)

// dayWords maps spoken day references onto day offsets from today.
var dayWords = []struct {
	word   string
	offset int
}{
	{"vorgestern", -2},
	{"gestern", -1},
	{"heute", 0},
}

// numberWords maps spelled-out German numbers used in relative time
// expressions.
var numberWords = map[string]int{
	"einer": 1, "einem": 1, "eine": 1, "ein": 1,
	"zwei": 2, "drei": 3, "vier": 4, "fünf": 5,
	"sechs": 6, "sieben": 7, "acht": 8, "neun": 9,
	"zehn": 10, "fünfzehn": 15, "zwanzig": 20,
	"dreißig": 30, "vierzig": 40, "fünfzig": 50, "sechzig": 60,
}

// resolveTime resolves the event time from text relative to now and returns
// the field plus the residual text with consumed spans blanked.
//
// Detection order follows the confidence tiers: explicit absolute
// date/time patterns first, then relative expressions, then the "now"
// default.
func resolveTime(text string, now time.Time) (TimeRef, string) {
	if ref, residual, ok := resolveAbsolute(text, now); ok {
		return ref, residual
	}
	if ref, residual, ok := resolveRelative(text); ok {
		return ref, residual
	}
	return TimeRef{
		Kind:        TimeNow,
		IsNow:       true,
		DisplayText: "jetzt",
		Confidence:  confidenceTimeNow,
	}, text
}

// resolveAbsolute looks for day words, explicit dates, and clock times. Any
// combination yields one absolute reference ("gestern um 14 Uhr" consumes
// both spans).
func resolveAbsolute(text string, now time.Time) (TimeRef, string, bool) {
	var (
		evidence []string
		date     string
		clock    string
		found    bool
	)
	lower := strings.ToLower(text)

	for _, dw := range dayWords {
		idx := findPhrase(lower, dw.word)
		if idx < 0 {
			continue
		}
		evidence = append(evidence, text[idx:idx+len(dw.word)])
		date = now.AddDate(0, 0, dw.offset).Format("2006-01-02")
		text = consume(text, idx, len(dw.word))
		found = true
		break
	}

	if loc := dateRe.FindStringSubmatchIndex(text); loc != nil {
		day, _ := strconv.Atoi(text[loc[2]:loc[3]])
		month, _ := strconv.Atoi(text[loc[4]:loc[5]])
		if day >= 1 && day <= 31 && month >= 1 && month <= 12 {
			year := now.Year()
			if loc[6] >= 0 {
				year, _ = strconv.Atoi(text[loc[6]:loc[7]])
			}
			evidence = append(evidence, strings.TrimSpace(text[loc[0]:loc[1]]))
			date = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
			text = consume(text, loc[0], loc[1]-loc[0])
			found = true
		}
	}

	if loc := clockRe.FindStringSubmatchIndex(text); loc != nil {
		hour, minute, ok := clockFromMatch(text, loc)
		if ok {
			evidence = append(evidence, strings.TrimSpace(text[loc[0]:loc[1]]))
			clock = fmt.Sprintf("%02d:%02d", hour, minute)
			text = consume(text, loc[0], loc[1]-loc[0])
			found = true
		}
	}

	if !found {
		return TimeRef{}, text, false
	}
	if date == "" {
		date = now.Format("2006-01-02")
	}

	ref := TimeRef{
		Kind:       TimeAbsolute,
		Date:       date,
		Time:       clock,
		Confidence: confidenceTimeAbsolute,
		Evidence:   evidence,
	}
	ref.DisplayText = displayAbsolute(ref)
	return ref, text, true
}

// clockFromMatch extracts hour and minute from a clockRe match, handling
// both the "14:30" and the "14 Uhr 30" alternations.
func clockFromMatch(text string, loc []int) (hour, minute int, ok bool) {
	pick := func(i int) (int, bool) {
		if loc[2*i] < 0 {
			return 0, false
		}
		n, err := strconv.Atoi(text[loc[2*i]:loc[2*i+1]])
		return n, err == nil
	}

	if h, hok := pick(1); hok {
		m, _ := pick(2)
		if h <= 23 && m <= 59 {
			return h, m, true
		}
		return 0, 0, false
	}
	if h, hok := pick(3); hok {
		m, _ := pick(4)
		if h <= 23 && m <= 59 {
			return h, m, true
		}
	}
	return 0, 0, false
}

// resolveRelative looks for "vor N Minuten/Stunden" style expressions.
func resolveRelative(text string) (TimeRef, string, bool) {
	if loc := halfHourRe.FindStringIndex(text); loc != nil {
		ref := TimeRef{
			Kind:            TimeRelative,
			RelativeMinutes: 30,
			Confidence:      confidenceTimeRelative,
			Evidence:        []string{text[loc[0]:loc[1]]},
			DisplayText:     "vor 30 Minuten",
		}
		return ref, consume(text, loc[0], loc[1]-loc[0]), true
	}

	loc := relativeRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return TimeRef{}, text, false
	}

	amountText := strings.ToLower(text[loc[2]:loc[3]])
	amount, err := strconv.Atoi(amountText)
	if err != nil {
		var known bool
		amount, known = numberWords[amountText], numberWords[amountText] != 0
		if !known {
			return TimeRef{}, text, false
		}
	}

	minutes := amount
	if strings.HasPrefix(strings.ToLower(text[loc[4]:loc[5]]), "stunde") {
		minutes = amount * 60
	}

	ref := TimeRef{
		Kind:            TimeRelative,
		RelativeMinutes: minutes,
		Confidence:      confidenceTimeRelative,
		Evidence:        []string{text[loc[0]:loc[1]]},
		DisplayText:     fmt.Sprintf("vor %d Minuten", minutes),
	}
	return ref, consume(text, loc[0], loc[1]-loc[0]), true
}

// displayAbsolute renders an absolute reference for confirmation prompts.
func displayAbsolute(ref TimeRef) string {
	t, err := time.Parse("2006-01-02", ref.Date)
	if err != nil {
		return ref.Date
	}
	day := t.Format("02.01.2006")
	if ref.Time == "" {
		return "am " + day
	}
	return fmt.Sprintf("am %s um %s Uhr", day, ref.Time)
}
