package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var amountNoise = strings.NewReplacer(",", "", "₹", "", "$", "", "INR", "", "Rs.", "", "Rs", "", "/-", "", " ", "")

func parseAmount(value string) (float64, bool) {
	cleaned := amountNoise.Replace(strings.TrimSpace(value))
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var marksPattern = regexp.MustCompile(`^(\d{1,3}(?:\.\d+)?)\s*(%|percent|cgpa)?$`)

// plausibleMarks accepts a percentage in [0,100] or a CGPA in [0,10].
func plausibleMarks(value string) bool {
	m := marksPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(value)))
	if m == nil {
		return false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	if m[2] == "cgpa" {
		return n >= 0 && n <= 10
	}
	return n >= 0 && n <= 100
}

func plausibleYear(value string, now time.Time) bool {
	y, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return y >= 1950 && y <= now.Year()
}

func isTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}

func normalizeIdentifier(value string) string {
	var sb strings.Builder
	for _, r := range value {
		if r != ' ' && r != '-' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
