package appointment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday, "miercoles": time.Wednesday,
	"jueves": time.Thursday, "viernes": time.Friday, "sabado": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var monthNames = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March, "abril": time.April,
	"mayo": time.May, "junio": time.June, "julio": time.July, "agosto": time.August,
	"septiembre": time.September, "setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var (
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})(?:[/\-.](\d{2}|\d{4}))?\b`)
	namedDateRe   = regexp.MustCompile(`\b(\d{1,2}) de ([a-z]+)(?: (?:de|del) (\d{4}))?\b`)
	nextRe        = regexp.MustCompile(`\b(proximo|proxima|siguiente|next)\b`)
	wordRe        = regexp.MustCompile(`[a-z]+`)
)

// ParseDate interprets a user-supplied day relative to now, in loc.
//
// Accepted: "hoy"/"today", "mañana"/"tomorrow", "pasado mañana", weekday names
// optionally preceded by "próximo"/"next", "DD/MM[/YYYY]" and "D de <mes>".
// A plain weekday is its next occurrence including today; with "next" it is
// strictly after today. A day-month without a year that already passed rolls
// over to next year. The result is midnight of the parsed day.
func ParseDate(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	t := normalize(text)

	if strings.Contains(t, "pasado manana") || strings.Contains(t, "day after tomorrow") {
		return today.AddDate(0, 0, 2), true
	}

	if m := numericDateRe.FindStringSubmatch(t); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return resolveDayMonth(today, day, time.Month(month), m[3], loc)
	}

	if m := namedDateRe.FindStringSubmatch(t); m != nil {
		if month, ok := monthNames[m[2]]; ok {
			day, _ := strconv.Atoi(m[1])
			return resolveDayMonth(today, day, month, m[3], loc)
		}
	}

	for _, word := range wordRe.FindAllString(t, -1) {
		wd, ok := weekdayNames[word]
		if !ok {
			continue
		}
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if ahead == 0 && nextRe.MatchString(t) {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true
	}

	// "mañana" also means "morning", so it only applies when no day was named.
	switch {
	case containsWord(t, "manana") || containsWord(t, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case containsWord(t, "hoy") || containsWord(t, "today"):
		return today, true
	}

	return time.Time{}, false
}

func resolveDayMonth(today time.Time, day int, month time.Month, yearText string, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}

	year := today.Year()
	explicitYear := yearText != ""
	if explicitYear {
		y, err := strconv.Atoi(yearText)
		if err != nil {
			return time.Time{}, false
		}
		if y < 100 {
			y += 2000
		}
		year = y
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if date.Day() != day {
		// time.Date normalized an impossible day such as 31/04.
		return time.Time{}, false
	}
	if date.Before(today) {
		if explicitYear {
			return time.Time{}, false
		}
		date = time.Date(year+1, month, day, 0, 0, 0, 0, loc)
		if date.Day() != day {
			return time.Time{}, false
		}
	}
	return date, true
}

func containsWord(text, word string) bool {
	for _, w := range wordRe.FindAllString(text, -1) {
		if w == word {
			return true
		}
	}
	return false
}
