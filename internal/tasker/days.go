package tasker

import (
	"strings"
	"time"
)

// DaySet is a set of weekdays, bit 0 = Monday .. bit 6 = Sunday, plus the
// EveryOtherDay flag in bit 7.
//
// The empty set means every day: an omitted or unparseable day field leaves a
// schedule unrestricted rather than silently disabling it.
type DaySet uint8

const (
	Monday DaySet = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	// EveryOtherDay matches dates whose day number since 1970-01-01 is even.
	// Combined with weekdays it widens the set: a date matches if either
	// part does.
	EveryOtherDay

	AllDays  DaySet = 0x7F
	Weekdays        = Monday | Tuesday | Wednesday | Thursday | Friday
	Weekend         = Saturday | Sunday
)

var dayAbbrev = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// dayIndex maps accepted single-day spellings to a bit index.
var dayIndex = map[string]int{
	"mon": 0, "monday": 0, "1": 0,
	"tue": 1, "tuesday": 1, "2": 1,
	"wed": 2, "wednesday": 2, "3": 2,
	"thu": 3, "thursday": 3, "4": 3,
	"fri": 4, "friday": 4, "5": 4,
	"sat": 5, "saturday": 5, "6": 5,
	"sun": 6, "sunday": 6, "7": 6,
}

// dayKeywords are whole-set shorthands. odd/even follow the Monday=0 index
// parity: odd = Tue,Thu,Sat and even = Mon,Wed,Fri,Sun.
var dayKeywords = map[string]DaySet{
	"all":      AllDays,
	"daily":    AllDays,
	"everyday": AllDays,
	"weekdays": Weekdays,
	"weekday":  Weekdays,
	"weekend":  Weekend,
	"weekends": Weekend,
	"odd":      Tuesday | Thursday | Saturday,
	"even":     Monday | Wednesday | Friday | Sunday,
	"eod":      EveryOtherDay,
}

// DayOf returns the single-day set for w.
func DayOf(w time.Weekday) DaySet {
	return 1 << ((int(w) + 6) % 7)
}

func (d DaySet) IsEmpty() bool { return d == 0 }

// Contains reports whether weekday w is in the set. An empty set contains
// every day. The EveryOtherDay flag is ignored; use Matches for a date.
func (d DaySet) Contains(w time.Weekday) bool {
	if d.IsEmpty() {
		return true
	}
	return d&DayOf(w) != 0
}

// Matches reports whether the calendar date of t, in t's location, is in
// the set.
func (d DaySet) Matches(t time.Time) bool {
	if d.IsEmpty() {
		return true
	}
	if d&EveryOtherDay != 0 && civilDay(t)%2 == 0 {
		return true
	}
	return d&DayOf(t.Weekday()) != 0
}

func (d DaySet) String() string {
	if d.IsEmpty() || d&AllDays == AllDays {
		return "every day"
	}
	parts := make([]string, 0, 8)
	for i := 0; i < 7; i++ {
		if d&(1<<i) != 0 {
			parts = append(parts, dayAbbrev[i])
		}
	}
	if d&EveryOtherDay != 0 {
		parts = append(parts, "every other day")
	}
	return strings.Join(parts, ",")
}

// ParseDays parses a day-of-week field.
//
// Accepted tokens, case-insensitive, separated by commas, semicolons or
// whitespace: full names, 3-letter abbreviations, numbers 1-7 (1 = Monday),
// ranges such as "mon-fri" or "1-5", and the keywords all, daily, weekdays,
// weekend, odd, even and eod (every other day). Unknown tokens are skipped
// and returned as ParseErrors. An empty result means every day.
func ParseDays(text string) (DaySet, []*ParseError) {
	var (
		set  DaySet
		errs []*ParseError
	)
	for _, tok := range splitFields(text) {
		bits, reason := parseDayToken(strings.ToLower(tok))
		if reason != "" {
			errs = append(errs, &ParseError{Field: "days", Token: tok, Reason: reason})
			continue
		}
		set |= bits
	}
	return set, errs
}

func parseDayToken(tok string) (DaySet, string) {
	if bits, ok := dayKeywords[tok]; ok {
		return bits, ""
	}
	if i, ok := dayIndex[tok]; ok {
		return 1 << i, ""
	}
	from, to, found := strings.Cut(tok, "-")
	if !found {
		return 0, "unknown day"
	}
	a, okA := dayIndex[from]
	b, okB := dayIndex[to]
	if !okA || !okB {
		return 0, "unknown day in range"
	}
	if a > b {
		return 0, "range start is after end"
	}
	var bits DaySet
	for i := a; i <= b; i++ {
		bits |= 1 << i
	}
	return bits, ""
}
