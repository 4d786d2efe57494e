package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Duration is a parsed ISO-8601 duration limited to the components the
// upstream actually emits. Calendar components (years, months) and absolute
// components (days, hours, minutes) advance differently; see AddTo.
type Duration struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
}

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?)?$`)

// ParseISODuration parses strings like PT15M, PT60M, P1D, P7D, P1M, P1Y and
// mixed forms like P1DT2H30M. A string that parses but carries only
// zero-valued components is rejected: a zero resolution cannot space points.
func ParseISODuration(s string) (Duration, error) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return Duration{}, fmt.Errorf("unparseable ISO-8601 duration %q", s)
	}
	atoi := func(v string) int {
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	d := Duration{
		Years:   atoi(m[1]),
		Months:  atoi(m[2]),
		Days:    atoi(m[3]),
		Hours:   atoi(m[4]),
		Minutes: atoi(m[5]),
	}
	if d.IsZero() {
		return Duration{}, fmt.Errorf("zero-valued duration %q", s)
	}
	return d, nil
}

func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0 && d.Hours == 0 && d.Minutes == 0
}

// Absolute returns the day/hour/minute portion as a fixed time.Duration.
func (d Duration) Absolute() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// AddTo advances t by n repetitions of the duration. Year and month
// components move through the calendar with month-end clamping (Jan 31 +
// P1M lands on the last day of February); day/hour/minute components are
// plain absolute offsets. Both apply when the duration mixes them.
func (d Duration) AddTo(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	out := t
	if d.Years != 0 || d.Months != 0 {
		out = addCalendar(out, n*d.Years, n*d.Months)
	}
	if abs := d.Absolute(); abs != 0 {
		out = out.Add(time.Duration(n) * abs)
	}
	return out
}

// addCalendar adds years and months with day-of-month clamping. time.AddDate
// is not used: it normalizes overflow (Jan 31 + 1 month = Mar 2/3), which is
// the wrong behavior for period spacing.
func addCalendar(t time.Time, years, months int) time.Time {
	y, m, day := t.Date()
	total := int(m) - 1 + months
	y2 := y + years + total/12
	m2 := total % 12
	if m2 < 0 {
		m2 += 12
		y2--
	}
	month := time.Month(m2 + 1)
	if last := daysIn(y2, month); day > last {
		day = last
	}
	return time.Date(y2, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
