// Package temporal parses and emits timezone-aware UTC instants and
// performs exact ISO-8601 bucket/duration arithmetic on second integers.
// Arithmetic is exact on second integers; there is no floating-point time
// anywhere in this package.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrNaiveDatetime is returned when an input carries no explicit UTC
// offset. Naive or ambiguous inputs are rejected outright.
var ErrNaiveDatetime = fmt.Errorf("temporal: naive or ambiguous datetime")

// ParseInstant parses an RFC 3339 string with an explicit offset and
// returns the equivalent UTC instant. Inputs without a zone designator
// (no "Z" and no "+HH:MM"/"-HH:MM" suffix) are rejected.
func ParseInstant(s string) (time.Time, error) {
	if !hasExplicitOffset(s) {
		return time.Time{}, ErrNaiveDatetime
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("temporal: parse %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

var offsetRe = regexp.MustCompile(`(Z|[+-]\d{2}:\d{2})$`)

func hasExplicitOffset(s string) bool {
	return offsetRe.MatchString(s)
}

// FormatInstant formats a UTC instant as RFC 3339 with second precision
// unless sub-second precision is present, matching the canonicalizer's
// datetime rule.
func FormatInstant(t time.Time) string {
	u := t.UTC()
	if u.Nanosecond() == 0 {
		return u.Format("2006-01-02T15:04:05Z")
	}
	return u.Format(time.RFC3339Nano)
}

// FormatBucket emits the canonical truth-key bucket form
// "YYYY-MM-DDTHH:MMZ" (minute precision, no seconds).
func FormatBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04Z")
}

// durationRe matches the ISO-8601 duration subset this system needs:
// P[nD]T[nH][nM][nS] or PnD, covering the bucket durations claim
// examples use (PT1H, PT4H, P1D, ...). No calendar-month/year component is
// supported since bucket durations are always sub-month in this domain.
var durationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration parses an ISO-8601 duration into a time.Duration. No
// third-party ISO-8601 library exists anywhere in the retrieved example
// corpus (grep-confirmed); this hand-rolled parser is the one stdlib
// fallback in the canonical core, documented in DESIGN.md.
func ParseDuration(iso string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(iso)
	if m == nil || iso == "P" || iso == "" {
		return 0, fmt.Errorf("temporal: invalid ISO-8601 duration %q", iso)
	}
	days := parseIntOr0(m[1])
	hours := parseIntOr0(m[2])
	minutes := parseIntOr0(m[3])
	seconds := parseIntOr0(m[4])

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second

	if total == 0 {
		return 0, fmt.Errorf("temporal: zero-length ISO-8601 duration %q", iso)
	}
	return total, nil
}

func parseIntOr0(s string) int64 {
	if s == "" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Bucket truncates t to the start of the bucket of the given ISO-8601
// duration, counting from the Unix epoch so truncation is deterministic
// regardless of caller-local "day start" conventions.
func Bucket(t time.Time, isoDuration string) (time.Time, error) {
	d, err := ParseDuration(isoDuration)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("temporal: non-positive bucket duration %q", isoDuration)
	}
	u := t.UTC()
	epochSeconds := u.Unix()
	bucketSeconds := int64(d / time.Second)
	truncated := (epochSeconds / bucketSeconds) * bucketSeconds
	return time.Unix(truncated, 0).UTC(), nil
}
