package exposure

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A Rational is how EXIF stores a shutter speed: 1/500 is {1, 500}.
type Rational [2]int64

// Seconds returns the exposure duration, num/den.
func (r Rational) Seconds() (float64, error) {
	switch {
	case r[1] == 0:
		return 0, fmt.Errorf("%w: zero denominator in %d/%d", ErrMetadataMalformed, r[0], r[1])
	case r[0] < 0 || r[1] < 0:
		return 0, fmt.Errorf("%w: negative component in %d/%d", ErrMetadataMalformed, r[0], r[1])
	case r[0] == 0:
		return 0, fmt.Errorf("%w: zero exposure %d/%d", ErrMetadataMalformed, r[0], r[1])
	}
	return float64(r[0]) / float64(r[1]), nil
}

func (r Rational) String() string {
	if r[1] == 1 {
		return fmt.Sprintf("%d", r[0])
	}
	return fmt.Sprintf("%d/%d", r[0], r[1])
}

// ParseRational accepts the forms exiftool prints an ExposureTime in:
// "1/250", "0.5", "2".
func ParseRational(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMetadataMalformed)
	}

	if strings.Contains(s, "/") {
		r, err := ParseFraction(s)
		if err != nil {
			return 0, err
		}
		return r.Seconds()
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMetadataMalformed, s, err)
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: exposure %q out of range", ErrMetadataMalformed, s)
	}
	return f, nil
}

// ParseFraction parses a shutter speed written as a fraction, "1/250", or
// as whole seconds, "2".
func ParseFraction(s string) (Rational, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		den = "1"
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("%w: numerator %q: %v", ErrMetadataMalformed, num, err)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("%w: denominator %q: %v", ErrMetadataMalformed, den, err)
	}
	r := Rational{n, d}
	if _, err := r.Seconds(); err != nil {
		return Rational{}, err
	}
	return r, nil
}

// Distinct counts how many different exposure times are in the list.
// Two times count as the same if they differ by less than a part in 1e9.
func Distinct(times []float64) int {
	n := 0
	for i, t := range times {
		seen := false
		for _, prev := range times[:i] {
			if math.Abs(t-prev) <= 1e-9*math.Max(math.Abs(t), math.Abs(prev)) {
				seen = true
				break
			}
		}
		if !seen {
			n++
		}
	}
	return n
}
