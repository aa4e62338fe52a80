package param

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Interval is a numeric range such as "[0,10]", "(0,1]" or "[0,*)".
// A "*" or empty bound is open.
type Interval struct {
	Min, Max       float64
	MinIncluded    bool
	MaxIncluded    bool
	HasMin, HasMax bool
}

func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return Interval{}, fmt.Errorf("interval %q: too short", s)
	}
	var iv Interval
	switch s[0] {
	case '[':
		iv.MinIncluded = true
	case '(':
	default:
		return Interval{}, fmt.Errorf("interval %q: must start with '[' or '('", s)
	}
	switch s[len(s)-1] {
	case ']':
		iv.MaxIncluded = true
	case ')':
	default:
		return Interval{}, fmt.Errorf("interval %q: must end with ']' or ')'", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("interval %q: want two bounds", s)
	}
	var err error
	if iv.Min, iv.HasMin, err = parseBound(parts[0], math.Inf(-1)); err != nil {
		return Interval{}, fmt.Errorf("interval %q: min: %w", s, err)
	}
	if iv.Max, iv.HasMax, err = parseBound(parts[1], math.Inf(1)); err != nil {
		return Interval{}, fmt.Errorf("interval %q: max: %w", s, err)
	}
	if iv.HasMin && iv.HasMax && iv.Min > iv.Max {
		return Interval{}, fmt.Errorf("interval %q: min > max", s)
	}
	return iv, nil
}

func parseBound(s string, open float64) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return open, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

func (iv Interval) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if iv.HasMin {
		if v < iv.Min || (!iv.MinIncluded && v == iv.Min) {
			return false
		}
	}
	if iv.HasMax {
		if v > iv.Max || (!iv.MaxIncluded && v == iv.Max) {
			return false
		}
	}
	return true
}

func (iv Interval) String() string {
	var b strings.Builder
	if iv.MinIncluded {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if iv.HasMin {
		b.WriteString(strconv.FormatFloat(iv.Min, 'g', -1, 64))
	} else {
		b.WriteByte('*')
	}
	b.WriteByte(',')
	if iv.HasMax {
		b.WriteString(strconv.FormatFloat(iv.Max, 'g', -1, 64))
	} else {
		b.WriteByte('*')
	}
	if iv.MaxIncluded {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}
