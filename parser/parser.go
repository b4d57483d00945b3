// Package parser pulls prices and dates out of loosely formatted text.
//
// The number rules below encode the exchange's mixed use of '.' and ','
// as decimal and grouping separators. They are heuristics tuned to quoted
// share prices, not a general number parser: "8.4" cannot be told apart
// from 8400 without knowing the instrument.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

// GroupingThreshold is the magnitude below which a separated value is
// assumed to be a misread thousands group.
const GroupingThreshold = 50.0

var (
	dateRe      = regexp.MustCompile(`(?:^|\D)(\d{1,2})\.(\d{1,2})\.(\d{4})(?:\D|$)`)
	separatedRe = regexp.MustCompile(`\d+[.,]\d+`)
	bareRe      = regexp.MustCompile(`\d+`)
	groupedRe   = regexp.MustCompile(`^\d{1,3}\.\d{3}$`)
)

// ExtractDate returns the first D.M.YYYY date in text.
func ExtractDate(text string) (models.Date, bool) {
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return models.Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	return models.Date{Day: day, Month: month, Year: year}, true
}

// ExtractNumber returns the first price-like value in text.
func ExtractNumber(text string) (float64, bool) {
	p, ok := ExtractPrice(text)
	if !ok {
		return 0, false
	}
	return p.Numeric, true
}

// ExtractPrice is ExtractNumber keeping the matched text.
func ExtractPrice(text string) (models.Price, bool) {
	raw := separatedRe.FindString(text)
	if raw == "" {
		// Whole numbers are quoted without separators.
		raw = bareRe.FindString(text)
		if raw == "" {
			return models.Price{}, false
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Price{}, false
		}
		return models.Price{Raw: raw, Numeric: value}, true
	}

	value, ok := normalize(raw)
	if !ok {
		return models.Price{}, false
	}
	return models.Price{Raw: raw, Numeric: value}, true
}

// normalize applies the grouping rules in order:
//
//	a) "d.ddd" shaped strings are grouped integers: 8.400 -> 8400
//	b) below the threshold with 1-3 fraction digits: x1000
//	c) below the threshold with more than 2 fraction digits: x1000
//
// (b) and (c) only see the fraction left after (a), so "0.045" is 45.
//
// Scaling shifts the decimal point instead of multiplying floats so that
// 1.020442 becomes exactly 1020.442.
func normalize(raw string) (float64, bool) {
	idx := strings.IndexAny(raw, ".,")
	if idx < 0 {
		return 0, false
	}
	fraction := len(raw) - idx - 1
	d := decimal{digits: raw[:idx] + raw[idx+1:], scale: fraction}

	if groupedRe.MatchString(raw) {
		// Rule (a) leaves no fractional part for (b) and (c) to act on.
		d.scale = 0
		fraction = 0
	}

	value, ok := d.float()
	if !ok {
		return 0, false
	}
	if value < GroupingThreshold && fraction >= 1 && fraction <= 3 {
		d.scale -= 3
		if value, ok = d.float(); !ok {
			return 0, false
		}
	}
	if value < GroupingThreshold && fraction > 2 {
		d.scale -= 3
		if value, ok = d.float(); !ok {
			return 0, false
		}
	}
	return value, true
}

// decimal is digits * 10^-scale.
type decimal struct {
	digits string
	scale  int
}

func (d decimal) float() (float64, bool) {
	digits := d.digits
	var text string
	switch {
	case d.scale <= 0:
		text = digits + strings.Repeat("0", -d.scale)
	default:
		if len(digits) <= d.scale {
			digits = strings.Repeat("0", d.scale-len(digits)+1) + digits
		}
		cut := len(digits) - d.scale
		text = digits[:cut] + "." + digits[cut:]
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
