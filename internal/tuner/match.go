package tuner

import (
	"fmt"
	"strconv"
	"strings"
)

// networkPrefixStoplist guards against a short, common first-word match
// misfiring (e.g. "SHOWTIME 2" for channel "2"), per spec §4.1 Step B.5.
var networkPrefixStoplist = map[string]struct{}{
	"the": {}, "fox": {}, "nbc": {}, "cbs": {}, "abc": {}, "cnn": {},
}

// channelMatchers returns the ordered set of label predicates for locating a
// channel's row in the guide DOM, per spec §4.1 Step B (highest priority
// first). Each predicate takes an already-lowercased, trimmed label.
func channelMatchers(name, number string, searchTerms []string) []func(label string) bool {
	var matchers []func(string) bool

	for _, term := range searchTerms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		matchers = append(matchers, func(label string) bool {
			return strings.Contains(label, t)
		})
	}

	if n := strings.TrimSpace(number); n != "" && isNumeric(n) {
		if len(n) <= 2 {
			padded := fmt.Sprintf(" %02s ", n)
			matchers = append(matchers, func(label string) bool {
				return strings.Contains(padOneLine(label), padded)
			})
		} else {
			padded := " " + n + " "
			matchers = append(matchers, func(label string) bool {
				return strings.Contains(padOneLine(label), padded)
			})
		}
	}

	fullName := strings.ToLower(strings.TrimSpace(name))
	if fullName != "" {
		matchers = append(matchers, func(label string) bool {
			return strings.Contains(label, fullName)
		})

		firstWord := fullName
		if idx := strings.IndexByte(fullName, ' '); idx >= 0 {
			firstWord = fullName[:idx]
		}
		if len(firstWord) > 3 {
			if _, stopped := networkPrefixStoplist[firstWord]; !stopped {
				matchers = append(matchers, func(label string) bool {
					return strings.Contains(label, firstWord)
				})
			}
		}
	}

	return matchers
}

// padOneLine wraps label with surrounding spaces so a plain strings.Contains
// on " NN " correctly matches labels where the number is the whole label or
// at either edge (matching the source's " 05 " vs " 502 " distinction).
func padOneLine(label string) string {
	return " " + strings.Join(strings.Fields(label), " ") + " "
}

// matchChannelLabel runs matchers in priority order against label, returning
// true on the first predicate that matches (ordered-priority, not best-of).
func matchChannelLabel(label string, matchers []func(string) bool) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	for _, m := range matchers {
		if m(l) {
			return true
		}
	}
	return false
}

// isNumeric reports whether s is entirely ASCII digits; used to validate
// channel numbers before they are embedded in matcher strings.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
