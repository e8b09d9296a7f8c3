package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.  Age values are calculated as specified in
// §     Section 4.2.3.
// §
// §       Age = delta-seconds
// §
// §     Although it is defined as a singleton header field, a cache
// §     encountering a message with a list-based Age field value SHOULD use
// §     the first member of the field value, discarding subsequent ones.
// §
// §     If the field value (after discarding additional members, as per
// §     above) is invalid (e.g., it contains something other than a non-
// §     negative integer), a cache SHOULD ignore the field.
func getAge(res *http.Response) (time.Duration, bool) {
	secondsStr := res.Header.Get("Age")
	if secondsStr == "" {
		return 0, false
	}
	first, _, _ := strings.Cut(secondsStr, ",")
	first = strings.TrimSpace(first)
	for _, c := range first {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	if first == "" {
		return 0, false
	}
	return deltaSeconds(first), true
}
