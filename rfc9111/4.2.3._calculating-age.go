package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.3.  Calculating Age
// §
// §     The Age header field is used to convey an estimated age of the
// §     response message when obtained from a cache.  The Age field value is
// §     the cache's estimate of the number of seconds since the origin server
// §     generated or validated the response.
// §
// §     Age calculation uses the following data:
// §
// §     "age_value"
// §        The term "age_value" denotes the value of the Age header field
// §        (Section 5.1), in a form appropriate for arithmetic operation; or
// §        0, if not available.
func age_value(res *http.Response) time.Duration {
	if age, present := getAge(res); present {
		return age
	}
	return 0
}

// §
// §     "date_value"
// §        The term "date_value" denotes the value of the Date header field,
// §        in a form appropriate for arithmetic operations.
//
// Responses without a usable Date are treated as generated when received.
func date_value(res *http.Response, responseTime time.Time) time.Time {
	if dateHeader := res.Header.Get("Date"); dateHeader != "" {
		if date, err := HttpDate(dateHeader); err == nil {
			return date
		}
	}
	return responseTime
}

// §
// §     "now"
// §        The term "now" means the current value of this implementation's
// §        clock (Section 5.6.7 of [HTTP]).
var now = time.Now

// §
// §     A response's age can be calculated in two entirely independent ways:
// §
// §     1.  the "apparent_age": response_time minus date_value, if the
// §         implementation's clock is reasonably well synchronized to the
// §         origin server's clock.  If the result is negative, the result is
// §         replaced by zero.
// §
// §     2.  the "corrected_age_value", if all of the caches along the
// §         response path implement HTTP/1.1 or greater.
// §
// §       apparent_age = max(0, response_time - date_value);
// §
// §       response_delay = response_time - request_time;
// §       corrected_age_value = age_value + response_delay;
// §
// §       corrected_initial_age = max(apparent_age, corrected_age_value);
// §
// §       resident_time = now - response_time;
// §       current_age = corrected_initial_age + resident_time;
func current_age(res *http.Response, responseTime, requestTime time.Time) time.Duration {
	apparentAge := durationMax(0, responseTime.Sub(date_value(res, responseTime)))
	responseDelay := durationMax(0, responseTime.Sub(requestTime))
	correctedAgeValue := age_value(res) + responseDelay
	correctedInitialAge := durationMax(apparentAge, correctedAgeValue)
	residentTime := now().Sub(responseTime)
	return correctedInitialAge + residentTime
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}
