package rfc9111

import (
	"net/http"
	"time"
)

// MustNotStore returns a boolean indicating if a particular origin response
// MUST NOT be stored in a partition.
//
// The response may be a "real" response from e.g. http.Client.Do(), OR a Response
// struct with at least Header, StatusCode and Request (with Method) set.
func MustNotStore(originResponse *http.Response) bool {
	if originResponse == nil || originResponse.Request == nil || originResponse.StatusCode == 0 {
		return true
	}
	if originResponse.Header == nil {
		originResponse.Header = make(http.Header)
	}
	return mustNotStore(originResponse.Request, originResponse)
}

// AddAgeHeader adds the Age header to the response, as mandated by the standard.
// It directly mutates the response headers.
//
// §     When a stored response is used to satisfy a request without
// §     validation, a cache MUST generate an Age header field (Section 5.1),
// §     replacing any present in the response with a value equal to the
// §     stored response's current_age; see Section 4.2.3.
func AddAgeHeader(storedResponse *http.Response, responseTime, requestTime time.Time) {
	age := current_age(storedResponse, responseTime, requestTime)
	storedResponse.Header.Set("Age", toDeltaSeconds(age))
}
