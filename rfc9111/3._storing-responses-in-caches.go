package rfc9111

import "net/http"

// § 3.  Storing Responses in Caches
//
// Stored responses live until their generation is dropped, freshness is never calculated.
func mustNotStore(req *http.Request, res *http.Response) bool {
	resCacheControl := ParseCacheControl(res.Header.Values("Cache-Control"))
	// §    A cache MUST NOT store a response to a request unless:
	// §      *  the request method is understood by the cache;
	if !requestMethodIsUnderstood(req.Method) {
		return true
	}
	// §  *  the response status code is final (see Section 15 of [HTTP]);
	//
	// only successful responses are usable offline, errors are never stored
	if !responseStatusCodeIsUnderstood(res.StatusCode) {
		return true
	}
	// §  *  the no-store cache directive is not present in the response (see
	// §     Section 5.2.2.5);
	if resCacheControl.HasDirective("no-store") {
		return true
	}
	return false
}

// §  In this context, a cache has "understood" a request method or a
// §  response status code if it recognizes it and implements all specified
// §  caching-related behavior.

func requestMethodIsUnderstood(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// 206 is excluded since partial content is never combined.
func responseStatusCodeIsUnderstood(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299 && statusCode != http.StatusPartialContent
}
