package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrMethodNotSupported = errors.New("method not supported")

const methodSeparator = " "

// Keyer computes request identities: the method and the absolute URL.
type Keyer struct {
	// Base for resolving relative request URLs.
	// May be nil if all requests carry absolute URLs.
	Origin *url.URL
}

func NewKeyer(origin *url.URL) Keyer {
	return Keyer{Origin: origin}
}

// Retrieval reports whether requests with the method only retrieve.
// Only these are ever looked up in or written to a partition.
func Retrieval(method string) bool {
	return method == "" || method == http.MethodGet || method == http.MethodHead
}

// Key returns the identity of the request.
// HEAD and GET identities differ, since a HEAD response has no body.
func (k Keyer) Key(r *http.Request) (string, error) {
	if !Retrieval(r.Method) {
		return "", ErrMethodNotSupported
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	u, err := k.Resolve(r.URL)
	if err != nil {
		return "", err
	}
	return method + methodSeparator + u.String(), nil
}

// ForPath returns the identity of a GET request for the path,
// e.g. an entry of the precache manifest.
func (k Keyer) ForPath(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	u, err = k.Resolve(u)
	if err != nil {
		return "", err
	}
	return http.MethodGet + methodSeparator + u.String(), nil
}

// Resolve returns the absolute form of the URL, without fragment.
func (k Keyer) Resolve(u *url.URL) (*url.URL, error) {
	if u == nil {
		return nil, fmt.Errorf("missing url")
	}
	abs := *u
	if !abs.IsAbs() {
		if k.Origin == nil {
			return nil, fmt.Errorf("relative url %s without origin", u)
		}
		abs = *k.Origin.ResolveReference(u)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return &abs, nil
}

// SameOrigin reports whether the URL resolves to the keyer's origin.
func (k Keyer) SameOrigin(u *url.URL) bool {
	if k.Origin == nil {
		return !u.IsAbs()
	}
	abs, err := k.Resolve(u)
	if err != nil {
		return false
	}
	return strings.EqualFold(abs.Scheme, k.Origin.Scheme) && strings.EqualFold(abs.Host, k.Origin.Host)
}
