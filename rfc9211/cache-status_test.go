package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	cases := []struct {
		status   func() CacheStatus
		expected string
	}{
		{func() CacheStatus {
			cs := CacheStatus{}
			cs.Hit()
			cs.Detail = "runtime"
			return cs
		}, "ShellCache; hit; detail=runtime"},
		{func() CacheStatus {
			cs := CacheStatus{}
			cs.Forward(FwdReasonUriMiss)
			cs.FwdStatus = 200
			cs.Stored = true
			return cs
		}, "ShellCache; fwd=uri-miss; fwd-status=200; stored"},
		{func() CacheStatus {
			cs := CacheStatus{}
			cs.Forward(FwdReasonMethod)
			return cs
		}, "ShellCache; fwd=method"},
	}
	for _, c := range cases {
		if s := c.status().String(); s != c.expected {
			t.Fatalf("Cache-Status is '%s', expected '%s'", s, c.expected)
		}
	}
}
