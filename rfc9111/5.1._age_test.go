package rfc9111

import (
	"net/http"
	"testing"
	"time"
)

func TestAgeListUsesFirstMember(t *testing.T) {
	res := &http.Response{Header: make(http.Header)}
	res.Header.Add("Age", "7200, 10")
	if age, ok := getAge(res); !ok || age != time.Second*7200 {
		t.Fatalf("Age is %v", age)
	}
}

func TestInvalidAgeIgnored(t *testing.T) {
	res := &http.Response{Header: make(http.Header)}
	res.Header.Add("Age", "7200;foo=bar")
	if age, ok := getAge(res); ok {
		t.Fatalf("Age is %v, should be ignored", age)
	}
}
