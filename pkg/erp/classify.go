package erp

import (
	"errors"
	"net/http"
	"regexp"
)

// rejectionMarkers match ERP error bodies that mean the order itself was
// refused, in either language the backends answer in.
var rejectionMarkers = regexp.MustCompile(`(?i)recusou|rejeitou|invalid|invalido|rejected`)

// ClassifyHTTP decides whether an HTTP-level failure is definitive.
// 408 and 429 are temporary; every other 4xx is a rejection, as is any
// body matching the rejection markers.
func ClassifyHTTP(status int, body string) bool {
	if rejectionMarkers.MatchString(body) {
		return true
	}
	if status >= 400 && status < 500 {
		return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
	}
	return false
}

// IsDefinitive reports whether err is a definitive gateway failure.
func IsDefinitive(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Definitive || rejectionMarkers.MatchString(ge.Details)
	}
	return false
}
