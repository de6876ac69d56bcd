package policy

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoDateHeader indicates the response carried no Date header, so age
// cannot be computed.
var ErrNoDateHeader = errors.New("policy: no Date header")

// Date parses the response's Date header.
func Date(h http.Header) (time.Time, error) {
	v := h.Get("Date")
	if v == "" {
		return time.Time{}, ErrNoDateHeader
	}
	return time.Parse(time.RFC1123, v)
}

// parseAgeHeader parses the Age response header per RFC 9111 §5.1: use
// the first value if duplicated, ignore entirely if negative or non-numeric.
func parseAgeHeader(h http.Header) (time.Duration, bool) {
	values := h.Values("Age")
	if len(values) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// CalculateAge implements the RFC 9111 §4.2.3 current_age algorithm.
// requestTime/responseTime are the engine's own observations of when the
// request was sent and the response received; both are optional (zero
// value), in which case a simplified Date-only calculation is used.
func CalculateAge(respHeaders http.Header, requestTime, responseTime, now time.Time) (time.Duration, error) {
	date, err := Date(respHeaders)
	if err != nil {
		return 0, err
	}

	if responseTime.IsZero() {
		age := now.Sub(date)
		if ageValue, ok := parseAgeHeader(respHeaders); ok {
			age += ageValue
		}
		return age, nil
	}

	apparentAge := time.Duration(0)
	if responseTime.After(date) {
		apparentAge = responseTime.Sub(date)
	}

	ageValue, _ := parseAgeHeader(respHeaders)

	responseDelay := time.Duration(0)
	if !requestTime.IsZero() && responseTime.After(requestTime) {
		responseDelay = responseTime.Sub(requestTime)
	}

	correctedAgeValue := ageValue + responseDelay
	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := now.Sub(responseTime)
	return correctedInitialAge + residentTime, nil
}

// FormatAge formats a duration as an Age header value (whole seconds,
// floored at zero).
func FormatAge(age time.Duration) string {
	seconds := int64(age.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatInt(seconds, 10)
}
