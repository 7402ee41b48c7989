package httpmsg

import "time"

// httpDateLayout is the IMF-fixdate layout used in Date, Expires and
// Last-Modified headers.
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// ParseHTTPDate parses an HTTP-date string.
func ParseHTTPDate(value string) (time.Time, error) {
	return time.Parse(httpDateLayout, value)
}

// FormatHTTPDate formats t as an HTTP-date in UTC.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(httpDateLayout)
}
