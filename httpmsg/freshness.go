package httpmsg

import "time"

// setExpireTime derives the expiration instant of the response, as an
// HTTP-date string. Rules, first match wins:
//
//  1. max-age with a Date header: Date + max-age.
//  2. An Expires header: its value verbatim.
//  3. must-revalidate with a Date header: Date itself.
//  4. Not no-store, with both Last-Modified and Date: heuristic expiration
//     at Date + (Date - Last-Modified)/10.
//
// Otherwise the expiration stays empty, which readers treat as already
// expired.
func (r *Response) setExpireTime() {
	date := r.Header(HeaderDate)

	if r.MaxAge > 0 && date != "" {
		if responseDate, err := ParseHTTPDate(date); err == nil {
			r.ExpireTime = FormatHTTPDate(responseDate.Add(time.Duration(r.MaxAge) * time.Second))
			return
		}
	}

	if expires := r.Header(HeaderExpires); expires != "" {
		r.ExpireTime = expires
		return
	}

	if r.MustRevalidate && date != "" {
		r.ExpireTime = date
		return
	}

	if r.CacheMode != ModeNoStore && date != "" {
		lastModified := r.Header(HeaderLastModified)
		if lastModified == "" {
			return
		}
		responseDate, err := ParseHTTPDate(date)
		if err != nil {
			return
		}
		modified, err := ParseHTTPDate(lastModified)
		if err != nil {
			return
		}
		heuristic := responseDate.Sub(modified) / 10
		r.ExpireTime = FormatHTTPDate(responseDate.Add(heuristic))
	}
}
